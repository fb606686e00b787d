package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ConnectionHooks are invoked from transport goroutines. Implementations must
// hand the work over to the mesh loop instead of touching session state.
type ConnectionHooks struct {
	// OnICECandidate receives locally gathered candidates.
	OnICECandidate func(webrtc.ICECandidateInit)
	// OnTrack fires for each inbound remote track; ctx ends with the connection.
	OnTrack func(ctx context.Context, track *webrtc.TrackRemote)
	// OnFailed fires once when the transport gives up on the connection.
	OnFailed func()
}

// MediaTransport creates peer connections. Codec choice, congestion control
// and NAT traversal live behind it.
type MediaTransport interface {
	NewConnection(ctx context.Context, hooks ConnectionHooks) (MediaConnection, error)
}

type MediaConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// Close should stop all underlying media resources. Safe to call twice.
	Close() error
}

// AudioConstraints mirror the capture settings the original client asked for.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
}

func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       48000,
		ChannelCount:     1,
	}
}

// MediaCapture hands out the process-wide local audio source.
type MediaCapture interface {
	Acquire(ctx context.Context, c AudioConstraints) (LocalAudio, error)
	Release(LocalAudio)
}

// LocalAudio is shared read-only by every peer connection; only the mute
// controller flips Enabled.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	Enabled() bool
	SetEnabled(bool)
	// FrequencyData fills dst with the current byte spectrum (0..255 per bin)
	// and returns the number of bins written.
	FrequencyData(dst []byte) int
	// Bins is the number of frequency bins FrequencyData produces.
	Bins() int
}

// Playback consumes inbound remote audio. Device output is out of scope; the
// default implementation drains packets so the receiver keeps flowing.
type Playback interface {
	Play(ctx context.Context, remote domain.UserID, track *webrtc.TrackRemote)
}
