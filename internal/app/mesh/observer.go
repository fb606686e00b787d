package mesh

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

// Observer receives membership and activity notifications. Calls are made
// from the mesh loop and must not block.
type Observer interface {
	OnUserJoined(domain.UserID)
	OnUserLeft(domain.UserID)
	// OnUserConnected fires once per media connection, on its first remote
	// track.
	OnUserConnected(domain.UserID)
	// OnVoiceActivity sees both local and remote reports.
	OnVoiceActivity(protocol.VoiceActivity)
	// OnPeerFailed carries a *core.RenegotiationExhaustedError; the rest of
	// the mesh is unaffected.
	OnPeerFailed(error)
	OnError(error)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) OnUserJoined(domain.UserID)             {}
func (NopObserver) OnUserLeft(domain.UserID)               {}
func (NopObserver) OnUserConnected(domain.UserID)          {}
func (NopObserver) OnVoiceActivity(protocol.VoiceActivity) {}
func (NopObserver) OnPeerFailed(error)                     {}
func (NopObserver) OnError(error)                          {}
