package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration with one ICE server per URL. An empty
// list yields host candidates only.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, u := range urls {
		if u == "" {
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg
}

// Transport creates peer connections that share one media engine.
type Transport struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewTransport(cfg webrtc.Configuration) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	return &Transport{api: webrtc.NewAPI(webrtc.WithMediaEngine(m)), cfg: cfg}, nil
}

func (t *Transport) NewConnection(ctx context.Context, hooks core.ConnectionHooks) (core.MediaConnection, error) {
	pc, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{
		pc:     pc,
		hooks:  hooks,
		logger: log.With().Str("module", "webrtc").Str("conn", uuid.NewString()[:8]).Logger(),
	}
	c.start(ctx)
	return c, nil
}

// WebRTCConnection adapts a pion PeerConnection to core.MediaConnection.
// Candidates are trickled through hooks as they are gathered.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	hooks  core.ConnectionHooks
	cancel context.CancelFunc
	logger zerolog.Logger

	failOnce  sync.Once
	closeOnce sync.Once
}

func (c *WebRTCConnection) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.failOnce.Do(func() {
				if c.hooks.OnFailed != nil {
					c.hooks.OnFailed()
				}
			})
		case webrtc.PeerConnectionStateClosed:
			cancel()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.hooks.OnICECandidate != nil {
			c.hooks.OnICECandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.hooks.OnTrack != nil {
			c.hooks.OnTrack(ctx, track)
		}
	})
}

// AddTrack attaches the local track and drains RTCP for its sender so
// interceptors keep running.
func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *WebRTCConnection) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *WebRTCConnection) SetLocalDescription(_ context.Context, d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *WebRTCConnection) SetRemoteDescription(_ context.Context, d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// Close is idempotent. A closed connection never reports failure.
func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.failOnce.Do(func() {})
		if c.cancel != nil {
			c.cancel()
		}
		err = c.pc.Close()
		if err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}
