// Package peer implements the negotiation state machine kept for every remote
// participant of a voice room.
//
// A Session is confined to the mesh loop goroutine and does no locking. Every
// call into the media transport can take a while, so handlers check for
// Closed again once the call returns.
package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Self      domain.UserID
	Remote    domain.UserID
	Room      domain.RoomID
	Transport core.MediaTransport
	Audio     core.LocalAudio
	Gateway   core.Gateway

	// Hooks builds the callbacks for each connection the session opens.
	// generation matches Generation() while that connection is current.
	Hooks func(generation uint64) core.ConnectionHooks
	Clock clock.Clock
}

type Session struct {
	self      domain.UserID
	remote    domain.UserID
	transport core.MediaTransport
	audio     core.LocalAudio
	gw        core.Gateway
	hooks     func(uint64) core.ConnectionHooks
	clock     clock.Clock
	logger    zerolog.Logger

	conn              core.MediaConnection
	generation        uint64
	state             State
	local             Fingerprint
	pending           []webrtc.ICECandidateInit
	lastRenegotiation time.Time
}

func New(cfg Config) *Session {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Session{
		self:      cfg.Self,
		remote:    cfg.Remote,
		transport: cfg.Transport,
		audio:     cfg.Audio,
		gw:        cfg.Gateway,
		hooks:     cfg.Hooks,
		clock:     clk,
		logger: log.With().
			Str("module", "peer").
			Str("room", string(cfg.Room)).
			Str("remote", string(cfg.Remote)).
			Logger(),
	}
}

func (s *Session) Remote() domain.UserID         { return s.remote }
func (s *Session) State() State                  { return s.state }
func (s *Session) LocalFingerprint() Fingerprint { return s.local }
func (s *Session) Buffered() int                 { return len(s.pending) }
func (s *Session) LastRenegotiation() time.Time  { return s.lastRenegotiation }
func (s *Session) Generation() uint64            { return s.generation }

// Initiate opens a connection and sends an offer. It only acts in Idle; while
// an offer is outstanding a second call is a no-op.
func (s *Session) Initiate(ctx context.Context) error {
	switch s.state {
	case Idle:
	case Closed:
		return core.ErrSessionClosed
	default:
		s.logger.Debug().Str("state", s.state.String()).Msg("initiate ignored")
		return nil
	}

	if err := s.open(ctx); err != nil {
		return s.fail(err)
	}
	offer, err := s.conn.CreateOffer(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("create offer: %w", err))
	}
	if err := s.conn.SetLocalDescription(ctx, offer); err != nil {
		return s.fail(fmt.Errorf("set local offer: %w", err))
	}
	if s.state == Closed {
		return core.ErrSessionClosed
	}
	fp, err := FingerprintOf(offer)
	if err != nil {
		return s.fail(err)
	}
	s.local = fp
	s.transition(OfferSent)

	return s.send(ctx, protocol.Offer{Offer: offer, TargetUserID: s.remote, FromUserID: s.self})
}

// OnOfferReceived answers a remote offer. In Stable it is the remote starting
// over on a fresh connection, so the old one is replaced.
func (s *Session) OnOfferReceived(ctx context.Context, offer webrtc.SessionDescription) error {
	switch s.state {
	case Idle:
		s.transition(OfferReceived)
	case Stable:
		s.transition(Renegotiating)
		s.lastRenegotiation = s.clock.Now()
		s.dropConnection()
	case Closed:
		return core.ErrSessionClosed
	default:
		s.logger.Warn().Str("state", s.state.String()).Msg("offer in unexpected state, dropped")
		return fmt.Errorf("%w: offer in %s", core.ErrStaleMessage, s.state)
	}

	if err := s.open(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.conn.SetRemoteDescription(ctx, offer); err != nil {
		return s.fail(fmt.Errorf("set remote offer: %w", err))
	}
	answer, err := s.conn.CreateAnswer(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("create answer: %w", err))
	}
	if err := s.conn.SetLocalDescription(ctx, answer); err != nil {
		return s.fail(fmt.Errorf("set local answer: %w", err))
	}
	if s.state == Closed {
		return core.ErrSessionClosed
	}
	fp, err := FingerprintOf(answer)
	if err != nil {
		return s.fail(err)
	}
	s.local = fp
	s.transition(Stable)
	s.flush()

	return s.send(ctx, protocol.Answer{Answer: answer, TargetUserID: s.remote, FromUserID: s.self})
}

// OnAnswerReceived applies the answer to our outstanding offer if both sides
// agree on the media-line order. A mismatch closes the session; the caller
// decides whether to start over.
func (s *Session) OnAnswerReceived(ctx context.Context, answer webrtc.SessionDescription) error {
	if s.state != OfferSent {
		s.logger.Warn().Str("state", s.state.String()).Msg("answer in unexpected state, dropped")
		return fmt.Errorf("%w: answer in %s", core.ErrStaleMessage, s.state)
	}

	remote, err := FingerprintOf(answer)
	if err != nil {
		s.Close()
		return fmt.Errorf("%w: %v", core.ErrNegotiationMismatch, err)
	}
	if !remote.Equal(s.local) {
		s.logger.Warn().Str("local", s.local.String()).Str("remote_order", remote.String()).Msg("media order mismatch")
		s.Close()
		return fmt.Errorf("%w: local [%s] remote [%s]", core.ErrNegotiationMismatch, s.local, remote)
	}

	if err := s.conn.SetRemoteDescription(ctx, answer); err != nil {
		return s.fail(fmt.Errorf("set remote answer: %w", err))
	}
	if s.state == Closed {
		return core.ErrSessionClosed
	}
	s.transition(Stable)
	s.flush()
	return nil
}

// OnCandidate applies a remote candidate, or queues it until the remote
// description lands.
func (s *Session) OnCandidate(c webrtc.ICECandidateInit) error {
	switch {
	case s.state == Closed:
		s.logger.Debug().Msg("candidate after close dropped")
		return core.ErrSessionClosed
	case s.state.hasRemoteDescription():
		if err := s.conn.AddICECandidate(c); err != nil {
			s.logger.Error().Err(err).Msg("add ice candidate")
			return err
		}
		return nil
	}
	s.pending = append(s.pending, c)
	return nil
}

// SendLocalCandidate forwards a candidate gathered by our connection.
func (s *Session) SendLocalCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if s.state == Closed {
		return core.ErrSessionClosed
	}
	return s.send(ctx, protocol.ICECandidate{Candidate: c, TargetUserID: s.remote, FromUserID: s.self})
}

// Close releases the connection and drops buffered candidates. Idempotent.
func (s *Session) Close() {
	if s.state == Closed {
		return
	}
	s.dropConnection()
	s.pending = nil
	s.transition(Closed)
}

func (s *Session) open(ctx context.Context) error {
	s.generation++
	var hooks core.ConnectionHooks
	if s.hooks != nil {
		hooks = s.hooks(s.generation)
	}
	conn, err := s.transport.NewConnection(ctx, hooks)
	if err != nil {
		return fmt.Errorf("new connection: %w", err)
	}
	s.conn = conn
	// Audio is the only local track, so it always owns the first media line.
	if s.audio != nil {
		if err := conn.AddTrack(s.audio.Track()); err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	return nil
}

func (s *Session) flush() {
	if len(s.pending) == 0 {
		return
	}
	queued := s.pending
	s.pending = nil
	for _, c := range queued {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.logger.Error().Err(err).Msg("add buffered ice candidate")
		}
	}
	s.logger.Debug().Int("count", len(queued)).Msg("flushed buffered candidates")
}

func (s *Session) dropConnection() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close connection")
	}
	s.conn = nil
}

func (s *Session) fail(err error) error {
	s.logger.Error().Err(err).Str("state", s.state.String()).Msg("negotiation failed")
	s.Close()
	return err
}

func (s *Session) send(ctx context.Context, m protocol.Message) error {
	if err := s.gw.Send(ctx, m); err != nil {
		s.logger.Error().Err(err).Str("type", string(m.Type())).Msg("signaling send")
		return fmt.Errorf("%w: %s: %v", core.ErrTransportSend, m.Type(), err)
	}
	return nil
}

func (s *Session) transition(next State) {
	s.logger.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("state")
	s.state = next
}
