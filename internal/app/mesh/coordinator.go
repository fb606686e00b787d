// Package mesh keeps one peer session per remote room member and decides who
// starts negotiating with whom.
//
// All roster and session state is owned by the goroutine running
// Coordinator.Run. Public methods hand work to that goroutine and wait for it;
// transport callbacks, retry timers and activity ticks are queued the same
// way, so sessions never need locks.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/voicemesh/internal/app/peer"
	"github.com/dkeye/voicemesh/internal/app/vad"
	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/metrics"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("mesh loop stopped")

var errConnectionFailed = errors.New("media connection failed")

type Options struct {
	RetryDelay      time.Duration
	MaxRetries      int
	ActivityEnabled bool
	Activity        vad.Config
	Constraints     core.AudioConstraints
}

func DefaultOptions() Options {
	return Options{
		RetryDelay:      time.Second,
		MaxRetries:      3,
		ActivityEnabled: true,
		Activity:        vad.DefaultConfig(),
		Constraints:     core.DefaultAudioConstraints(),
	}
}

type Deps struct {
	Gateway   core.Gateway
	Capture   core.MediaCapture
	Transport core.MediaTransport
	Playback  core.Playback
	Clock     clock.Clock
	Metrics   *metrics.Mesh
	Observer  Observer
}

type PeerInfo struct {
	Remote domain.UserID `json:"remote"`
	State  string        `json:"state"`
}

type Coordinator struct {
	self    domain.UserID
	opts    Options
	deps    Deps
	mute    Mute
	tasks   chan func()
	stopped chan struct{}
	logger  zerolog.Logger

	// Owned by the loop goroutine.
	ctx       context.Context
	room      domain.RoomID
	joined    bool
	confirmed bool
	audio     core.LocalAudio
	roster    map[domain.UserID]struct{}
	sessions  map[domain.UserID]*peer.Session
	connected map[domain.UserID]connection
	retried   map[domain.UserID]int
	timers    map[domain.UserID]clock.Timer
	stopVAD   context.CancelFunc
}

// connection identifies one media connection of one session.
type connection struct {
	session    *peer.Session
	generation uint64
}

func New(self domain.UserID, opts Options, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Coordinator{
		self:      self,
		opts:      opts,
		deps:      deps,
		tasks:     make(chan func(), 64),
		stopped:   make(chan struct{}),
		logger:    log.With().Str("module", "mesh").Str("self", string(self)).Logger(),
		ctx:       context.Background(),
		roster:    make(map[domain.UserID]struct{}),
		sessions:  make(map[domain.UserID]*peer.Session),
		connected: make(map[domain.UserID]connection),
		retried:   make(map[domain.UserID]int),
		timers:    make(map[domain.UserID]clock.Timer),
	}
}

func (c *Coordinator) Self() domain.UserID { return c.self }

// Run executes queued work until ctx is done. A joined room is left on exit.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.stopped)
	c.logger.Info().Msg("mesh loop started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case task := <-c.tasks:
			task()
		}
	}
}

// do runs fn on the loop and waits for it. Must not be called from the loop.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	var err error
	done := make(chan struct{})
	task := func() {
		defer close(done)
		err = fn()
	}
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return err
	case <-c.stopped:
		// The loop finishes a task before it exits.
		select {
		case <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// post queues fn without waiting. Used from transport and timer goroutines.
func (c *Coordinator) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.stopped:
	}
}

// Join acquires the microphone and announces membership. A capture failure
// aborts the join before anything is sent.
func (c *Coordinator) Join(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, func() error { return c.join(ctx, room) })
}

// Leave closes every peer session, releases the microphone and announces
// departure. Late messages for the room are dropped afterwards.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.do(ctx, func() error { return c.leave(ctx) })
}

// Handle dispatches one inbound gateway message. The returned error is
// diagnostic only; per-peer failures never stop the mesh.
func (c *Coordinator) Handle(ctx context.Context, m protocol.Message) error {
	return c.do(ctx, func() error { return c.handle(m) })
}

func (c *Coordinator) SetMuted(muted bool) bool { return c.mute.Set(muted) }
func (c *Coordinator) ToggleMute() bool         { return c.mute.Toggle() }
func (c *Coordinator) Muted() bool              { return c.mute.Muted() }

func (c *Coordinator) Joined(ctx context.Context) (bool, error) {
	var joined bool
	err := c.do(ctx, func() error {
		joined = c.joined
		return nil
	})
	return joined, err
}

// Peers lists live sessions ordered by remote id.
func (c *Coordinator) Peers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	err := c.do(ctx, func() error {
		out = make([]PeerInfo, 0, len(c.sessions))
		for id, s := range c.sessions {
			out = append(out, PeerInfo{Remote: id, State: s.State().String()})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
		return nil
	})
	return out, err
}

func (c *Coordinator) Roster(ctx context.Context) ([]domain.UserID, error) {
	var out []domain.UserID
	err := c.do(ctx, func() error {
		out = make([]domain.UserID, 0, len(c.roster))
		for id := range c.roster {
			out = append(out, id)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return nil
	})
	return out, err
}

func (c *Coordinator) join(ctx context.Context, room domain.RoomID) error {
	if c.joined {
		return core.ErrAlreadyJoined
	}
	audio, err := c.deps.Capture.Acquire(ctx, c.opts.Constraints)
	if err != nil {
		c.logger.Error().Err(err).Str("room", string(room)).Msg("media acquisition failed, join aborted")
		return &core.MediaAcquisitionError{Err: err}
	}

	c.room = room
	c.audio = audio
	c.joined = true
	c.confirmed = false
	c.mute.attach(audio)
	if c.opts.ActivityEnabled {
		c.startActivity(audio)
	}

	if err := c.deps.Gateway.Send(ctx, protocol.JoinVoiceRoom{RoomID: room, UserID: c.self}); err != nil {
		c.logger.Error().Err(err).Msg("announce join")
	}
	c.logger.Info().Str("room", string(room)).Msg("joined voice room")
	return nil
}

func (c *Coordinator) leave(ctx context.Context) error {
	if !c.joined {
		return core.ErrNotJoined
	}
	room := c.room
	c.teardown()
	if err := c.deps.Gateway.Send(ctx, protocol.LeaveVoiceRoom{RoomID: room, UserID: c.self}); err != nil {
		c.logger.Error().Err(err).Msg("announce leave")
	}
	c.logger.Info().Str("room", string(room)).Msg("left voice room")
	return nil
}

func (c *Coordinator) teardown() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	for id, s := range c.sessions {
		s.Close()
		delete(c.sessions, id)
	}
	c.deps.Metrics.SetSessions(0)
	if c.stopVAD != nil {
		c.stopVAD()
		c.stopVAD = nil
	}
	c.mute.detach()
	if c.audio != nil {
		c.deps.Capture.Release(c.audio)
		c.audio = nil
	}
	clear(c.roster)
	clear(c.retried)
	clear(c.connected)
	c.joined = false
	c.confirmed = false
	c.room = ""
}

func (c *Coordinator) shutdown() {
	if !c.joined {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.leave(ctx)
}

func (c *Coordinator) startActivity(audio core.LocalAudio) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopVAD = cancel
	sampler := vad.NewSampler(audio, c.opts.Activity, c.deps.Clock, func(ev vad.Event) {
		c.post(func() { c.emitActivity(ev) })
	})
	go sampler.Run(ctx)
}

func (c *Coordinator) emitActivity(ev vad.Event) {
	if !c.joined {
		return
	}
	msg := protocol.VoiceActivity{RoomID: c.room, UserID: c.self, Level: ev.Level, IsSpeaking: ev.Speaking}
	c.deps.Metrics.Activity(ev.Speaking)
	c.deps.Observer.OnVoiceActivity(msg)
	if ev.Speaking {
		c.logger.Debug().Float64("level", ev.Level).Msg("speaking")
	}
	if err := c.deps.Gateway.Send(c.ctx, msg); err != nil {
		c.logger.Warn().Err(err).Msg("send voice activity")
	}
}

func (c *Coordinator) newSession(remote domain.UserID) *peer.Session {
	var s *peer.Session
	s = peer.New(peer.Config{
		Self:      c.self,
		Remote:    remote,
		Room:      c.room,
		Transport: c.deps.Transport,
		Audio:     c.audio,
		Gateway:   c.deps.Gateway,
		Hooks:     func(gen uint64) core.ConnectionHooks { return c.hooks(remote, s, gen) },
		Clock:     c.deps.Clock,
	})
	return s
}

// hooks wires one connection's callbacks back into the loop. Callbacks from a
// connection that has since been replaced are dropped.
func (c *Coordinator) hooks(remote domain.UserID, s *peer.Session, gen uint64) core.ConnectionHooks {
	live := func() bool {
		return c.sessions[remote] == s && s.Generation() == gen && s.State() != peer.Closed
	}
	return core.ConnectionHooks{
		OnICECandidate: func(ci webrtc.ICECandidateInit) {
			c.post(func() {
				if live() {
					_ = s.SendLocalCandidate(c.ctx, ci)
				}
			})
		},
		OnTrack: func(ctx context.Context, track *webrtc.TrackRemote) {
			c.logger.Info().Str("remote", string(remote)).Str("track_id", track.ID()).Msg("remote audio")
			c.post(func() {
				if live() {
					c.mediaArrived(remote, connection{session: s, generation: gen})
				}
			})
			if c.deps.Playback != nil {
				c.deps.Playback.Play(ctx, remote, track)
			}
		},
		OnFailed: func() {
			c.post(func() {
				if live() {
					c.connectionFailed(remote, s)
				}
			})
		},
	}
}

func (c *Coordinator) handle(m protocol.Message) error {
	if !c.joined {
		c.logger.Debug().Str("type", string(m.Type())).Msg("not in a room, message dropped")
		return nil
	}
	if from, ok := origin(m); ok && from == c.self {
		return nil
	}
	if d, ok := m.(protocol.Directed); ok && d.Target() != c.self {
		c.logger.Warn().Str("type", string(m.Type())).Str("target", string(d.Target())).Msg("misrouted message dropped")
		return nil
	}

	switch v := m.(type) {
	case protocol.VoiceRoomState:
		c.roomState(v)
	case protocol.UserJoinedVoice:
		c.memberJoined(v.UserID)
	case protocol.UserLeftVoice:
		c.memberLeft(v.UserID)
	case protocol.Offer:
		return c.offer(v)
	case protocol.Answer:
		return c.answer(v)
	case protocol.ICECandidate:
		return c.candidate(v)
	case protocol.VoiceActivity:
		if v.RoomID == c.room {
			c.deps.Observer.OnVoiceActivity(v)
		}
	case protocol.ErrorNotice:
		return c.rejected(v)
	case protocol.JoinVoiceRoom, protocol.LeaveVoiceRoom:
		c.logger.Warn().Str("type", string(m.Type())).Msg("unexpected inbound message")
	}
	return nil
}

// origin is the member a message speaks for, if any.
func origin(m protocol.Message) (domain.UserID, bool) {
	switch v := m.(type) {
	case protocol.UserJoinedVoice:
		return v.UserID, true
	case protocol.UserLeftVoice:
		return v.UserID, true
	case protocol.VoiceActivity:
		return v.UserID, true
	case protocol.Directed:
		return v.Sender(), true
	}
	return "", false
}

// roomState seeds the roster of a newcomer. Existing members offer to us,
// so sessions are only prepared here.
func (c *Coordinator) roomState(v protocol.VoiceRoomState) {
	if v.RoomID != c.room {
		c.logger.Warn().Str("room", string(v.RoomID)).Msg("room state for another room")
		return
	}
	c.confirmed = true
	for _, id := range v.Members {
		if id != c.self {
			c.admit(id)
		}
	}
}

// mediaArrived reports a remote as connected on the first track of each
// connection.
func (c *Coordinator) mediaArrived(id domain.UserID, conn connection) {
	if c.connected[id] == conn {
		return
	}
	c.connected[id] = conn
	c.logger.Info().Str("remote", string(id)).Uint64("generation", conn.generation).Msg("media connected")
	c.deps.Observer.OnUserConnected(id)
}

func (c *Coordinator) memberJoined(id domain.UserID) {
	s := c.admit(id)
	if s.State() != peer.Idle {
		c.logger.Debug().Str("remote", string(id)).Str("state", s.State().String()).Msg("duplicate join ignored")
		return
	}
	c.stopRetry(id)
	delete(c.retried, id)
	c.initiate(id, s)
}

func (c *Coordinator) memberLeft(id domain.UserID) {
	_, known := c.roster[id]
	s := c.sessions[id]
	if !known && s == nil {
		return
	}
	delete(c.roster, id)
	delete(c.connected, id)
	c.stopRetry(id)
	delete(c.retried, id)
	if s != nil {
		s.Close()
		delete(c.sessions, id)
		c.deps.Metrics.SetSessions(len(c.sessions))
	}
	c.logger.Info().Str("remote", string(id)).Msg("member left")
	c.deps.Observer.OnUserLeft(id)
}

// admit adds id to the roster and makes sure it has a usable session. A
// closed session waiting for its retry is replaced and the retry dropped.
func (c *Coordinator) admit(id domain.UserID) *peer.Session {
	if _, ok := c.roster[id]; !ok {
		c.roster[id] = struct{}{}
		c.logger.Info().Str("remote", string(id)).Msg("member joined")
		c.deps.Observer.OnUserJoined(id)
	}
	if s, ok := c.sessions[id]; ok && s.State() != peer.Closed {
		return s
	}
	c.stopRetry(id)
	return c.replaceSession(id)
}

// replaceSession closes the current session for id, if any, and installs a
// fresh idle one.
func (c *Coordinator) replaceSession(id domain.UserID) *peer.Session {
	if old := c.sessions[id]; old != nil {
		old.Close()
	}
	s := c.newSession(id)
	c.sessions[id] = s
	c.deps.Metrics.SetSessions(len(c.sessions))
	return s
}

func (c *Coordinator) initiate(id domain.UserID, s *peer.Session) {
	err := s.Initiate(c.ctx)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrTransportSend):
		// Offer stays outstanding; the gateway owns delivery.
		c.logger.Warn().Err(err).Str("remote", string(id)).Msg("offer not delivered")
	case s.State() == peer.Closed:
		c.deps.Metrics.Negotiation(metrics.ResultFailed)
		c.renegotiate(id, err)
	}
}

func (c *Coordinator) offer(v protocol.Offer) error {
	from := v.FromUserID
	s := c.admit(from)
	if s.State() == peer.OfferSent {
		if c.self.Less(from) {
			c.logger.Info().Str("remote", string(from)).Msg("glare, keeping own offer")
			c.deps.Metrics.Negotiation(metrics.ResultStale)
			return core.ErrStaleMessage
		}
		c.logger.Info().Str("remote", string(from)).Msg("glare, answering remote offer")
		s = c.replaceSession(from)
	}
	c.stopRetry(from)

	err := s.OnOfferReceived(c.ctx, v.Offer)
	switch {
	case s.State() == peer.Stable:
		c.settled(from)
	case errors.Is(err, core.ErrStaleMessage):
		c.deps.Metrics.Negotiation(metrics.ResultStale)
	case s.State() == peer.Closed:
		// The offerer notices the silence. The closed session stays until its
		// next offer so candidates of the failed connection are dropped.
		c.logger.Error().Err(err).Str("remote", string(from)).Msg("answer failed")
		c.deps.Metrics.Negotiation(metrics.ResultFailed)
	}
	return err
}

func (c *Coordinator) answer(v protocol.Answer) error {
	from := v.FromUserID
	s, ok := c.sessions[from]
	if !ok {
		c.logger.Warn().Str("remote", string(from)).Msg("answer without session")
		c.deps.Metrics.Negotiation(metrics.ResultStale)
		return core.ErrStaleMessage
	}
	err := s.OnAnswerReceived(c.ctx, v.Answer)
	switch {
	case err == nil:
		c.settled(from)
	case errors.Is(err, core.ErrStaleMessage):
		c.deps.Metrics.Negotiation(metrics.ResultStale)
	case errors.Is(err, core.ErrNegotiationMismatch):
		c.deps.Metrics.Negotiation(metrics.ResultMismatch)
		c.renegotiate(from, err)
	case s.State() == peer.Closed:
		c.deps.Metrics.Negotiation(metrics.ResultFailed)
		c.renegotiate(from, err)
	}
	return err
}

func (c *Coordinator) candidate(v protocol.ICECandidate) error {
	s, ok := c.sessions[v.FromUserID]
	if !ok {
		c.logger.Debug().Str("remote", string(v.FromUserID)).Msg("candidate without session dropped")
		return core.ErrSessionClosed
	}
	return s.OnCandidate(v.Candidate)
}

// rejected handles a gateway error notice. Before the room state arrives any
// rejection is the gateway refusing the join; afterwards only join reasons
// are, and the rest are relay races such as a target that just left.
func (c *Coordinator) rejected(v protocol.ErrorNotice) error {
	if !c.confirmed || isJoinReason(v.Reason) {
		err := fmt.Errorf("%w: %s", core.ErrJoinRejected, v.Reason)
		c.logger.Error().Str("reason", v.Reason).Str("room", string(c.room)).Msg("gateway rejected join")
		c.teardown()
		c.deps.Observer.OnError(err)
		return err
	}
	c.logger.Debug().Str("reason", v.Reason).Msg("gateway rejected request")
	return fmt.Errorf("%w: %s", core.ErrRequestRejected, v.Reason)
}

func isJoinReason(reason string) bool {
	return reason == protocol.ReasonRoomFull || reason == protocol.ReasonRateLimited
}

func (c *Coordinator) connectionFailed(id domain.UserID, s *peer.Session) {
	s.Close()
	c.deps.Metrics.Negotiation(metrics.ResultFailed)
	c.logger.Warn().Str("remote", string(id)).Msg("media connection failed")
	if c.self.Less(id) {
		c.renegotiate(id, errConnectionFailed)
	}
}

func (c *Coordinator) settled(id domain.UserID) {
	c.stopRetry(id)
	delete(c.retried, id)
	c.deps.Metrics.Negotiation(metrics.ResultStable)
}

// renegotiate offers again on a fresh session after the retry delay, or gives
// the peer up once retries are spent. Until the retry fires the closed session
// stays in place and absorbs late messages of its connection.
func (c *Coordinator) renegotiate(id domain.UserID, cause error) {
	attempts := c.retried[id]
	if attempts >= c.opts.MaxRetries {
		c.abandon(id, attempts, cause)
		return
	}
	closed := c.sessions[id]
	if closed == nil {
		return
	}
	closed.Close()
	c.retried[id] = attempts + 1
	c.stopRetry(id)
	c.timers[id] = c.deps.Clock.AfterFunc(c.opts.RetryDelay, func() {
		c.post(func() { c.retry(id, closed) })
	})
	c.deps.Metrics.RenegotiationScheduled()
	c.logger.Warn().
		Err(cause).
		Str("remote", string(id)).
		Int("attempt", attempts+1).
		Dur("delay", c.opts.RetryDelay).
		Msg("renegotiation scheduled")
}

func (c *Coordinator) retry(id domain.UserID, closed *peer.Session) {
	if !c.joined || c.sessions[id] != closed {
		return
	}
	delete(c.timers, id)
	c.initiate(id, c.replaceSession(id))
}

func (c *Coordinator) abandon(id domain.UserID, attempts int, cause error) {
	c.stopRetry(id)
	delete(c.retried, id)
	if s := c.sessions[id]; s != nil {
		s.Close()
		delete(c.sessions, id)
	}
	delete(c.connected, id)
	c.deps.Metrics.SetSessions(len(c.sessions))
	c.deps.Metrics.Negotiation(metrics.ResultExhausted)
	err := &core.RenegotiationExhaustedError{Peer: id, Attempts: attempts, Last: cause}
	c.logger.Error().Err(err).Str("remote", string(id)).Msg("peer abandoned")
	c.deps.Observer.OnPeerFailed(err)
}

func (c *Coordinator) stopRetry(id domain.UserID) {
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}
