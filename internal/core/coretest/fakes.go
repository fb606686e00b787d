// Package coretest provides in-memory fakes of the core capabilities for tests.
package coretest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// SDP builds a minimal session description with one m= line per kind.
func SDP(kinds ...string) string {
	var b strings.Builder
	b.WriteString("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	for i, k := range kinds {
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:%d\r\n", k, i)
	}
	return b.String()
}

func Description(t webrtc.SDPType, kinds ...string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: t, SDP: SDP(kinds...)}
}

func Candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000 typ host", n, n)}
}

// Gateway records every message sent through it.
type Gateway struct {
	mu   sync.Mutex
	sent []protocol.Message
	Err  error
}

func (g *Gateway) Send(_ context.Context, m protocol.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.sent = append(g.sent, m)
	return nil
}

func (g *Gateway) Sent() []protocol.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]protocol.Message(nil), g.sent...)
}

func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

// SentOf filters recorded messages by payload type.
func SentOf[T protocol.Message](g *Gateway) []T {
	var out []T
	for _, m := range g.Sent() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Transport hands out Connections that describe themselves with OfferMedia
// and AnswerMedia.
type Transport struct {
	mu          sync.Mutex
	conns       []*Connection
	OfferMedia  []string
	AnswerMedia []string
	Err         error

	// SetRemoteErr is copied into each new connection.
	SetRemoteErr error
}

func (t *Transport) NewConnection(_ context.Context, hooks core.ConnectionHooks) (core.MediaConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	offer, answer := t.OfferMedia, t.AnswerMedia
	if offer == nil {
		offer = []string{"audio"}
	}
	if answer == nil {
		answer = []string{"audio"}
	}
	c := &Connection{
		Hooks:        hooks,
		offerMedia:   offer,
		answerMedia:  answer,
		setRemoteErr: t.SetRemoteErr,
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *Transport) Connections() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Connection(nil), t.conns...)
}

func (t *Transport) Last() *Connection {
	conns := t.Connections()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type Connection struct {
	mu           sync.Mutex
	Hooks        core.ConnectionHooks
	offerMedia   []string
	answerMedia  []string
	setRemoteErr error

	tracks     int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int
}

func (c *Connection) AddTrack(webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil
}

func (c *Connection) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return Description(webrtc.SDPTypeOffer, c.offerMedia...), nil
}

func (c *Connection) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	return Description(webrtc.SDPTypeAnswer, c.answerMedia...), nil
}

func (c *Connection) SetLocalDescription(_ context.Context, d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &d
	return nil
}

func (c *Connection) SetRemoteDescription(_ context.Context, d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setRemoteErr != nil {
		return c.setRemoteErr
	}
	c.remote = &d
	return nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return fmt.Errorf("candidate before remote description")
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *Connection) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

func (c *Connection) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

// Capture hands out a single Audio, or Err.
type Capture struct {
	mu       sync.Mutex
	Audio    *Audio
	Err      error
	acquired int
	released int
}

func (c *Capture) Acquire(context.Context, core.AudioConstraints) (core.LocalAudio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Audio == nil {
		c.Audio = NewAudio()
	}
	c.acquired++
	return c.Audio, nil
}

func (c *Capture) Release(core.LocalAudio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
}

func (c *Capture) Counts() (acquired, released int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired, c.released
}

// Audio reports a fixed spectrum set with SetLevel.
type Audio struct {
	mu      sync.Mutex
	enabled bool
	level   byte
	reads   chan struct{}
}

func NewAudio() *Audio { return &Audio{enabled: true, reads: make(chan struct{}, 1)} }

// Reads signals after each FrequencyData call. Signals are dropped while one
// is already pending.
func (a *Audio) Reads() <-chan struct{} { return a.reads }

func (a *Audio) Track() webrtc.TrackLocal { return nil }

func (a *Audio) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Audio) SetEnabled(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = on
}

func (a *Audio) SetLevel(l byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.level = l
}

func (a *Audio) Bins() int { return 8 }

func (a *Audio) FrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range dst {
		dst[i] = a.level
	}
	select {
	case a.reads <- struct{}{}:
	default:
	}
	return len(dst)
}
