package orch

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	full     bool
	canceled bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) received(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, m)
	}
	c.frames = nil
	return out
}

func (c *fakeConn) wasCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

func newOrch(maxMembers int) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(maxMembers),
		Policy:   app.KickPolicy{},
	}
}

func connect(o *Orchestrator, sid core.SessionID, user domain.UserID) *fakeConn {
	conn := &fakeConn{}
	u := o.Registry.GetOrCreateUser(sid, user)
	sess := core.NewMemberSession(domain.NewMember(u), conn)
	o.Registry.BindSignal(sid, sess, func() {
		conn.mu.Lock()
		conn.canceled = true
		conn.mu.Unlock()
	})
	return conn
}

func TestJoinSendsStateAndAnnounces(t *testing.T) {
	o := newOrch(5)
	alice := connect(o, "s1", "alice")
	bob := connect(o, "s2", "bob")

	if err := o.Join("s1", "general"); err != nil {
		t.Fatal(err)
	}
	got := alice.received(t)
	state, ok := got[0].(protocol.VoiceRoomState)
	if len(got) != 1 || !ok || len(state.Members) != 1 || state.Members[0] != "alice" {
		t.Fatalf("alice got %#v", got)
	}

	if err := o.Join("s2", "general"); err != nil {
		t.Fatal(err)
	}
	got = bob.received(t)
	state, ok = got[0].(protocol.VoiceRoomState)
	if len(got) != 1 || !ok || len(state.Members) != 2 {
		t.Fatalf("bob got %#v", got)
	}
	got = alice.received(t)
	if len(got) != 1 || got[0] != (protocol.UserJoinedVoice{UserID: "bob"}) {
		t.Fatalf("alice got %#v", got)
	}
}

func TestJoinFullRoomIsRejected(t *testing.T) {
	o := newOrch(2)
	connect(o, "s1", "alice")
	connect(o, "s2", "bob")
	carol := connect(o, "s3", "carol")
	_ = o.Join("s1", "general")
	_ = o.Join("s2", "general")

	err := o.Join("s3", "general")
	if !errors.Is(err, core.ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
	got := carol.received(t)
	if len(got) != 1 || got[0] != (protocol.ErrorNotice{Reason: protocol.ReasonRoomFull}) {
		t.Fatalf("carol got %#v", got)
	}
	if info := o.Rooms.List(); len(info) != 1 || info[0].MemberCount != 2 || info[0].MaxMembers != 2 {
		t.Fatalf("rooms = %+v", info)
	}
	if _, _, ok := o.Registry.RoomOf("s3"); ok {
		t.Fatal("rejected member recorded in a room")
	}
}

func TestRelayRewritesSender(t *testing.T) {
	o := newOrch(5)
	alice := connect(o, "s1", "alice")
	bob := connect(o, "s2", "bob")
	_ = o.Join("s1", "general")
	_ = o.Join("s2", "general")
	alice.received(t)
	bob.received(t)

	offer := protocol.Offer{
		Offer:        coretest.Description(webrtc.SDPTypeOffer, "audio"),
		TargetUserID: "alice",
		FromUserID:   "mallory",
	}
	if err := o.Relay("s2", offer); err != nil {
		t.Fatal(err)
	}
	got := alice.received(t)
	relayed, ok := got[0].(protocol.Offer)
	if len(got) != 1 || !ok || relayed.FromUserID != "bob" || relayed.Offer.SDP != offer.Offer.SDP {
		t.Fatalf("alice got %#v", got)
	}
	if len(bob.received(t)) != 0 {
		t.Fatal("sender received its own offer")
	}
}

func TestRelayToAbsentTarget(t *testing.T) {
	o := newOrch(5)
	bob := connect(o, "s2", "bob")
	_ = o.Join("s2", "general")
	bob.received(t)

	cand := protocol.ICECandidate{Candidate: coretest.Candidate(1), TargetUserID: "ghost"}
	if err := o.Relay("s2", cand); !errors.Is(err, core.ErrNotInRoom) {
		t.Fatalf("err = %v", err)
	}
	got := bob.received(t)
	if len(got) != 1 || got[0] != (protocol.ErrorNotice{Reason: protocol.ReasonNotInRoom}) {
		t.Fatalf("bob got %#v", got)
	}
}

func TestRelayOutsideRoom(t *testing.T) {
	o := newOrch(5)
	bob := connect(o, "s2", "bob")

	if err := o.Relay("s2", protocol.Answer{TargetUserID: "alice"}); !errors.Is(err, core.ErrNotInRoom) {
		t.Fatalf("err = %v", err)
	}
	if got := bob.received(t); len(got) != 1 {
		t.Fatalf("bob got %#v", got)
	}
}

func TestLeaveAnnouncesAndDropsEmptyRoom(t *testing.T) {
	o := newOrch(5)
	alice := connect(o, "s1", "alice")
	connect(o, "s2", "bob")
	_ = o.Join("s1", "general")
	_ = o.Join("s2", "general")
	alice.received(t)

	if !o.Leave("s2") {
		t.Fatal("leave reported nothing to do")
	}
	got := alice.received(t)
	if len(got) != 1 || got[0] != (protocol.UserLeftVoice{UserID: "bob"}) {
		t.Fatalf("alice got %#v", got)
	}
	if o.Leave("s2") {
		t.Fatal("second leave reported success")
	}

	o.Leave("s1")
	if rooms := o.Rooms.List(); len(rooms) != 0 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestSlowMemberIsKicked(t *testing.T) {
	o := newOrch(5)
	bob := connect(o, "s2", "bob")
	carol := connect(o, "s3", "carol")
	connect(o, "s4", "dave")
	_ = o.Join("s2", "general")
	_ = o.Join("s3", "general")
	bob.received(t)

	carol.mu.Lock()
	carol.full = true
	carol.mu.Unlock()
	_ = o.Join("s4", "general")

	if !carol.wasCanceled() {
		t.Fatal("slow member connection not canceled")
	}
	if _, _, ok := o.Registry.RoomOf("s3"); ok {
		t.Fatal("slow member still in room")
	}
	got := bob.received(t)
	if len(got) != 2 || got[1] != (protocol.UserLeftVoice{UserID: "carol"}) {
		t.Fatalf("bob got %#v", got)
	}
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	o := newOrch(5)
	old := connect(o, "s1", "alice")
	bob := connect(o, "s2", "bob")
	_ = o.Join("s1", "general")
	_ = o.Join("s2", "general")
	bob.received(t)

	fresh := connect(o, "s9", "alice")
	if err := o.Join("s9", "general"); err != nil {
		t.Fatal(err)
	}
	if !old.wasCanceled() {
		t.Fatal("stale connection kept open")
	}
	got := bob.received(t)
	want := []protocol.Message{protocol.UserLeftVoice{UserID: "alice"}, protocol.UserJoinedVoice{UserID: "alice"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("bob got %#v", got)
	}
	state := fresh.received(t)[0].(protocol.VoiceRoomState)
	if len(state.Members) != 2 {
		t.Fatalf("state = %+v", state)
	}
}

func TestActivityIsStampedAndFannedOut(t *testing.T) {
	o := newOrch(5)
	alice := connect(o, "s1", "alice")
	bob := connect(o, "s2", "bob")
	_ = o.Join("s1", "general")
	_ = o.Join("s2", "general")
	alice.received(t)
	bob.received(t)

	err := o.Activity("s2", protocol.VoiceActivity{RoomID: "elsewhere", UserID: "mallory", Level: 33.3, IsSpeaking: true})
	if err != nil {
		t.Fatal(err)
	}
	got := alice.received(t)
	want := protocol.VoiceActivity{RoomID: "general", UserID: "bob", Level: 33.3, IsSpeaking: true}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("alice got %#v", got)
	}
	if len(bob.received(t)) != 0 {
		t.Fatal("activity echoed to sender")
	}
	sess, _ := o.Registry.GetSession("s2")
	if !sess.Meta().Speaking.Load() {
		t.Fatal("speaking flag not recorded")
	}
}

func TestDisconnectUnbinds(t *testing.T) {
	o := newOrch(5)
	connect(o, "s1", "alice")
	_ = o.Join("s1", "general")

	o.Disconnect("s1")
	if _, ok := o.Registry.GetSession("s1"); ok {
		t.Fatal("session still bound")
	}
	if _, ok := o.Registry.User("s1"); ok {
		t.Fatal("user still bound")
	}
	if err := o.Join("s1", "general"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("join after disconnect = %v", err)
	}
}
