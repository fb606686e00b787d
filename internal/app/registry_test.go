package app

import (
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func bind(r *Registry, sid core.SessionID, id domain.UserID) (cancelled *bool) {
	u := r.GetOrCreateUser(sid, id)
	cancelled = new(bool)
	r.BindSignal(sid, core.NewMemberSession(domain.NewMember(u), nopConn{}), func() { *cancelled = true })
	return cancelled
}

func TestUserFallsBackToSessionID(t *testing.T) {
	r := NewRegistry()
	u := r.GetOrCreateUser("s1", "")
	if u.ID != "s1" {
		t.Fatalf("id = %q, want s1", u.ID)
	}
	if again := r.GetOrCreateUser("s1", "alice"); again != u {
		t.Fatal("second call created another user")
	}
}

func TestRoomAssociation(t *testing.T) {
	r := NewRegistry()
	bind(r, "s1", "alice")
	bind(r, "s2", "bob")
	bind(r, "s3", "carol")

	if _, _, ok := r.RoomOf("s1"); ok {
		t.Fatal("fresh session already in a room")
	}
	r.UpdateRoom("s1", "general")
	r.UpdateRoom("s2", "general")
	r.UpdateRoom("s3", "other")
	if r.UpdateRoom("missing", "general") {
		t.Fatal("unknown session updated")
	}

	members := r.MembersOfRoom("general")
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}
	seen := map[domain.UserID]bool{}
	for _, e := range members {
		seen[e.User] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("members = %+v", members)
	}

	r.RemoveRoom("s1")
	if room, _, ok := r.RoomOf("s1"); ok {
		t.Fatalf("still in %q", room)
	}
	if len(r.MembersOfRoom("general")) != 1 {
		t.Fatal("removed member still listed")
	}
}

func TestCancelAndUnbind(t *testing.T) {
	r := NewRegistry()
	cancelled := bind(r, "s1", "alice")

	if !r.Cancel("s1") || !*cancelled {
		t.Fatal("cancel not forwarded")
	}
	r.Unbind("s1")
	if _, ok := r.GetSession("s1"); ok {
		t.Fatal("session survived unbind")
	}
	if _, ok := r.User("s1"); ok {
		t.Fatal("user survived unbind")
	}
	if r.Cancel("s1") {
		t.Fatal("cancel of unbound session reported success")
	}
}

func TestRoomManagerCapsAndLists(t *testing.T) {
	m := NewRoomManager(0)
	b := m.GetOrCreate("b")
	if m.GetOrCreate("b") != b {
		t.Fatal("second GetOrCreate made a new room")
	}
	m.GetOrCreate("a")

	list := m.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].MaxMembers != domain.DefaultMaxMembers {
		t.Fatalf("max members = %d", list[0].MaxMembers)
	}

	m.StopRoom("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("stopped room still listed")
	}
}

func TestPolicyByName(t *testing.T) {
	cases := []struct {
		name string
		want BackpressureAction
	}{
		{"drop", DropFrame},
		{"kick", KickMember},
		{"", KickMember},
	}
	for _, tc := range cases {
		if got := PolicyByName(tc.name).OnBackPressure(nil, "s1"); got != tc.want {
			t.Errorf("%q: action = %d, want %d", tc.name, got, tc.want)
		}
	}
}
