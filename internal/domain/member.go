package domain

import "sync/atomic"

// Member represents user's participation meta for a voice room.
// No transport or lifecycle logic here.
type Member struct {
	User *User
	// Speaking is the last activity report of the member.
	Speaking atomic.Bool
}

func NewMember(user *User) *Member {
	return &Member{User: user}
}
