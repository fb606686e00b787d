package domain

import "errors"

const (
	MaxRoomIDLen      = 64
	DefaultMaxMembers = 5
)

var ErrRoomIDEmpty = errors.New("room id empty")

type RoomID string

type Room struct {
	ID         RoomID
	MaxMembers int
}

func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		raw = raw[:MaxRoomIDLen]
	}
	return RoomID(raw), nil
}
