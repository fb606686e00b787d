package core

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrRoomFull     = errors.New("room full")
	ErrNotInRoom    = errors.New("member not in room")
	ErrBackpressure = errors.New("backpressure")
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// RoomService is the gateway-side voice room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []domain.UserID

	AddMember(sid SessionID, ms MemberSession) error
	RemoveMember(sid SessionID) (domain.UserID, bool)
	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(user domain.UserID, data Frame) (SessionID, error)
}

type RoomInfo struct {
	ID          domain.RoomID `json:"roomId"`
	MemberCount int           `json:"memberCount"`
	MaxMembers  int           `json:"maxMembers"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
