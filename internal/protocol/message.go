// Package protocol defines the signaling messages exchanged through the gateway.
//
// Every message travels as an envelope {"type": ..., "data": {...}}. Message is a
// closed set: only the payload types declared here implement it, and Decode
// returns exactly one of them.
package protocol

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeJoinVoiceRoom   Type = "join_voice_room"
	TypeLeaveVoiceRoom  Type = "leave_voice_room"
	TypeUserJoinedVoice Type = "user_joined_voice"
	TypeUserLeftVoice   Type = "user_left_voice"
	TypeOffer           Type = "webrtc_offer"
	TypeAnswer          Type = "webrtc_answer"
	TypeICECandidate    Type = "webrtc_ice_candidate"
	TypeVoiceActivity   Type = "voice_activity"
	TypeVoiceRoomState  Type = "voice_room_state"
	TypeError           Type = "error"
)

type Message interface {
	Type() Type
	sealed()
}

// Directed messages are relayed by the gateway to a single room member.
type Directed interface {
	Message
	Target() domain.UserID
	Sender() domain.UserID
}

type JoinVoiceRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type LeaveVoiceRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type UserJoinedVoice struct {
	UserID domain.UserID `json:"userId"`
}

type UserLeftVoice struct {
	UserID domain.UserID `json:"userId"`
}

type Offer struct {
	Offer        webrtc.SessionDescription `json:"offer"`
	TargetUserID domain.UserID             `json:"targetUserId"`
	FromUserID   domain.UserID             `json:"fromUserId"`
}

type Answer struct {
	Answer       webrtc.SessionDescription `json:"answer"`
	TargetUserID domain.UserID             `json:"targetUserId"`
	FromUserID   domain.UserID             `json:"fromUserId"`
}

type ICECandidate struct {
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
	TargetUserID domain.UserID           `json:"targetUserId"`
	FromUserID   domain.UserID           `json:"fromUserId"`
}

// VoiceActivity carries one speaking/silent report of a member.
type VoiceActivity struct {
	RoomID     domain.RoomID `json:"roomId"`
	UserID     domain.UserID `json:"userId"`
	Level      float64       `json:"level"`
	IsSpeaking bool          `json:"isSpeaking"`
}

// VoiceRoomState is the gateway's reply to a join: who was already there.
type VoiceRoomState struct {
	RoomID  domain.RoomID   `json:"roomId"`
	Members []domain.UserID `json:"members"`
}

// ErrorNotice is a gateway-level rejection, e.g. a full room.
type ErrorNotice struct {
	Reason string `json:"error"`
}

const (
	ReasonRoomFull    = "room_full"
	ReasonBadPayload  = "bad_payload"
	ReasonNotInRoom   = "not_in_room"
	ReasonRateLimited = "rate_limited"
)

func (JoinVoiceRoom) Type() Type   { return TypeJoinVoiceRoom }
func (LeaveVoiceRoom) Type() Type  { return TypeLeaveVoiceRoom }
func (UserJoinedVoice) Type() Type { return TypeUserJoinedVoice }
func (UserLeftVoice) Type() Type   { return TypeUserLeftVoice }
func (Offer) Type() Type           { return TypeOffer }
func (Answer) Type() Type          { return TypeAnswer }
func (ICECandidate) Type() Type    { return TypeICECandidate }
func (VoiceActivity) Type() Type   { return TypeVoiceActivity }
func (VoiceRoomState) Type() Type  { return TypeVoiceRoomState }
func (ErrorNotice) Type() Type     { return TypeError }

func (JoinVoiceRoom) sealed()   {}
func (LeaveVoiceRoom) sealed()  {}
func (UserJoinedVoice) sealed() {}
func (UserLeftVoice) sealed()   {}
func (Offer) sealed()           {}
func (Answer) sealed()          {}
func (ICECandidate) sealed()    {}
func (VoiceActivity) sealed()   {}
func (VoiceRoomState) sealed()  {}
func (ErrorNotice) sealed()     {}

func (m Offer) Target() domain.UserID        { return m.TargetUserID }
func (m Offer) Sender() domain.UserID        { return m.FromUserID }
func (m Answer) Target() domain.UserID       { return m.TargetUserID }
func (m Answer) Sender() domain.UserID       { return m.FromUserID }
func (m ICECandidate) Target() domain.UserID { return m.TargetUserID }
func (m ICECandidate) Sender() domain.UserID { return m.FromUserID }

// WithSender overwrites the sender of a directed message. The gateway uses it
// so a member cannot speak for somebody else.
func WithSender(m Directed, from domain.UserID) Directed {
	switch v := m.(type) {
	case Offer:
		v.FromUserID = from
		return v
	case Answer:
		v.FromUserID = from
		return v
	case ICECandidate:
		v.FromUserID = from
		return v
	}
	return m
}
