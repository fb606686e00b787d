package orch

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join puts sid into roomID and answers with the room state. A member that is
// in another room leaves it first; an older connection of the same user is
// replaced.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID) error {
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrUnknownSession
	}
	user := o.userOf(sid)

	if cur, _, ok := o.Registry.RoomOf(sid); ok {
		if cur == roomID {
			if room, ok := o.Rooms.Get(roomID); ok {
				return o.Send(sid, protocol.VoiceRoomState{RoomID: roomID, Members: room.Members()})
			}
		}
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(cur)).Msg("left previous room")
	}
	for _, e := range o.Registry.MembersOfRoom(roomID) {
		if e.User == user && e.SID != sid {
			log.Info().Str("module", "orch").Str("sid", string(e.SID)).Str("user", string(user)).Msg("replacing stale connection")
			o.Kick(e.SID)
		}
	}

	room := o.Rooms.GetOrCreate(roomID)
	if err := room.AddMember(sid, session); err != nil {
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(roomID)
		}
		if errors.Is(err, core.ErrRoomFull) {
			o.Reject(sid, protocol.ReasonRoomFull)
		}
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join rejected")
		return err
	}
	o.Registry.UpdateRoom(sid, roomID)
	o.Metrics.MemberJoined()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(user)).Str("room", string(roomID)).Msg("added to room")

	_ = o.Send(sid, protocol.VoiceRoomState{RoomID: roomID, Members: room.Members()})
	o.broadcast(room, sid, protocol.UserJoinedVoice{UserID: user})
	return nil
}

// Leave removes sid from its room and tells the others. Empty rooms are
// dropped. The connection itself stays open.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	o.Registry.RemoveRoom(sid)
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return false
	}
	user, removed := room.RemoveMember(sid)
	if !removed {
		return false
	}
	o.Metrics.MemberLeft()
	o.broadcast(room, sid, protocol.UserLeftVoice{UserID: user})
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room emptied")
	}
	return true
}

// Kick removes sid from its room and closes its connection.
func (o *Orchestrator) Kick(sid core.SessionID) {
	o.Metrics.Kicked()
	o.Leave(sid)
	o.Registry.Cancel(sid)
}

// Disconnect is called once the connection of sid is gone.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, e := range o.Registry.MembersOfRoom(id) {
		o.Kick(e.SID)
	}
	o.Rooms.StopRoom(id)
}
