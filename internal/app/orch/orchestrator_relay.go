package orch

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards an offer, answer or candidate to its target in the sender's
// room. The sender field is always rewritten to the authenticated user.
func (o *Orchestrator) Relay(sid core.SessionID, d protocol.Directed) error {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		o.Reject(sid, protocol.ReasonNotInRoom)
		return core.ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Reject(sid, protocol.ReasonNotInRoom)
		return core.ErrNotInRoom
	}

	msg := protocol.WithSender(d, o.userOf(sid))
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	dst, err := room.SendTo(msg.Target(), frame)
	switch {
	case errors.Is(err, core.ErrNotInRoom):
		log.Debug().Str("module", "orch").Str("target", string(msg.Target())).Msg("relay target not in room")
		o.Reject(sid, protocol.ReasonNotInRoom)
		return err
	case err != nil:
		o.onBackpressure(room, dst)
		return err
	}
	o.Metrics.Relayed(string(msg.Type()))
	return nil
}

// Activity fans a member's speaking report out to the rest of its room.
func (o *Orchestrator) Activity(sid core.SessionID, v protocol.VoiceActivity) error {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return core.ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return core.ErrNotInRoom
	}
	sess.Meta().Speaking.Store(v.IsSpeaking)
	v.RoomID = roomID
	v.UserID = o.userOf(sid)
	o.broadcast(room, sid, v)
	return nil
}
