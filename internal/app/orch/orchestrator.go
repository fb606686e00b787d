// Package orch runs the gateway side of voice rooms: membership, directed
// relay between members and activity fan-out.
package orch

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/metrics"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *metrics.Gateway
}

// Send delivers one message to a single connection.
func (o *Orchestrator) Send(sid core.SessionID, m protocol.Message) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrUnknownSession
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("type", string(m.Type())).Msg("send")
		return err
	}
	return nil
}

// Reject tells sid why its request failed.
func (o *Orchestrator) Reject(sid core.SessionID, reason string) {
	o.Metrics.Rejected(reason)
	_ = o.Send(sid, protocol.ErrorNotice{Reason: reason})
}

// broadcast sends m to everyone in room except from and applies the
// backpressure policy to members that could not take it.
func (o *Orchestrator) broadcast(room core.RoomService, from core.SessionID, m protocol.Message) {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return
	}
	res := room.Broadcast(from, frame)
	o.Metrics.Relayed(string(m.Type()))
	for _, slow := range res.Dropped {
		o.onBackpressure(room, slow)
	}
}

func (o *Orchestrator) onBackpressure(room core.RoomService, sid core.SessionID) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, sid) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.Room().ID)).Msg("kicking slow member")
		o.Kick(sid)
	case app.DropFrame, app.NoAction:
	}
}

func (o *Orchestrator) userOf(sid core.SessionID) domain.UserID {
	if u, ok := o.Registry.User(sid); ok {
		return u.ID
	}
	return domain.UserID(sid)
}
