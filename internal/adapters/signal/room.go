package signal

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, p protocol.JoinVoiceRoom) {
	roomID, err := domain.ParseRoomID(string(p.RoomID))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join payload")
		ctl.Orch.Reject(sid, protocol.ReasonBadPayload)
		return
	}
	user, ok := ctl.Orch.Registry.User(sid)
	if !ok {
		return
	}
	if p.UserID != "" && p.UserID != user.ID {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("claimed", string(p.UserID)).Msg("join user differs from connection user")
	}
	if !ctl.Limiter.Allow(user.ID) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.Orch.Reject(sid, protocol.ReasonRateLimited)
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join")
	_ = ctl.Orch.Join(sid, roomID)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, p protocol.LeaveVoiceRoom) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Msg("leave")
	ctl.Orch.Leave(sid)
}
