package signal

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRelay(sid core.SessionID, d protocol.Directed) {
	if err := ctl.Orch.Relay(sid, d); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(d.Type())).Msg("relay")
	}
}

func (ctl *SignalWSController) handleActivity(sid core.SessionID, v protocol.VoiceActivity) {
	if err := ctl.Orch.Activity(sid, v); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("activity outside room")
	}
}
