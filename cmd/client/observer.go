package main

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

type logObserver struct{}

func (logObserver) OnUserJoined(id domain.UserID) {
	log.Info().Str("module", "client").Str("user", string(id)).Msg("user joined")
}

func (logObserver) OnUserLeft(id domain.UserID) {
	log.Info().Str("module", "client").Str("user", string(id)).Msg("user left")
}

func (logObserver) OnUserConnected(id domain.UserID) {
	log.Info().Str("module", "client").Str("user", string(id)).Msg("audio connected")
}

func (logObserver) OnVoiceActivity(v protocol.VoiceActivity) {
	log.Debug().Str("module", "client").Str("user", string(v.UserID)).Bool("speaking", v.IsSpeaking).Float64("level", v.Level).Msg("activity")
}

func (logObserver) OnPeerFailed(err error) {
	log.Warn().Err(err).Str("module", "client").Msg("peer given up")
}

func (logObserver) OnError(err error) {
	log.Error().Err(err).Str("module", "client").Msg("mesh error")
}
