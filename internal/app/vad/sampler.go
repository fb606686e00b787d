package vad

import (
	"context"

	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/rs/zerolog/log"
)

// Source is the local audio analyser.
type Source interface {
	FrequencyData(dst []byte) int
	Bins() int
}

// Sampler reads the source on every tick and reports detector events.
type Sampler struct {
	src   Source
	det   *Detector
	clock clock.Clock
	cfg   Config
	emit  func(Event)
}

func NewSampler(src Source, cfg Config, clk clock.Clock, emit func(Event)) *Sampler {
	return &Sampler{
		src:   src,
		det:   NewDetector(cfg),
		clock: clk,
		cfg:   cfg,
		emit:  emit,
	}
}

// Run blocks until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]byte, s.src.Bins())
	log.Debug().Str("module", "vad").Dur("interval", interval).Int("bins", len(buf)).Msg("sampler started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "vad").Msg("sampler stopped")
			return
		case now := <-ticker.C():
			n := s.src.FrequencyData(buf)
			if ev, ok := s.det.Observe(Level(buf[:n]), now); ok {
				s.emit(ev)
			}
		}
	}
}
