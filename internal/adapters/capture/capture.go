// Package capture turns a raw PCM source into the local audio track: frames
// are G.711 µ-law encoded onto a pion sample track and fed to an analyser.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const (
	SampleRate    = 8000
	FrameDuration = 20 * time.Millisecond
)

var ErrUnsupportedRate = errors.New("unsupported sample rate")

type Config struct {
	Source     string
	SampleRate int
	FFTSize    int
}

func DefaultConfig() Config {
	return Config{Source: SourceSilence, SampleRate: SampleRate, FFTSize: DefaultFFTSize}
}

type Capture struct {
	cfg   Config
	clock clock.Clock
	stdin io.Reader
}

func New(cfg Config, clk clock.Clock) *Capture {
	if clk == nil {
		clk = clock.Real()
	}
	return &Capture{cfg: cfg, clock: clk, stdin: os.Stdin}
}

// Acquire opens the configured source and starts pacing frames onto a new
// track. Constraints that raw PCM cannot honor are only logged.
func (c *Capture) Acquire(_ context.Context, constraints core.AudioConstraints) (core.LocalAudio, error) {
	if c.cfg.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRate, c.cfg.SampleRate)
	}
	src, err := openSource(c.cfg.Source, c.cfg.SampleRate, c.stdin)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate, Channels: 1},
		"audio", "voicemesh-"+uuid.NewString(),
	)
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		return nil, fmt.Errorf("new track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &localAudio{
		track:    track,
		analyser: NewAnalyser(c.cfg.FFTSize),
		src:      src,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	a.enabled.Store(true)
	go a.pump(ctx, c.clock)

	log.Info().
		Str("module", "capture").
		Str("source", c.cfg.Source).
		Int("requested_rate", constraints.SampleRate).
		Bool("echo_cancellation", constraints.EchoCancellation).
		Msg("microphone acquired")
	return a, nil
}

func (c *Capture) Release(la core.LocalAudio) {
	a, ok := la.(*localAudio)
	if !ok {
		return
	}
	a.stop()
	log.Info().Str("module", "capture").Msg("microphone released")
}

type localAudio struct {
	track    *webrtc.TrackLocalStaticSample
	analyser *Analyser
	enabled  atomic.Bool

	src      io.ReadCloser
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (a *localAudio) Track() webrtc.TrackLocal          { return a.track }
func (a *localAudio) Enabled() bool                     { return a.enabled.Load() }
func (a *localAudio) SetEnabled(on bool)                { a.enabled.Store(on) }
func (a *localAudio) Bins() int                         { return a.analyser.Bins() }
func (a *localAudio) FrequencyData(dst []byte) int      { return a.analyser.FrequencyData(dst) }

func (a *localAudio) stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		if a.src != nil {
			_ = a.src.Close()
		}
	})
}

// pump emits one frame per tick. A disabled track or an exhausted source
// sends silence so the remote side keeps a steady stream.
func (a *localAudio) pump(ctx context.Context, clk clock.Clock) {
	defer close(a.done)
	samples := SampleRate * int(FrameDuration) / int(time.Second)
	raw := make([]byte, 2*samples)
	pcm := make([]int16, samples)
	src := a.src

	ticker := clk.NewTicker(FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		if src != nil {
			if _, err := io.ReadFull(src, raw); err != nil {
				log.Info().Err(err).Str("module", "capture").Msg("source ended, sending silence")
				src = nil
			}
		}
		if src == nil || !a.enabled.Load() {
			clear(raw)
		}
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		a.analyser.Write(pcm)

		if err := a.track.WriteSample(media.Sample{Data: g711.EncodeUlaw(raw), Duration: FrameDuration}); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("write sample")
		}
	}
}
