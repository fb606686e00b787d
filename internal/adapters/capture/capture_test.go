package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/core"
)

func TestAcquireToneFeedsAnalyser(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c := New(Config{Source: "tone:1000", SampleRate: SampleRate, FFTSize: DefaultFFTSize}, clk)

	audio, err := c.Acquire(context.Background(), core.DefaultAudioConstraints())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release(audio)
	if audio.Track() == nil || audio.Track().Kind().String() != "audio" {
		t.Fatalf("track = %v", audio.Track())
	}

	clk.WaitForTimers(1)
	bins := make([]byte, audio.Bins())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		clk.Advance(FrameDuration)
		time.Sleep(time.Millisecond)
		audio.FrequencyData(bins)
		if bins[32] > 0 {
			return
		}
	}
	t.Fatal("analyser never saw the tone")
}

func TestEnabledFlag(t *testing.T) {
	c := New(DefaultConfig(), clock.NewFake(time.Now()))
	audio, err := c.Acquire(context.Background(), core.DefaultAudioConstraints())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release(audio)

	if !audio.Enabled() {
		t.Fatal("new track disabled")
	}
	audio.SetEnabled(false)
	if audio.Enabled() {
		t.Fatal("SetEnabled(false) ignored")
	}
}

func TestAcquireRejectsBadSources(t *testing.T) {
	cases := []Config{
		{Source: SourceSilence, SampleRate: 48000},
		{Source: "tone:abc", SampleRate: SampleRate},
		{Source: "tone:5000", SampleRate: SampleRate},
		{Source: "/nonexistent/voicemesh.pcm", SampleRate: SampleRate},
	}
	for _, cfg := range cases {
		if _, err := New(cfg, nil).Acquire(context.Background(), core.DefaultAudioConstraints()); err == nil {
			t.Fatalf("%+v: expected error", cfg)
		}
	}
	_, err := New(Config{SampleRate: 16000}, nil).Acquire(context.Background(), core.AudioConstraints{})
	if !errors.Is(err, ErrUnsupportedRate) {
		t.Fatalf("err = %v", err)
	}
}

func TestStdinSource(t *testing.T) {
	c := New(Config{Source: SourceStdin, SampleRate: SampleRate}, clock.NewFake(time.Now()))
	c.stdin = strings.NewReader("")
	audio, err := c.Acquire(context.Background(), core.DefaultAudioConstraints())
	if err != nil {
		t.Fatal(err)
	}
	c.Release(audio)
	c.Release(audio)
}
