// Package vad turns a local audio energy signal into speaking/silent events.
//
// It is a threshold with a minimum reporting interval, not a learned model:
// an event goes out when the speaking flag flips, or when the debounce
// interval has passed since the last event so listeners get refreshed during
// long stretches of speech or silence.
package vad

import (
	"math"
	"time"
)

const (
	DefaultThreshold = 25
	DefaultDebounce  = 500 * time.Millisecond
	// DefaultInterval is roughly one animation frame at 60 Hz.
	DefaultInterval = 16 * time.Millisecond
)

type Config struct {
	// Threshold on the 0..255 byte spectrum scale; speaking is level > Threshold.
	Threshold float64
	Debounce  time.Duration
	Interval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Debounce:  DefaultDebounce,
		Interval:  DefaultInterval,
	}
}

type Event struct {
	Level    float64
	Speaking bool
	At       time.Time
}

// Detector is not safe for concurrent use; the sampler owns it.
type Detector struct {
	cfg         Config
	speaking    bool
	lastEmitted time.Time
	primed      bool
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Level is the mean of the spectrum bins rounded to one decimal.
// An empty frame yields NaN, which Observe rejects.
func Level(bins []byte) float64 {
	if len(bins) == 0 {
		return math.NaN()
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	avg := float64(sum) / float64(len(bins))
	return math.Round(avg*10) / 10
}

// Observe feeds one reading taken at now. The first reading only sets the
// baseline clock, so a silent start emits nothing.
func (d *Detector) Observe(level float64, now time.Time) (Event, bool) {
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
		return Event{}, false
	}
	if !d.primed {
		d.primed = true
		d.lastEmitted = now
	}

	speaking := level > d.cfg.Threshold
	changed := speaking != d.speaking
	stale := now.Sub(d.lastEmitted) >= d.cfg.Debounce
	if !changed && !stale {
		return Event{}, false
	}

	d.lastEmitted = now
	d.speaking = speaking
	return Event{Level: level, Speaking: speaking, At: now}, true
}

func (d *Detector) Speaking() bool { return d.speaking }

func (d *Detector) Reset() {
	d.speaking = false
	d.primed = false
	d.lastEmitted = time.Time{}
}
