package capture

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Analyser keeps a byte frequency spectrum of the most recent samples:
// Blackman-windowed FFT magnitudes, smoothed over time and mapped from
// [MinDecibels, MaxDecibels] onto 0..255.
type Analyser struct {
	mu        sync.Mutex
	size      int
	smoothing float64
	fft       *fourier.FFT

	ring     []float64
	pos      int
	seq      []float64
	coeffs   []complex128
	smoothed []float64
	bins     []byte
}

// NewAnalyser accepts power-of-two sizes in [32, 32768]; other sizes that are not a power of two in [32, 32768]
// fall back to DefaultFFTSize.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize > 32768 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		size:      fftSize,
		smoothing: DefaultSmoothing,
		fft:       fourier.NewFFT(fftSize),
		ring:      make([]float64, fftSize),
		seq:       make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		bins:      make([]byte, fftSize/2),
	}
}

func (a *Analyser) Bins() int { return a.size / 2 }

// Write appends samples to the time-domain window and recomputes the spectrum.
func (a *Analyser) Write(pcm []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range pcm {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % a.size
	}
	a.compute()
}

func (a *Analyser) compute() {
	for i := range a.seq {
		a.seq[i] = a.ring[(a.pos+i)%a.size]
	}
	window.Blackman(a.seq)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	scale := 255 / (MaxDecibels - MinDecibels)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		db := 20 * math.Log10(a.smoothed[k])
		v := (db - MinDecibels) * scale
		switch {
		case math.IsNaN(v) || v <= 0:
			a.bins[k] = 0
		case v >= 255:
			a.bins[k] = 255
		default:
			a.bins[k] = byte(v)
		}
	}
}

// FrequencyData copies the current spectrum into dst and returns the count.
func (a *Analyser) FrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copy(dst, a.bins)
}
