package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	SourceSilence = "silence"
	SourceStdin   = "-"
	tonePrefix    = "tone:"
)

// openSource resolves a source name into raw 16-bit little-endian mono PCM.
// Silence is represented by a nil reader.
func openSource(name string, sampleRate int, stdin io.Reader) (io.ReadCloser, error) {
	switch {
	case name == "" || name == SourceSilence:
		return nil, nil
	case name == SourceStdin:
		return io.NopCloser(stdin), nil
	case strings.HasPrefix(name, tonePrefix):
		hz, err := strconv.ParseFloat(strings.TrimPrefix(name, tonePrefix), 64)
		if err != nil || hz <= 0 || hz >= float64(sampleRate)/2 {
			return nil, fmt.Errorf("bad tone frequency %q", name)
		}
		return io.NopCloser(&toneReader{step: 2 * math.Pi * hz / float64(sampleRate), amplitude: 0.3}), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	return f, nil
}

// toneReader produces an endless sine wave.
type toneReader struct {
	phase     float64
	step      float64
	amplitude float64
}

func (t *toneReader) Read(p []byte) (int, error) {
	n := len(p) &^ 1
	for i := 0; i < n; i += 2 {
		v := int16(t.amplitude * math.MaxInt16 * math.Sin(t.phase))
		binary.LittleEndian.PutUint16(p[i:], uint16(v))
		t.phase += t.step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return n, nil
}
