package mesh

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

// Mute flips the shared local track on and off. It never touches peer
// sessions: connected peers keep receiving, just silence.
type Mute struct {
	mu    sync.Mutex
	audio core.LocalAudio
	muted bool
}

// attach applies the current mute state to a freshly acquired track.
func (m *Mute) attach(a core.LocalAudio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = a
	a.SetEnabled(!m.muted)
}

func (m *Mute) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = nil
}

// Set mutes or unmutes and returns the resulting muted state. Without a
// local track the state is kept and applied on the next attach.
func (m *Mute) Set(muted bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.audio != nil {
		m.audio.SetEnabled(!muted)
	}
	m.logChange()
	return m.muted
}

// Toggle inverts the track's current enabled flag, or the kept state when
// detached.
func (m *Mute) Toggle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio == nil {
		m.muted = !m.muted
	} else {
		enabled := !m.audio.Enabled()
		m.audio.SetEnabled(enabled)
		m.muted = !enabled
	}
	m.logChange()
	return m.muted
}

func (m *Mute) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Mute) logChange() {
	log.Info().Str("module", "mesh.mute").Bool("muted", m.muted).Msg("mute changed")
}
