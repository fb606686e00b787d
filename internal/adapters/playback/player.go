// Package playback drains remote audio tracks into a PCM sink.
package playback

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

type StreamState int32

const (
	StreamPlaying StreamState = iota
	StreamMuted
	StreamEnded
)

func (s StreamState) String() string {
	switch s {
	case StreamPlaying:
		return "playing"
	case StreamMuted:
		return "muted"
	case StreamEnded:
		return "ended"
	}
	return "unknown"
}

type stream struct {
	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
}

type Stats struct {
	Remote  domain.UserID `json:"remote"`
	State   string        `json:"state"`
	Packets uint64        `json:"packets"`
	Bytes   uint64        `json:"bytes"`
}

// Player decodes PCMU payloads to 16-bit little-endian PCM and writes them to
// the sink. Other codecs are drained and counted only.
type Player struct {
	sinkMu sync.Mutex
	sink   io.Writer

	mu      sync.RWMutex
	streams map[domain.UserID]*stream
}

func NewPlayer(sink io.Writer) *Player {
	if sink == nil {
		sink = io.Discard
	}
	return &Player{sink: sink, streams: make(map[domain.UserID]*stream)}
}

// Play starts draining track and returns immediately. A new track for the
// same remote replaces the previous stream.
func (p *Player) Play(ctx context.Context, remote domain.UserID, track *webrtc.TrackRemote) {
	read := func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}
	go p.loop(ctx, remote, track.Codec().MimeType, read)
}

// SetMuted silences one remote locally. Its packets are still drained.
func (p *Player) SetMuted(remote domain.UserID, muted bool) bool {
	p.mu.RLock()
	st, ok := p.streams[remote]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	next := StreamPlaying
	if muted {
		next = StreamMuted
	}
	for {
		cur := st.state.Load()
		if StreamState(cur) == StreamEnded {
			return false
		}
		if st.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

func (p *Player) Stats() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stats, 0, len(p.streams))
	for id, st := range p.streams {
		out = append(out, Stats{
			Remote:  id,
			State:   StreamState(st.state.Load()).String(),
			Packets: st.packets.Load(),
			Bytes:   st.bytes.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (p *Player) register(remote domain.UserID) *stream {
	st := &stream{}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.streams[remote]; ok {
		old.state.Store(int32(StreamEnded))
	}
	p.streams[remote] = st
	return st
}

// loop reads RTP packets until the track ends or ctx is done.
func (p *Player) loop(ctx context.Context, remote domain.UserID, mime string, read func() (*rtp.Packet, error)) {
	logger := log.With().Str("module", "playback").Str("remote", string(remote)).Str("codec", mime).Logger()
	st := p.register(remote)
	decode := strings.EqualFold(mime, webrtc.MimeTypePCMU)
	logger.Info().Bool("decode", decode).Msg("playback started")
	defer st.state.Store(int32(StreamEnded))

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("playback ctx done")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Info().Err(err).Msg("playback read ended")
			return
		}
		if StreamState(st.state.Load()) == StreamEnded {
			return
		}
		st.packets.Add(1)
		if decode && StreamState(st.state.Load()) == StreamPlaying {
			p.write(st, pkt, &logger)
		}
	}
}

func (p *Player) write(st *stream, pkt *rtp.Packet, logger *zerolog.Logger) {
	pcm := g711.DecodeUlaw(pkt.Payload)
	p.sinkMu.Lock()
	n, err := p.sink.Write(pcm)
	p.sinkMu.Unlock()
	st.bytes.Add(uint64(n))
	if err != nil {
		logger.Error().Err(err).Msg("sink write")
	}
}
