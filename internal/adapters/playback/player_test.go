package playback

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

func script(packets ...[]byte) func() (*rtp.Packet, error) {
	i := 0
	return func() (*rtp.Packet, error) {
		if i >= len(packets) {
			return nil, io.EOF
		}
		pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: packets[i]}
		i++
		return pkt, nil
	}
}

func TestLoopDecodesPCMU(t *testing.T) {
	var sink bytes.Buffer
	p := NewPlayer(&sink)

	p.loop(context.Background(), "bob", webrtc.MimeTypePCMU, script(
		bytes.Repeat([]byte{0xFF}, 160),
		bytes.Repeat([]byte{0x00}, 160),
	))

	if sink.Len() != 2*2*160 {
		t.Fatalf("sink bytes = %d, want %d", sink.Len(), 2*2*160)
	}
	stats := p.Stats()
	if len(stats) != 1 || stats[0].Packets != 2 || stats[0].State != "ended" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLoopCountsOtherCodecs(t *testing.T) {
	var sink bytes.Buffer
	p := NewPlayer(&sink)

	p.loop(context.Background(), "bob", webrtc.MimeTypeOpus, script([]byte{1, 2, 3}))

	if sink.Len() != 0 {
		t.Fatalf("opus payload written to sink: %d bytes", sink.Len())
	}
	if stats := p.Stats(); stats[0].Packets != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLoopStopsOnCanceledContext(t *testing.T) {
	p := NewPlayer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reads := 0
	p.loop(ctx, "bob", webrtc.MimeTypePCMU, func() (*rtp.Packet, error) {
		reads++
		return &rtp.Packet{}, nil
	})
	if reads != 0 {
		t.Fatalf("reads after cancel = %d", reads)
	}
}

func TestSetMutedUnknownRemote(t *testing.T) {
	if NewPlayer(nil).SetMuted("nobody", true) {
		t.Fatal("muted a remote without a stream")
	}
}
