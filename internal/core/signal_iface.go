package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/protocol"
)

// Frame is a raw encoded signaling envelope.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Gateway is the participant's view of the signaling channel. Delivery between
// two fixed participants is in send order; nothing is promised across pairs.
type Gateway interface {
	Send(ctx context.Context, m protocol.Message) error
}
