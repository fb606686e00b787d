package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrMediaAcquisition       = errors.New("media acquisition failed")
	ErrNegotiationMismatch    = errors.New("negotiation media order mismatch")
	ErrStaleMessage           = errors.New("stale signaling message")
	ErrTransportSend          = errors.New("signaling send failed")
	ErrRenegotiationExhausted = errors.New("renegotiation retries exhausted")
	ErrSessionClosed          = errors.New("peer session closed")
	ErrNotJoined              = errors.New("not joined to a voice room")
	ErrAlreadyJoined          = errors.New("already joined to a voice room")
	ErrJoinRejected           = errors.New("join rejected by gateway")
	ErrRequestRejected        = errors.New("request rejected by gateway")
)

// MediaAcquisitionError aborts a join; no peer sessions exist afterwards.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMediaAcquisition, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() []error { return []error{ErrMediaAcquisition, e.Err} }

// RenegotiationExhaustedError is reported for one peer only.
type RenegotiationExhaustedError struct {
	Peer     domain.UserID
	Attempts int
	Last     error
}

func (e *RenegotiationExhaustedError) Error() string {
	return fmt.Sprintf("peer %s: %s after %d attempts: %v", e.Peer, ErrRenegotiationExhausted, e.Attempts, e.Last)
}

func (e *RenegotiationExhaustedError) Unwrap() []error {
	return []error{ErrRenegotiationExhausted, e.Last}
}
