package core

import (
	"errors"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("no device")
	var err error = &MediaAcquisitionError{Err: cause}
	if !errors.Is(err, ErrMediaAcquisition) || !errors.Is(err, cause) {
		t.Fatalf("%v does not match its sentinel and cause", err)
	}

	err = &RenegotiationExhaustedError{Peer: "bob", Attempts: 3, Last: ErrNegotiationMismatch}
	if !errors.Is(err, ErrRenegotiationExhausted) || !errors.Is(err, ErrNegotiationMismatch) {
		t.Fatalf("%v does not match", err)
	}
	var target *RenegotiationExhaustedError
	if !errors.As(err, &target) || target.Peer != "bob" {
		t.Fatalf("errors.As failed for %v", err)
	}
}
