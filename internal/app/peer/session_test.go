package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fixture struct {
	session   *Session
	transport *coretest.Transport
	gateway   *coretest.Gateway
	clock     *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: &coretest.Transport{},
		gateway:   &coretest.Gateway{},
		clock:     clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.session = New(Config{
		Self:      "alice",
		Remote:    "bob",
		Room:      "room",
		Transport: f.transport,
		Audio:     coretest.NewAudio(),
		Gateway:   f.gateway,
		Clock:     f.clock,
	})
	return f
}

func TestInitiateSendsSingleOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.session.Initiate(ctx); err != nil {
		t.Fatal(err)
	}
	if f.session.State() != OfferSent {
		t.Fatalf("state = %s, want offer_sent", f.session.State())
	}
	if !f.session.LocalFingerprint().Equal(Fingerprint{"audio"}) {
		t.Fatalf("fingerprint = %v", f.session.LocalFingerprint())
	}
	if got := f.transport.Last().Tracks(); got != 1 {
		t.Fatalf("tracks added = %d, want 1", got)
	}

	// Second call while the offer is outstanding must not produce another offer.
	if err := f.session.Initiate(ctx); err != nil {
		t.Fatal(err)
	}
	offers := coretest.SentOf[protocol.Offer](f.gateway)
	if len(offers) != 1 {
		t.Fatalf("offers sent = %d, want 1", len(offers))
	}
	if offers[0].TargetUserID != "bob" || offers[0].FromUserID != "alice" {
		t.Fatalf("offer route = %+v", offers[0])
	}
	if len(f.transport.Connections()) != 1 {
		t.Fatalf("connections = %d, want 1", len(f.transport.Connections()))
	}
}

func TestMatchingAnswerFlushesBufferedCandidatesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.session.Initiate(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		if err := f.session.OnCandidate(coretest.Candidate(i)); err != nil {
			t.Fatal(err)
		}
	}
	if f.session.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", f.session.Buffered())
	}
	conn := f.transport.Last()
	if len(conn.Candidates()) != 0 {
		t.Fatal("candidates applied before the remote description")
	}

	if err := f.session.OnAnswerReceived(ctx, coretest.Description(webrtc.SDPTypeAnswer, "audio")); err != nil {
		t.Fatal(err)
	}
	if f.session.State() != Stable {
		t.Fatalf("state = %s, want stable", f.session.State())
	}
	applied := conn.Candidates()
	if len(applied) != 3 {
		t.Fatalf("applied = %d, want 3", len(applied))
	}
	for i, c := range applied {
		if c.Candidate != coretest.Candidate(i+1).Candidate {
			t.Fatalf("candidate %d out of order: %s", i, c.Candidate)
		}
	}
	if f.session.Buffered() != 0 {
		t.Fatal("buffer not drained")
	}

	// Later candidates go straight through.
	if err := f.session.OnCandidate(coretest.Candidate(4)); err != nil {
		t.Fatal(err)
	}
	if len(conn.Candidates()) != 4 {
		t.Fatalf("applied = %d, want 4", len(conn.Candidates()))
	}
}

func TestMismatchedAnswerClosesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.session.Initiate(ctx); err != nil {
		t.Fatal(err)
	}
	_ = f.session.OnCandidate(coretest.Candidate(1))

	err := f.session.OnAnswerReceived(ctx, coretest.Description(webrtc.SDPTypeAnswer, "video", "audio"))
	if !errors.Is(err, core.ErrNegotiationMismatch) {
		t.Fatalf("err = %v, want ErrNegotiationMismatch", err)
	}
	if f.session.State() != Closed {
		t.Fatalf("state = %s, want closed", f.session.State())
	}
	conn := f.transport.Last()
	if !conn.Closed() || conn.Remote() != nil {
		t.Fatal("mismatched answer must not be applied and the connection must be released")
	}
	if f.session.Buffered() != 0 {
		t.Fatal("buffered candidates survived close")
	}
}

func TestStaleAnswerIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	answer := coretest.Description(webrtc.SDPTypeAnswer, "audio")

	if err := f.session.OnAnswerReceived(ctx, answer); !errors.Is(err, core.ErrStaleMessage) {
		t.Fatalf("answer in idle: err = %v", err)
	}
	if f.session.State() != Idle {
		t.Fatalf("state = %s, want idle", f.session.State())
	}

	_ = f.session.Initiate(ctx)
	if err := f.session.OnAnswerReceived(ctx, answer); err != nil {
		t.Fatal(err)
	}
	// Duplicate delivery of the same answer.
	if err := f.session.OnAnswerReceived(ctx, answer); !errors.Is(err, core.ErrStaleMessage) {
		t.Fatalf("duplicate answer: err = %v", err)
	}
	if f.session.State() != Stable {
		t.Fatalf("state = %s, want stable", f.session.State())
	}
}

func TestCandidatesAfterCloseAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.session.Initiate(ctx)
	f.session.Close()
	f.session.Close()

	if err := f.session.OnCandidate(coretest.Candidate(1)); !errors.Is(err, core.ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if f.session.Buffered() != 0 {
		t.Fatal("candidate buffered after close")
	}
	if err := f.session.OnAnswerReceived(ctx, coretest.Description(webrtc.SDPTypeAnswer, "audio")); !errors.Is(err, core.ErrStaleMessage) {
		t.Fatalf("answer after close: err = %v", err)
	}
	if err := f.session.Initiate(ctx); !errors.Is(err, core.ErrSessionClosed) {
		t.Fatalf("initiate after close: err = %v", err)
	}
}

func TestOfferReceivedAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.session.OnCandidate(coretest.Candidate(1))
	if err := f.session.OnOfferReceived(ctx, coretest.Description(webrtc.SDPTypeOffer, "audio")); err != nil {
		t.Fatal(err)
	}
	if f.session.State() != Stable {
		t.Fatalf("state = %s, want stable", f.session.State())
	}
	answers := coretest.SentOf[protocol.Answer](f.gateway)
	if len(answers) != 1 || answers[0].TargetUserID != "bob" {
		t.Fatalf("answers = %+v", answers)
	}
	if got := f.transport.Last().Candidates(); len(got) != 1 {
		t.Fatalf("buffered candidate not applied: %v", got)
	}
}

func TestOfferInStableRenegotiates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := coretest.Description(webrtc.SDPTypeOffer, "audio")

	_ = f.session.OnOfferReceived(ctx, offer)
	first := f.transport.Last()

	f.clock.Advance(time.Second)
	if err := f.session.OnOfferReceived(ctx, offer); err != nil {
		t.Fatal(err)
	}
	if f.session.State() != Stable {
		t.Fatalf("state = %s, want stable", f.session.State())
	}
	if !first.Closed() {
		t.Fatal("old connection not released")
	}
	if len(f.transport.Connections()) != 2 {
		t.Fatalf("connections = %d, want 2", len(f.transport.Connections()))
	}
	if want := f.clock.Now(); !f.session.LastRenegotiation().Equal(want) {
		t.Fatalf("last renegotiation = %v, want %v", f.session.LastRenegotiation(), want)
	}
	if n := len(coretest.SentOf[protocol.Answer](f.gateway)); n != 2 {
		t.Fatalf("answers = %d, want 2", n)
	}
	if f.session.Generation() != 2 {
		t.Fatalf("generation = %d, want 2", f.session.Generation())
	}
}

func TestHooksAreBuiltPerConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var gens []uint64
	f.session.hooks = func(gen uint64) core.ConnectionHooks {
		gens = append(gens, gen)
		return core.ConnectionHooks{}
	}

	_ = f.session.Initiate(ctx)
	_ = f.session.OnAnswerReceived(ctx, coretest.Description(webrtc.SDPTypeAnswer, "audio"))
	_ = f.session.OnOfferReceived(ctx, coretest.Description(webrtc.SDPTypeOffer, "audio"))

	if len(gens) != 2 || gens[0] != 1 || gens[1] != 2 {
		t.Fatalf("hook generations = %v, want [1 2]", gens)
	}
}

func TestOfferWhileOfferOutstandingIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.session.Initiate(ctx)

	err := f.session.OnOfferReceived(ctx, coretest.Description(webrtc.SDPTypeOffer, "audio"))
	if !errors.Is(err, core.ErrStaleMessage) {
		t.Fatalf("err = %v, want ErrStaleMessage", err)
	}
	if f.session.State() != OfferSent {
		t.Fatalf("state = %s, want offer_sent", f.session.State())
	}
}

func TestTransportFailureCloses(t *testing.T) {
	f := newFixture(t)
	f.transport.SetRemoteErr = errors.New("dtls fingerprint rejected")
	ctx := context.Background()

	err := f.session.OnOfferReceived(ctx, coretest.Description(webrtc.SDPTypeOffer, "audio"))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.session.State() != Closed {
		t.Fatalf("state = %s, want closed", f.session.State())
	}
	if len(coretest.SentOf[protocol.Answer](f.gateway)) != 0 {
		t.Fatal("answer sent after failure")
	}
}

func TestSendFailureKeepsOfferOutstanding(t *testing.T) {
	f := newFixture(t)
	f.gateway.Err = errors.New("socket closed")

	err := f.session.Initiate(context.Background())
	if !errors.Is(err, core.ErrTransportSend) {
		t.Fatalf("err = %v, want ErrTransportSend", err)
	}
	if f.session.State() != OfferSent {
		t.Fatalf("state = %s, want offer_sent", f.session.State())
	}
}
