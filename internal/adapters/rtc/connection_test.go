package rtc

import (
	"context"
	"testing"

	"github.com/dkeye/voicemesh/internal/app/peer"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/webrtc/v4"
)

func audioTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		"audio", id,
	)
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func TestOfferAnswerKeepsAudioFirst(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTransport(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}

	offerer, err := tr.NewConnection(ctx, core.ConnectionHooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer offerer.Close()
	answerer, err := tr.NewConnection(ctx, core.ConnectionHooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer answerer.Close()

	if err := offerer.AddTrack(audioTrack(t, "a")); err != nil {
		t.Fatal(err)
	}
	if err := answerer.AddTrack(audioTrack(t, "b")); err != nil {
		t.Fatal(err)
	}

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := offerer.SetLocalDescription(ctx, offer); err != nil {
		t.Fatal(err)
	}
	if err := answerer.SetRemoteDescription(ctx, offer); err != nil {
		t.Fatal(err)
	}
	answer, err := answerer.CreateAnswer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := answerer.SetLocalDescription(ctx, answer); err != nil {
		t.Fatal(err)
	}
	if err := offerer.SetRemoteDescription(ctx, answer); err != nil {
		t.Fatal(err)
	}

	local, err := peer.FingerprintOf(offer)
	if err != nil {
		t.Fatal(err)
	}
	remote, err := peer.FingerprintOf(answer)
	if err != nil {
		t.Fatal(err)
	}
	if !local.Equal(peer.Fingerprint{"audio"}) || !local.Equal(remote) {
		t.Fatalf("offer %v answer %v", local, remote)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, err := NewTransport(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	failed := 0
	conn, err := tr.NewConnection(context.Background(), core.ConnectionHooks{OnFailed: func() { failed++ }})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if failed != 0 {
		t.Fatalf("OnFailed called %d times on close", failed)
	}
}

func TestConfigFromURLs(t *testing.T) {
	cfg := ConfigFromURLs([]string{"stun:stun.example.org:3478", "", "turn:turn.example.org"})
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1].URLs[0] != "turn:turn.example.org" {
		t.Fatalf("ice servers = %+v", cfg.ICEServers)
	}
	if len(ConfigFromURLs(nil).ICEServers) != 0 {
		t.Fatal("expected no ICE servers")
	}
}
