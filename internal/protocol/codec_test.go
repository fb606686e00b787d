package protocol

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecodeWireFieldNames(t *testing.T) {
	raw := `{"type":"webrtc_offer","data":{"offer":{"type":"offer","sdp":"v=0"},"targetUserId":"bob","fromUserId":"alice"}}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	offer, ok := m.(Offer)
	if !ok {
		t.Fatalf("decoded %T, want Offer", m)
	}
	if offer.TargetUserID != "bob" || offer.FromUserID != "alice" {
		t.Fatalf("route = %s -> %s", offer.FromUserID, offer.TargetUserID)
	}
	if offer.Offer.Type != webrtc.SDPTypeOffer || offer.Offer.SDP != "v=0" {
		t.Fatalf("offer = %+v", offer.Offer)
	}

	raw = `{"type":"webrtc_ice_candidate","data":{"candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0},"targetUserId":"bob","fromUserId":"alice"}}`
	m, err = Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	cand := m.(ICECandidate)
	if cand.Candidate.SDPMid == nil || *cand.Candidate.SDPMid != "0" {
		t.Fatalf("sdpMid = %v", cand.Candidate.SDPMid)
	}
}

func TestEncodeUsesEnvelope(t *testing.T) {
	b, err := Encode(JoinVoiceRoom{RoomID: "r1", UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"join_voice_room","data":{"roomId":"r1","userId":"alice"}}`
	if string(b) != want {
		t.Fatalf("Encode = %s, want %s", b, want)
	}

	back, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if back != (JoinVoiceRoom{RoomID: "r1", UserID: "alice"}) {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{`, ErrBadEnvelope},
		{"unknown type", `{"type":"dance","data":{}}`, ErrUnknownType},
		{"missing data", `{"type":"user_left_voice"}`, ErrBadEnvelope},
		{"wrong shape", `{"type":"user_left_voice","data":[1,2]}`, ErrBadEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if m != nil {
				t.Fatalf("message = %#v, want nil", m)
			}
		})
	}
}

func TestWithSenderOverwritesSpoofedSender(t *testing.T) {
	var d Directed = Answer{TargetUserID: "bob", FromUserID: "mallory"}
	d = WithSender(d, "alice")
	if d.Sender() != "alice" || d.Target() != "bob" {
		t.Fatalf("route = %s -> %s", d.Sender(), d.Target())
	}
}
