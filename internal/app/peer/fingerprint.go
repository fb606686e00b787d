package peer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Fingerprint is the ordered list of media kinds ("audio", "video", ...) of
// a session description. Both ends must agree on it, otherwise each side
// maps a different logical track to the same media line.
type Fingerprint []string

func (f Fingerprint) Equal(other Fingerprint) bool { return slices.Equal(f, other) }

func (f Fingerprint) String() string { return strings.Join(f, ",") }

// ParseFingerprint reads the m= lines of an SDP body in declaration order.
func ParseFingerprint(body string) (Fingerprint, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}
	fp := make(Fingerprint, 0, len(parsed.MediaDescriptions))
	for _, md := range parsed.MediaDescriptions {
		fp = append(fp, md.MediaName.Media)
	}
	return fp, nil
}

func FingerprintOf(desc webrtc.SessionDescription) (Fingerprint, error) {
	return ParseFingerprint(desc.SDP)
}
