package peer

// State of one negotiation. Transitions:
//
//	Idle -> OfferSent -> Stable           (we offered, answer matched)
//	Idle -> OfferReceived -> Stable       (we answered)
//	Stable -> Renegotiating -> Stable     (remote offered again)
//	any -> Closed
type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	Stable
	Renegotiating
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer_sent"
	case OfferReceived:
		return "offer_received"
	case Stable:
		return "stable"
	case Renegotiating:
		return "renegotiating"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// hasRemoteDescription reports whether candidates can be applied directly.
func (s State) hasRemoteDescription() bool {
	return s == Stable || s == Renegotiating
}
