package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadEnvelope = errors.New("bad envelope")
)

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Data: data})
}

func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	switch env.Type {
	case TypeJoinVoiceRoom:
		return decodeAs[JoinVoiceRoom](env)
	case TypeLeaveVoiceRoom:
		return decodeAs[LeaveVoiceRoom](env)
	case TypeUserJoinedVoice:
		return decodeAs[UserJoinedVoice](env)
	case TypeUserLeftVoice:
		return decodeAs[UserLeftVoice](env)
	case TypeOffer:
		return decodeAs[Offer](env)
	case TypeAnswer:
		return decodeAs[Answer](env)
	case TypeICECandidate:
		return decodeAs[ICECandidate](env)
	case TypeVoiceActivity:
		return decodeAs[VoiceActivity](env)
	case TypeVoiceRoomState:
		return decodeAs[VoiceRoomState](env)
	case TypeError:
		return decodeAs[ErrorNotice](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodeAs[T Message](env envelope) (Message, error) {
	var v T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrBadEnvelope, env.Type)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadEnvelope, env.Type, err)
	}
	return v, nil
}
