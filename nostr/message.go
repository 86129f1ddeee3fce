package nostr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownRelayMessage is returned for relay frames with an unknown label.
var ErrUnknownRelayMessage = errors.New("unknown relay message")

// RelayMessage is a frame received from a relay.
type RelayMessage interface {
	relayMessage()
}

// EventMessage delivers a note for one of our subscriptions.
type EventMessage struct {
	SubscriptionID string
	Note           *Note
}

// OKMessage acknowledges a published note.
type OKMessage struct {
	NoteID   string
	Accepted bool
	Reason   string
}

// EOSEMessage marks the end of stored notes for a subscription.
type EOSEMessage struct {
	SubscriptionID string
}

// NoticeMessage is a human readable message from the relay.
type NoticeMessage struct {
	Message string
}

// ClosedMessage reports that the relay ended a subscription.
type ClosedMessage struct {
	SubscriptionID string
	Reason         string
}

func (EventMessage) relayMessage()  {}
func (OKMessage) relayMessage()     {}
func (EOSEMessage) relayMessage()   {}
func (NoticeMessage) relayMessage() {}
func (ClosedMessage) relayMessage() {}

// ParseRelayMessage decodes a relay frame. Notes in EVENT frames are decoded
// but not verified.
func ParseRelayMessage(data []byte) (RelayMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedNote)
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}

	str := func(i int) string {
		if i >= len(frame) {
			return ""
		}
		var s string
		_ = json.Unmarshal(frame[i], &s)
		return s
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return nil, fmt.Errorf("%w: short EVENT", ErrMalformedNote)
		}
		var n Note
		if err := json.Unmarshal(frame[2], &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
		}
		return EventMessage{SubscriptionID: str(1), Note: &n}, nil

	case "OK":
		var accepted bool
		if len(frame) > 2 {
			_ = json.Unmarshal(frame[2], &accepted)
		}
		return OKMessage{
			NoteID:   str(1),
			Accepted: accepted,
			Reason:   str(3),
		}, nil

	case "EOSE":
		return EOSEMessage{SubscriptionID: str(1)}, nil

	case "NOTICE":
		return NoticeMessage{Message: str(1)}, nil

	case "CLOSED":
		return ClosedMessage{
			SubscriptionID: str(1),
			Reason:         str(2),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelayMessage, label)
	}
}

// EncodeEvent returns the frame publishing a note.
func EncodeEvent(n *Note) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", n})
}

// EncodeReq returns the frame opening a subscription.
func EncodeReq(subID string, filters ...Filter) ([]byte, error) {
	frame := make([]interface{}, 0, len(filters)+2)
	frame = append(frame, "REQ", subID)
	for _, f := range filters {
		frame = append(frame, f)
	}

	return json.Marshal(frame)
}

// EncodeClose returns the frame closing a subscription.
func EncodeClose(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}
