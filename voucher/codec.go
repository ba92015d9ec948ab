package voucher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/jobwork-ledger/generic"
)

// eventJSON is the stored and wire shape of an Event. Details stay raw until
// event_type tells us which payload to decode.
type eventJSON struct {
	EventID       generic.EventID `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        generic.UserID  `json:"user_id"`
	Comment       string          `json:"comment,omitempty"`
	ParentEventID generic.EventID `json:"parent_event_id,omitempty"`
	Details       json.RawMessage `json:"details"`
}

// MarshalJSON encodes the event with its details under "details".
func (e Event) MarshalJSON() ([]byte, error) {
	var details json.RawMessage
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		details = raw
	} else {
		details = json.RawMessage("null")
	}
	return json.Marshal(eventJSON{
		EventID:       e.ID,
		EventType:     e.Type,
		Timestamp:     e.Timestamp,
		UserID:        e.UserID,
		Comment:       e.Comment,
		ParentEventID: e.ParentEventID,
		Details:       details,
	})
}

// UnmarshalJSON decodes details according to event_type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	details, err := DecodeDetails(raw.EventType, raw.Details)
	if err != nil {
		return err
	}
	*e = Event{
		ID:            raw.EventID,
		Type:          raw.EventType,
		Timestamp:     raw.Timestamp,
		UserID:        raw.UserID,
		Comment:       raw.Comment,
		ParentEventID: raw.ParentEventID,
		Details:       details,
	}
	return nil
}

// DecodeDetails decodes a raw payload for the given event type. An empty or
// null payload yields zero-valued details of the right variant.
func DecodeDetails(t EventType, raw json.RawMessage) (Details, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch t {
	case EventDispatch:
		var d DispatchDetails
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("dispatch details: %w", err)
			}
		}
		return d, nil
	case EventReceive:
		var d ReceiveDetails
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("receive details: %w", err)
			}
		}
		return d, nil
	case EventForward:
		var d ForwardDetails
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("forward details: %w", err)
			}
		}
		return d, nil
	case EventCompleted:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", generic.ErrUnknownEventType, t)
	}
}

// EncodeEvents serializes an event list for document storage.
func EncodeEvents(events []Event) (string, error) {
	if events == nil {
		events = []Event{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeEvents parses an event list previously produced by EncodeEvents.
func DecodeEvents(s string) ([]Event, error) {
	if s == "" {
		return nil, nil
	}
	var events []Event
	if err := json.Unmarshal([]byte(s), &events); err != nil {
		return nil, err
	}
	return events, nil
}
