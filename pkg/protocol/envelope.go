package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame labels of the wire protocol. Each frame is one JSON array
// whose first element is the label.
const (
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelEvent  = "EVENT"
	LabelEOSE   = "EOSE"
	LabelOK     = "OK"
	LabelNotice = "NOTICE"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON
	// array or are missing required positional fields.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownLabel is returned for frames whose label the
	// simulator does not handle.
	ErrUnknownLabel = errors.New("unknown frame label")
)

// ClientEnvelope is a decoded client-to-relay frame: one of
// ReqEnvelope, CloseEnvelope or EventEnvelope.
type ClientEnvelope interface {
	// Label returns the frame's wire label.
	Label() string
}

// ReqEnvelope opens or replaces the subscription SubscriptionID with
// the given filters.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        Filters
}

// Label returns LabelReq.
func (ReqEnvelope) Label() string { return LabelReq }

// CloseEnvelope closes the subscription SubscriptionID.
type CloseEnvelope struct {
	SubscriptionID string
}

// Label returns LabelClose.
func (CloseEnvelope) Label() string { return LabelClose }

// EventEnvelope publishes one client-originated event.
type EventEnvelope struct {
	Event *Event
}

// Label returns LabelEvent.
func (EventEnvelope) Label() string { return LabelEvent }

// ParseClientFrame decodes one client-to-relay frame. Frames with
// missing positional fields report ErrMalformedFrame; frames with a
// label the simulator does not handle report ErrUnknownLabel. Both
// carry enough detail for a NOTICE reply.
func ParseClientFrame(data []byte) (ClientEnvelope, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array: %v", ErrMalformedFrame, err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("%w: non-string label", ErrMalformedFrame)
	}

	switch label {
	case LabelReq:
		if len(arr) < 3 {
			return nil, fmt.Errorf("%w: REQ needs a subscription id and at least one filter", ErrMalformedFrame)
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil || subID == "" {
			return nil, fmt.Errorf("%w: REQ subscription id", ErrMalformedFrame)
		}
		filters := make(Filters, 0, len(arr)-2)
		for _, raw := range arr[2:] {
			var f Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("%w: REQ filter: %v", ErrMalformedFrame, err)
			}
			filters = append(filters, f)
		}
		return ReqEnvelope{SubscriptionID: subID, Filters: filters}, nil

	case LabelClose:
		if len(arr) < 2 {
			return nil, fmt.Errorf("%w: CLOSE needs a subscription id", ErrMalformedFrame)
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil || subID == "" {
			return nil, fmt.Errorf("%w: CLOSE subscription id", ErrMalformedFrame)
		}
		return CloseEnvelope{SubscriptionID: subID}, nil

	case LabelEvent:
		if len(arr) < 2 {
			return nil, fmt.Errorf("%w: EVENT needs an event object", ErrMalformedFrame)
		}
		var ev Event
		if err := json.Unmarshal(arr[1], &ev); err != nil {
			return nil, fmt.Errorf("%w: EVENT body: %v", ErrMalformedFrame, err)
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("%w: EVENT without id", ErrMalformedFrame)
		}
		return EventEnvelope{Event: &ev}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
}

// EventFrame encodes a relay-to-client event delivery for a
// subscription.
func EventFrame(subID string, ev *Event) ([]byte, error) {
	return json.Marshal([]interface{}{LabelEvent, subID, ev})
}

// EOSEFrame encodes the end-of-backlog marker that moves a
// subscription from historical replay to live delivery.
func EOSEFrame(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{LabelEOSE, subID})
}

// OKFrame encodes the acknowledgement for a client publish.
func OKFrame(eventID string, accepted bool, message string) ([]byte, error) {
	return json.Marshal([]interface{}{LabelOK, eventID, accepted, message})
}

// NoticeFrame encodes a free-form diagnostic message.
func NoticeFrame(message string) ([]byte, error) {
	return json.Marshal([]interface{}{LabelNotice, message})
}
