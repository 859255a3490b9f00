package cratesync

import (
	"encoding/json"
	"fmt"
)

// the push channel delivers loosely-typed json payloads.
// they are validated and narrowed into this closed union immediately on
// receipt, before anything downstream sees them.

type EventKind string

const (
	EventKindItemCreated    EventKind = "item-created"
	EventKindItemUpdated    EventKind = "item-updated"
	EventKindItemDeleted    EventKind = "item-deleted"
	EventKindCounterChanged EventKind = "counter-changed"
)

type CounterKind string

const (
	CounterKindLikes    CounterKind = "likes"
	CounterKindComments CounterKind = "comments"
	CounterKindUnread   CounterKind = "unread"
)

type Event struct {
	Kind   EventKind
	ItemId Id
	// which counter changed, for `counter-changed`
	Counter CounterKind
	// the count embedded in the push payload. not authoritative:
	// events may be missed or delivered out of order, so consumers
	// re-fetch the count instead of trusting this
	Count int
	// the raw item for `item-created`/`item-updated`
	Payload json.RawMessage
}

type eventWire struct {
	Kind    string          `json:"kind"`
	ItemId  *Id             `json:"item_id,omitempty"`
	Counter string          `json:"counter,omitempty"`
	Count   *int            `json:"count,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func ParseEvent(message []byte) (*Event, error) {
	var wire eventWire
	if err := json.Unmarshal(message, &wire); err != nil {
		return nil, fmt.Errorf("malformed event: %s", err)
	}

	event := &Event{
		Kind:    EventKind(wire.Kind),
		Payload: wire.Payload,
	}
	if wire.ItemId != nil {
		event.ItemId = *wire.ItemId
	}

	switch event.Kind {
	case EventKindItemCreated, EventKindItemUpdated:
		if wire.ItemId == nil {
			return nil, fmt.Errorf("%s event missing item_id", event.Kind)
		}
		if len(wire.Payload) == 0 {
			return nil, fmt.Errorf("%s event missing payload", event.Kind)
		}
	case EventKindItemDeleted:
		if wire.ItemId == nil {
			return nil, fmt.Errorf("%s event missing item_id", event.Kind)
		}
	case EventKindCounterChanged:
		switch CounterKind(wire.Counter) {
		case CounterKindLikes, CounterKindComments, CounterKindUnread:
			event.Counter = CounterKind(wire.Counter)
		default:
			return nil, fmt.Errorf("counter-changed event with unknown counter %q", wire.Counter)
		}
		if wire.Count != nil {
			event.Count = *wire.Count
		}
	default:
		return nil, fmt.Errorf("unknown event kind %q", wire.Kind)
	}

	return event, nil
}

// decodes the item payload of an `item-created`/`item-updated` event
func DecodeEventItem[T any](event *Event) (T, error) {
	var item T
	if err := json.Unmarshal(event.Payload, &item); err != nil {
		return item, fmt.Errorf("malformed %s payload: %s", event.Kind, err)
	}
	return item, nil
}
