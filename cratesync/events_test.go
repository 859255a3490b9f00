package cratesync

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseEventItemCreated(t *testing.T) {
	itemId := NewId()
	message := fmt.Sprintf(
		`{"kind":"item-created","item_id":"%s","payload":{"post_id":"%s","likes_count":3}}`,
		itemId,
		itemId,
	)

	event, err := ParseEvent([]byte(message))
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindItemCreated)
	assert.Equal(t, event.ItemId, itemId)

	post, err := DecodeEventItem[*Post](event)
	assert.Equal(t, err, nil)
	assert.Equal(t, post.PostId, itemId)
	assert.Equal(t, post.LikesCount, 3)
}

func TestParseEventItemDeleted(t *testing.T) {
	itemId := NewId()
	event, err := ParseEvent([]byte(fmt.Sprintf(`{"kind":"item-deleted","item_id":"%s"}`, itemId)))
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindItemDeleted)
	assert.Equal(t, event.ItemId, itemId)
}

func TestParseEventCounterChanged(t *testing.T) {
	itemId := NewId()
	event, err := ParseEvent([]byte(fmt.Sprintf(
		`{"kind":"counter-changed","item_id":"%s","counter":"likes","count":7}`,
		itemId,
	)))
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindCounterChanged)
	assert.Equal(t, event.Counter, CounterKindLikes)
	assert.Equal(t, event.Count, 7)
}

func TestParseEventRejectsMalformed(t *testing.T) {
	itemId := NewId()

	malformed := []string{
		`not json`,
		`{"kind":"no-such-kind"}`,
		// item events without an item id or payload
		`{"kind":"item-created","payload":{}}`,
		fmt.Sprintf(`{"kind":"item-created","item_id":"%s"}`, itemId),
		fmt.Sprintf(`{"kind":"item-updated","item_id":"%s"}`, itemId),
		`{"kind":"item-deleted"}`,
		// counter events with an unknown counter
		fmt.Sprintf(`{"kind":"counter-changed","item_id":"%s","counter":"karma"}`, itemId),
		fmt.Sprintf(`{"kind":"counter-changed","item_id":"%s"}`, itemId),
	}
	for _, message := range malformed {
		_, err := ParseEvent([]byte(message))
		assert.NotEqual(t, err, nil)
	}
}

func TestDecodeEventItemMalformedPayload(t *testing.T) {
	itemId := NewId()
	event, err := ParseEvent([]byte(fmt.Sprintf(
		`{"kind":"item-updated","item_id":"%s","payload":{"likes_count":"three"}}`,
		itemId,
	)))
	assert.Equal(t, err, nil)

	_, err = DecodeEventItem[*Post](event)
	assert.NotEqual(t, err, nil)
}
