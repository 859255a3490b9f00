package cratesync

import (
	"sync"

	"github.com/golang/glog"
)

type EventFunction = func(event *Event)
type ErrorFunction = func(err error)

// one logical push subscription, e.g. one feed, one post's counters,
// one user's notifications
type ChannelSubscription interface {
	Close()
}

// the push side of the remote data gateway.
// `onMessage` receives raw event payloads. `onClose` is called at most once
// when the channel drops, with the cause
type Subscriber interface {
	Subscribe(channelKey string, onMessage func(message []byte), onClose func(err error)) (ChannelSubscription, error)
}

// folds push events from one channel into engine state.
//
// exactly one logical subscription is active per bridge. subscribing to
// the same key while active is a no-op. subscribing to a different key
// closes the old channel first, so channels are never orphaned.
//
// the bridge does not auto-retry after a subscription error. the owner
// decides whether to resubscribe via `onError`
type Bridge struct {
	subscriber Subscriber

	stateLock sync.Mutex

	channelKey string
	active     bool
	sub        ChannelSubscription
}

func NewBridge(subscriber Subscriber) *Bridge {
	return &Bridge{
		subscriber: subscriber,
	}
}

func (self *Bridge) ChannelKey() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.channelKey
}

func (self *Bridge) Active() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.active
}

func (self *Bridge) Subscribe(channelKey string, onEvent EventFunction, onError ErrorFunction) error {
	var closeSub ChannelSubscription
	ok := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.active && self.channelKey == channelKey {
			// idempotent
			return false
		}
		closeSub = self.sub
		self.sub = nil
		// mark current before the subscribe resolves so `onClose` for
		// this key is never attributed to a previous subscription
		self.channelKey = channelKey
		self.active = true
		return true
	}()
	if !ok {
		glog.V(2).Infof("[bridge]subscribe %s noop\n", channelKey)
		return nil
	}
	if closeSub != nil {
		closeSub.Close()
	}

	onMessage := func(message []byte) {
		event, err := ParseEvent(message)
		if err != nil {
			// reject at the boundary, never pass malformed payloads down
			glog.Infof("[bridge]%s drop event = %s\n", channelKey, err)
			return
		}
		if !self.isCurrent(channelKey) {
			return
		}
		safeInvoke(func() {
			onEvent(event)
		})
	}
	onClose := func(err error) {
		dropped := func() bool {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()

			if !self.active || self.channelKey != channelKey {
				return false
			}
			self.active = false
			self.sub = nil
			return true
		}()
		if dropped && err != nil {
			glog.Infof("[bridge]%s dropped = %s\n", channelKey, err)
			safeInvoke(func() {
				onError(&SubscriptionError{
					ChannelKey: channelKey,
					Cause:      err,
				})
			})
		}
	}

	sub, err := self.subscriber.Subscribe(channelKey, onMessage, onClose)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.active || self.channelKey != channelKey {
		// closed or replaced while the subscribe was in flight
		if sub != nil {
			go sub.Close()
		}
		return nil
	}
	if err != nil {
		self.active = false
		self.channelKey = ""
		return &SubscriptionError{
			ChannelKey: channelKey,
			Cause:      err,
		}
	}
	self.sub = sub
	return nil
}

func (self *Bridge) isCurrent(channelKey string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.active && self.channelKey == channelKey
}

func (self *Bridge) Close() {
	var closeSub ChannelSubscription
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		closeSub = self.sub
		self.sub = nil
		self.active = false
		self.channelKey = ""
	}()
	if closeSub != nil {
		closeSub.Close()
	}
}

// triggers a fresh authoritative count fetch for `counter-changed`,
// instead of trusting the count embedded in the push payload
type CounterFetchFunction = func(itemId Id, counter CounterKind)

// the standard fold of channel events into a paginated list.
// `item-created` is deduplicated against the list and newer-than-newest
// items only bump `NewItemsAvailable` (see `PaginatedList.NotifyItemCreated`)
func ListEventHandler[T PageItem](
	list *PaginatedList[T],
	fetchCounter CounterFetchFunction,
	onError ErrorFunction,
) EventFunction {
	return func(event *Event) {
		switch event.Kind {
		case EventKindItemCreated:
			item, err := DecodeEventItem[T](event)
			if err != nil {
				safeInvoke(func() {
					onError(err)
				})
				return
			}
			list.NotifyItemCreated(item)
		case EventKindItemUpdated:
			item, err := DecodeEventItem[T](event)
			if err != nil {
				safeInvoke(func() {
					onError(err)
				})
				return
			}
			list.UpdateItem(event.ItemId, func(T) T {
				return item
			})
		case EventKindItemDeleted:
			list.RemoveItem(event.ItemId)
		case EventKindCounterChanged:
			if fetchCounter != nil {
				fetchCounter(event.ItemId, event.Counter)
			}
		}
	}
}
