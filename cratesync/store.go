package cratesync

import (
	"context"
	"fmt"
	"sync"
)

// store state machine:
//
//	StoreStateUninitialized
//	  -> StoreStateInitializing
//	    -> StoreStateReady
//	      -> StoreStateTearingDown
//	        -> StoreStateUninitialized
type StoreState string

const (
	StoreStateUninitialized StoreState = "Uninitialized"
	StoreStateInitializing  StoreState = "Initializing"
	StoreStateReady         StoreState = "Ready"
	StoreStateTearingDown   StoreState = "TearingDown"
)

// a named reactive container supervised by the lifecycle coordinator.
// external code reads snapshots and subscribes to changes; only the
// coordinator calls `Initialize`/`Cleanup`
type Store interface {
	Name() string
	// loads the store for the authenticated user and opens any push
	// subscriptions it needs
	Initialize(ctx context.Context, userId Id) error
	// closes subscriptions opened during `Initialize` and resets state
	// to the empty default. must be safe to call even if `Initialize`
	// never completed
	Cleanup()
}

// the authenticated user's profile
type UserStore struct {
	api *CrateDigApi

	stateLock sync.Mutex

	profile *UserProfile

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewUserStore(api *CrateDigApi) *UserStore {
	return &UserStore{
		api:             api,
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *UserStore) Name() string {
	return "user"
}

func (self *UserStore) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *UserStore) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		safeInvoke(changeCallback)
	}
}

func (self *UserStore) Profile() *UserProfile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.profile == nil {
		return nil
	}
	profile := *self.profile
	return &profile
}

func (self *UserStore) setProfile(profile *UserProfile) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.profile = profile
	}()
	self.changed()
}

func (self *UserStore) Initialize(ctx context.Context, userId Id) error {
	result, err := self.api.ProfileSync(userId)
	if err != nil {
		return err
	}
	if result.Profile == nil {
		return fmt.Errorf("profile missing for %s", userId)
	}

	self.setProfile(result.Profile)
	return nil
}

func (self *UserStore) Cleanup() {
	self.setProfile(nil)
}

// collection/wishlist counts, kept fresh by the counters push channel.
// counter-changed events trigger an authoritative re-fetch rather than
// trusting the pushed count
type CounterStore struct {
	api        *CrateDigApi
	subscriber Subscriber

	stateLock sync.Mutex

	counts CrateCounts

	bridge *Bridge

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewCounterStore(api *CrateDigApi, subscriber Subscriber) *CounterStore {
	return &CounterStore{
		api:             api,
		subscriber:      subscriber,
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *CounterStore) Name() string {
	return "counters"
}

func (self *CounterStore) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *CounterStore) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		safeInvoke(changeCallback)
	}
}

func (self *CounterStore) Counts() CrateCounts {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.counts
}

func (self *CounterStore) setCounts(counts CrateCounts) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.counts = counts
	}()
	self.changed()
}

// adjusts the counts optimistically. the push channel re-fetch will
// converge them to the authoritative values
func (self *CounterStore) Adjust(collectionDelta int, wishlistDelta int) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.counts.CollectionCount += collectionDelta
		self.counts.WishlistCount += wishlistDelta
	}()
	self.changed()
}

func (self *CounterStore) refetch() {
	result, err := self.api.CrateCountsSync()
	if err != nil || result.Counts == nil {
		return
	}
	self.setCounts(*result.Counts)
}

func (self *CounterStore) Initialize(ctx context.Context, userId Id) error {
	result, err := self.api.CrateCountsSync()
	if err != nil {
		return err
	}
	if result.Counts != nil {
		self.setCounts(*result.Counts)
	}

	bridge := NewBridge(self.subscriber)
	channelKey := fmt.Sprintf("user/%s/counters", userId)
	onEvent := func(event *Event) {
		if event.Kind == EventKindCounterChanged {
			self.refetch()
		}
	}
	onError := func(err error) {
		// stale counters fix themselves on the next mutation re-fetch
	}
	if err := bridge.Subscribe(channelKey, onEvent, onError); err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.bridge = bridge
	return nil
}

func (self *CounterStore) Cleanup() {
	var bridge *Bridge
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		bridge = self.bridge
		self.bridge = nil
		self.counts = CrateCounts{}
	}()
	if bridge != nil {
		bridge.Close()
	}
	self.changed()
}
