package cratesync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

// records lifecycle calls into a shared ordered log so tests can assert
// init/cleanup ordering across stores
type lifecycleRecorder struct {
	stateLock sync.Mutex
	log       []string
}

func (self *lifecycleRecorder) record(entry string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.log = append(self.log, entry)
}

func (self *lifecycleRecorder) Log() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return append([]string{}, self.log...)
}

type fakeStore struct {
	name     string
	recorder *lifecycleRecorder

	// closed to release a blocked Initialize. nil means no blocking
	initGate chan struct{}
	initErr  error

	stateLock    sync.Mutex
	initUserIds  []Id
	cleanupCount int
}

func newFakeStore(name string, recorder *lifecycleRecorder) *fakeStore {
	return &fakeStore{
		name:     name,
		recorder: recorder,
	}
}

func (self *fakeStore) Name() string {
	return self.name
}

func (self *fakeStore) Initialize(ctx context.Context, userId Id) error {
	if self.initGate != nil {
		<-self.initGate
	}

	self.stateLock.Lock()
	self.initUserIds = append(self.initUserIds, userId)
	self.stateLock.Unlock()

	self.recorder.record(fmt.Sprintf("init %s", self.name))
	return self.initErr
}

func (self *fakeStore) Cleanup() {
	self.stateLock.Lock()
	self.cleanupCount += 1
	self.stateLock.Unlock()

	self.recorder.record(fmt.Sprintf("cleanup %s", self.name))
}

func (self *fakeStore) InitUserIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return append([]Id{}, self.initUserIds...)
}

func (self *fakeStore) CleanupCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.cleanupCount
}

type fakeTransport struct {
	recorder *lifecycleRecorder
}

func (self *fakeTransport) Connect(session Session) {
	self.recorder.record(fmt.Sprintf("connect %s", session.UserId))
}

func (self *fakeTransport) Disconnect() {
	self.recorder.record("disconnect")
}

func TestLifecycleInitAndTeardownOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	a := newFakeStore("a", recorder)
	b := newFakeStore("b", recorder)

	monitor := NewSessionMonitor()
	coordinator := NewLifecycleCoordinator(ctx, monitor, a, b)
	coordinator.SetTransportOwner(&fakeTransport{recorder: recorder})
	coordinator.Start()
	defer coordinator.Stop()

	userId := NewId()
	monitor.SetAuthenticated(userId)
	waitFor(t, "stores ready", func() bool {
		return coordinator.StoreState("a") == StoreStateReady &&
			coordinator.StoreState("b") == StoreStateReady
	})

	// transport up before the first store, stores in declared order
	assert.Equal(t, recorder.Log(), []string{
		"disconnect",
		fmt.Sprintf("connect %s", userId),
		"init a",
		"init b",
	})
	assert.Equal(t, a.InitUserIds(), []Id{userId})

	monitor.SetLoggedOut()
	waitFor(t, "stores torn down", func() bool {
		return coordinator.StoreState("a") == StoreStateUninitialized &&
			coordinator.StoreState("b") == StoreStateUninitialized
	})

	// teardown in reverse declared order
	log := recorder.Log()
	assert.Equal(t, log[len(log)-3:], []string{"cleanup b", "cleanup a", "disconnect"})
}

func TestLifecycleSupersededInitDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	a := newFakeStore("a", recorder)
	a.initGate = make(chan struct{})

	monitor := NewSessionMonitor()
	coordinator := NewLifecycleCoordinator(ctx, monitor, a)
	coordinator.Start()
	defer coordinator.Stop()

	userA := NewId()
	monitor.SetAuthenticated(userA)
	waitFor(t, "store initializing", func() bool {
		return coordinator.StoreState("a") == StoreStateInitializing
	})

	// a different user logs in while the first initialize is in flight
	userB := NewId()
	monitor.SetAuthenticated(userB)
	close(a.initGate)

	waitFor(t, "store ready for the new user", func() bool {
		return coordinator.StoreState("a") == StoreStateReady &&
			len(a.InitUserIds()) == 2
	})

	// the stale initialize was cleaned up, never marked ready, and the
	// store was re-initialized for the new user
	assert.Equal(t, a.InitUserIds(), []Id{userA, userB})
	assert.Equal(t, 1 <= a.CleanupCount(), true)
}

func TestLifecycleDuplicateGenerationSuppressed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	a := newFakeStore("a", recorder)

	monitor := NewSessionMonitor()
	coordinator := NewLifecycleCoordinator(ctx, monitor, a)
	coordinator.Start()
	defer coordinator.Stop()

	monitor.SetAuthenticated(NewId())
	waitFor(t, "store ready", func() bool {
		return coordinator.StoreState("a") == StoreStateReady
	})

	// replaying the already-handled session must not re-run anything
	coordinator.onSessionChange(monitor.Session())
	waitFor(t, "transition drained", func() bool {
		return len(coordinator.transitions) == 0
	})

	assert.Equal(t, len(a.InitUserIds()), 1)
	assert.Equal(t, a.CleanupCount(), 0)
}

func TestLifecycleInitFailureDegraded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	a := newFakeStore("a", recorder)
	a.initErr = fmt.Errorf("gateway unreachable")
	b := newFakeStore("b", recorder)

	monitor := NewSessionMonitor()
	coordinator := NewLifecycleCoordinator(ctx, monitor, a, b)
	coordinator.Start()
	defer coordinator.Stop()

	monitor.SetAuthenticated(NewId())
	waitFor(t, "second store ready", func() bool {
		return coordinator.StoreState("b") == StoreStateReady
	})

	// a failed store is never Ready with partial data, and does not
	// block the stores after it
	assert.Equal(t, coordinator.StoreState("a"), StoreStateUninitialized)
	assert.Equal(t, a.CleanupCount(), 1)
}

func TestLifecyclePicksUpExistingSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &lifecycleRecorder{}
	a := newFakeStore("a", recorder)

	monitor := NewSessionMonitor()
	userId := NewId()
	monitor.SetAuthenticated(userId)

	coordinator := NewLifecycleCoordinator(ctx, monitor, a)
	coordinator.Start()
	defer coordinator.Stop()

	waitFor(t, "store ready", func() bool {
		return coordinator.StoreState("a") == StoreStateReady
	})
	assert.Equal(t, a.InitUserIds(), []Id{userId})
}
