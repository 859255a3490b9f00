package cratesync

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// the realtime transport is an explicit resource with one owner: the
// lifecycle coordinator connects it after login and disconnects it on
// teardown, one connect/disconnect pair per session transition
type TransportOwner interface {
	Connect(session Session)
	Disconnect()
}

// ties the initialize/cleanup of the registered stores to authentication
// transitions.
//
// on login, stores are initialized in declared order, once per session
// generation. on logout or a switch to a different user, stores are
// cleaned up in reverse declared order before any new initialize runs.
// transitions are processed serially; a store's async initialize result
// is discarded when the session generation at resolution no longer
// matches the generation captured at dispatch
type LifecycleCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionMonitor *SessionMonitor
	// declared order
	stores    []Store
	transport TransportOwner

	transitions chan Session

	stateLock sync.Mutex

	storeStates map[string]StoreState
	// the latest generation a transition has been processed for.
	// compare-and-set before any side effects, so duplicate triggers
	// for the same generation are suppressed
	handledGeneration int

	unsubscribe func()
}

func NewLifecycleCoordinator(ctx context.Context, sessionMonitor *SessionMonitor, stores ...Store) *LifecycleCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)

	storeStates := map[string]StoreState{}
	for _, store := range stores {
		storeStates[store.Name()] = StoreStateUninitialized
	}

	return &LifecycleCoordinator{
		ctx:            cancelCtx,
		cancel:         cancel,
		sessionMonitor: sessionMonitor,
		stores:         stores,
		transitions:    make(chan Session, 1),
		storeStates:    storeStates,
	}
}

// must be called before `Start`
func (self *LifecycleCoordinator) SetTransportOwner(transport TransportOwner) {
	self.transport = transport
}

func (self *LifecycleCoordinator) StoreState(name string) StoreState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	state, ok := self.storeStates[name]
	if !ok {
		return StoreStateUninitialized
	}
	return state
}

func (self *LifecycleCoordinator) setStoreState(name string, state StoreState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.storeStates[name] = state
}

func (self *LifecycleCoordinator) Start() {
	self.unsubscribe = self.sessionMonitor.AddChangeCallback(self.onSessionChange)
	go self.run()

	// pick up a session that was already established
	session := self.sessionMonitor.Session()
	if session.Generation != 0 {
		self.onSessionChange(session)
	}
}

func (self *LifecycleCoordinator) Stop() {
	if self.unsubscribe != nil {
		self.unsubscribe()
		self.unsubscribe = nil
	}
	self.cancel()
}

func (self *LifecycleCoordinator) onSessionChange(session Session) {
	// latest wins. an unprocessed older transition is superseded,
	// and its teardown work happens at the head of the newer one
	for {
		select {
		case self.transitions <- session:
			return
		default:
			select {
			case <-self.transitions:
			default:
			}
		}
	}
}

func (self *LifecycleCoordinator) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case session := <-self.transitions:
			self.handleTransition(session)
		}
	}
}

func (self *LifecycleCoordinator) handleTransition(session Session) {
	ok := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if session.Generation <= self.handledGeneration {
			// duplicate or stale trigger
			return false
		}
		self.handledGeneration = session.Generation
		return true
	}()
	if !ok {
		glog.V(2).Infof("[lifecycle]suppress g%d\n", session.Generation)
		return
	}

	// ordered teardown of whatever the previous session left up,
	// in reverse declared order
	for i := len(self.stores) - 1; 0 <= i; i -= 1 {
		store := self.stores[i]
		if self.StoreState(store.Name()) == StoreStateUninitialized {
			continue
		}
		self.setStoreState(store.Name(), StoreStateTearingDown)
		store.Cleanup()
		self.setStoreState(store.Name(), StoreStateUninitialized)
		glog.V(2).Infof("[lifecycle]g%d cleanup %s\n", session.Generation, store.Name())
	}
	if self.transport != nil {
		self.transport.Disconnect()
	}

	if !session.Authenticated() {
		return
	}

	if self.transport != nil {
		self.transport.Connect(session)
	}

	for _, store := range self.stores {
		if self.sessionMonitor.Generation() != session.Generation {
			// a newer transition is pending. its teardown pass will
			// clean up what this one initialized
			glog.V(2).Infof("[lifecycle]abort init at %s, g%d superseded\n", store.Name(), session.Generation)
			return
		}

		self.setStoreState(store.Name(), StoreStateInitializing)
		err := store.Initialize(self.ctx, *session.UserId)

		if self.sessionMonitor.Generation() != session.Generation {
			// the session changed while the initialize was in flight.
			// discard the result
			store.Cleanup()
			self.setStoreState(store.Name(), StoreStateUninitialized)
			glog.V(2).Infof("[lifecycle]discard stale init %s g%d\n", store.Name(), session.Generation)
			return
		}
		if err != nil {
			// degraded, never Ready with partial data
			store.Cleanup()
			self.setStoreState(store.Name(), StoreStateUninitialized)
			glog.Infof("[lifecycle]init %s g%d error = %s\n", store.Name(), session.Generation, err)
			continue
		}
		self.setStoreState(store.Name(), StoreStateReady)
		glog.V(2).Infof("[lifecycle]init %s g%d ready\n", store.Name(), session.Generation)
	}
}
