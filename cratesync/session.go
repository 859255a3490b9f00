package cratesync

import (
	"sync"

	"github.com/golang/glog"
)

// the shared session record. `Generation` increments on every id change,
// including login and logout, and never decreases. async consumers capture
// the generation at dispatch time and compare it at resolution time to
// discard stale results.
type Session struct {
	UserId     *Id
	Generation int
}

func (self Session) Authenticated() bool {
	return self.UserId != nil
}

type SessionChangeFunction = func(session Session)

// the single owner of session state. only the auth transition watcher
// writes; everything else reads snapshots
type SessionMonitor struct {
	stateLock sync.Mutex

	userId     *Id
	generation int

	changeCallbacks *CallbackList[SessionChangeFunction]
}

func NewSessionMonitor() *SessionMonitor {
	return &SessionMonitor{
		changeCallbacks: NewCallbackList[SessionChangeFunction](),
	}
}

func (self *SessionMonitor) Session() Session {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return Session{
		UserId:     self.userId,
		Generation: self.generation,
	}
}

func (self *SessionMonitor) Generation() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.generation
}

func (self *SessionMonitor) AddChangeCallback(changeCallback SessionChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *SessionMonitor) SetAuthenticated(userId Id) {
	self.transition(&userId)
}

func (self *SessionMonitor) SetLoggedOut() {
	self.transition(nil)
}

func (self *SessionMonitor) transition(userId *Id) {
	var session Session
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.userId == nil && userId == nil {
			return false
		}
		if self.userId != nil && userId != nil && *self.userId == *userId {
			return false
		}
		self.userId = userId
		self.generation += 1
		session = Session{
			UserId:     self.userId,
			Generation: self.generation,
		}
		return true
	}()
	if !changed {
		return
	}

	if session.UserId != nil {
		glog.Infof("[session]g%d login %s\n", session.Generation, session.UserId)
	} else {
		glog.Infof("[session]g%d logout\n", session.Generation)
	}

	for _, changeCallback := range self.changeCallbacks.Get() {
		callback := changeCallback
		safeInvoke(func() {
			callback(session)
		})
	}
}
