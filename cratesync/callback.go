package cratesync

import (
	"sync"
)

// makes a copy of the list on read so that callbacks can add/remove
// callbacks without deadlock
type CallbackList[T any] struct {
	stateLock sync.Mutex

	callbackIds    []int
	callbacks      map[int]T
	nextCallbackId int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []int{},
		callbacks:   map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	for i, existingCallbackId := range self.callbackIds {
		if existingCallbackId == callbackId {
			self.callbackIds = append(self.callbackIds[:i], self.callbackIds[i+1:]...)
			break
		}
	}
}

// note all user callbacks are invoked via this wrapper to check for nil
// and recover from panics
func safeInvoke(callback func()) {
	if callback == nil {
		return
	}
	defer func() {
		recover()
	}()
	callback()
}

// a monitor that notifies waiters on update.
// the notify channel is closed and replaced on each update,
// so waiters select on the channel returned by `NotifyChannel`.
type Monitor struct {
	stateLock sync.Mutex
	update    chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.update
}

func (self *Monitor) NotifyAll() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	close(self.update)
	self.update = make(chan struct{})
}
