package cratesync

import (
	"fmt"
)

// error taxonomy for gateway and realtime failures.
// state-changing operations never swallow these; the optimistic executor
// maps them to rollback (+ forced refresh for conflicts).

type NetworkError struct {
	Op    string
	Cause error
}

func (self *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %s", self.Op, self.Cause)
}

func (self *NetworkError) Unwrap() error {
	return self.Cause
}

// the authoritative state disagrees with the optimistic assumption,
// e.g. already-followed
type ConflictError struct {
	Op      string
	Message string
}

func (self *ConflictError) Error() string {
	return fmt.Sprintf("conflict during %s: %s", self.Op, self.Message)
}

type NotFoundError struct {
	Op string
	Id Id
}

func (self *NotFoundError) Error() string {
	return fmt.Sprintf("not found during %s: %s", self.Op, self.Id)
}

type SubscriptionError struct {
	ChannelKey string
	Cause      error
}

func (self *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription error on %s: %s", self.ChannelKey, self.Cause)
}

func (self *SubscriptionError) Unwrap() error {
	return self.Cause
}
