package cratesync

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

// optimistic mutation lifecycle:
//
//	MutationStateIdle
//	  -> MutationStateApplied
//	    -> MutationStateConfirmed (terminal)
//	    -> MutationStateRolledBack (terminal)
type MutationState string

const (
	MutationStateIdle       MutationState = "Idle"
	MutationStateApplied    MutationState = "Applied"
	MutationStateConfirmed  MutationState = "Confirmed"
	MutationStateRolledBack MutationState = "RolledBack"
)

// undoes the optimistic apply. run exactly once, synchronously,
// before the commit error is surfaced
type UndoFunction = func()

type Mutation[R any] struct {
	// the logical target, e.g. "comment/<post_id>".
	// mutations on the same target are serialized, never raced
	Target string
	// applies the speculative state change immediately and returns
	// how to undo it
	Apply func() UndoFunction
	// the authoritative network operation
	Commit func() (R, error)
	// replaces the optimistic value with the authoritative result.
	// nil for idempotent mutations whose optimistic value stands
	Confirm func(R)
	// forced refresh when the authoritative state disagrees with the
	// optimistic assumption
	RefreshOnConflict func()
}

// applies speculative state transitions immediately and reconciles them
// with the authoritative result, or rolls back.
// per-target state is kept so rapid repeat dispatches queue or coalesce
// instead of racing
type MutationExecutor struct {
	stateLock sync.Mutex

	targets map[string]*mutationTarget
}

type mutationTarget struct {
	// serializes mutations on this target
	lock sync.Mutex

	stateLock sync.Mutex
	state     MutationState

	// toggle reconciliation
	toggleInit bool
	requested  bool
	confirmed  bool
	inFlight   bool
}

func NewMutationExecutor() *MutationExecutor {
	return &MutationExecutor{
		targets: map[string]*mutationTarget{},
	}
}

func (self *MutationExecutor) target(targetKey string) *mutationTarget {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	target, ok := self.targets[targetKey]
	if !ok {
		target = &mutationTarget{
			state: MutationStateIdle,
		}
		self.targets[targetKey] = target
	}
	return target
}

// the settlement state of the most recent mutation on the target
func (self *MutationExecutor) State(targetKey string) MutationState {
	target := self.target(targetKey)

	target.stateLock.Lock()
	defer target.stateLock.Unlock()

	return target.state
}

func (self *mutationTarget) setState(state MutationState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.state = state
}

// dispatches a one-shot mutation. a dispatch on a target with an
// unsettled mutation queues behind it.
// on commit failure the undo runs exactly once, synchronously, before
// the error is returned. a `ConflictError` additionally triggers the
// forced refresh, since the local assumption is known to be wrong
func DispatchMutation[R any](executor *MutationExecutor, mutation *Mutation[R]) (R, error) {
	target := executor.target(mutation.Target)
	target.lock.Lock()
	defer target.lock.Unlock()

	undo := mutation.Apply()
	target.setState(MutationStateApplied)

	result, err := mutation.Commit()
	if err != nil {
		if undo != nil {
			undo()
		}
		target.setState(MutationStateRolledBack)
		glog.V(2).Infof("[mut]%s rolled back = %s\n", mutation.Target, err)

		var conflictErr *ConflictError
		if errors.As(err, &conflictErr) {
			safeInvoke(mutation.RefreshOnConflict)
		}
		var empty R
		return empty, err
	}

	if mutation.Confirm != nil {
		mutation.Confirm(result)
	}
	target.setState(MutationStateConfirmed)
	return result, nil
}

// dispatches one press of a toggle, e.g. like/unlike or follow/unfollow.
//
// the next requested state is computed from the last *requested* state,
// not the state at dispatch time, so rapid presses while a commit is in
// flight coalesce instead of racing. `apply` sets the visible optimistic
// state. the first dispatcher keeps committing until the authoritative
// state matches the last requested state.
//
// returns the requested state after this press. an error means the
// visible state was rolled back to the last authoritative state
func (self *MutationExecutor) Toggle(
	targetKey string,
	initial bool,
	apply func(on bool),
	commit func(on bool) error,
	refreshOnConflict func(),
) (bool, error) {
	target := self.target(targetKey)

	var requested bool
	run := func() bool {
		target.stateLock.Lock()
		defer target.stateLock.Unlock()

		if !target.toggleInit {
			target.toggleInit = true
			target.requested = initial
			target.confirmed = initial
		}
		target.requested = !target.requested
		requested = target.requested
		if target.inFlight {
			// the in-flight dispatcher reconciles to the new request
			return false
		}
		target.inFlight = true
		return true
	}()

	apply(requested)
	target.setState(MutationStateApplied)

	if !run {
		glog.V(2).Infof("[mut]%s coalesced\n", targetKey)
		return requested, nil
	}

	for {
		var next bool
		done := func() bool {
			target.stateLock.Lock()
			defer target.stateLock.Unlock()

			if target.confirmed == target.requested {
				target.inFlight = false
				return true
			}
			next = target.requested
			return false
		}()
		if done {
			target.setState(MutationStateConfirmed)
			return requested, nil
		}

		if err := commit(next); err != nil {
			func() {
				target.stateLock.Lock()
				defer target.stateLock.Unlock()

				target.inFlight = false
				target.requested = target.confirmed
			}()
			// restore the last authoritative state
			apply(targetConfirmed(target))
			target.setState(MutationStateRolledBack)
			glog.V(2).Infof("[mut]%s rolled back = %s\n", targetKey, err)

			var conflictErr *ConflictError
			if errors.As(err, &conflictErr) {
				safeInvoke(refreshOnConflict)
			}
			return targetConfirmed(target), err
		}

		target.stateLock.Lock()
		target.confirmed = next
		target.stateLock.Unlock()
	}
}

func targetConfirmed(target *mutationTarget) bool {
	target.stateLock.Lock()
	defer target.stateLock.Unlock()

	return target.confirmed
}
