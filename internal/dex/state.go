package dex

import "sync/atomic"

// RunState is the Runner lifecycle state machine from spec.md §4.4:
//
//	Created -> Backfilling -> Draining -> Live -> Stopped
//	              \                          /
//	               \------- fatal ----------+----> Failed
type RunState int32

const (
	StateCreated RunState = iota
	StateBackfilling
	StateDraining
	StateLive
	StateStopped
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBackfilling:
		return "backfilling"
	case StateDraining:
		return "draining"
	case StateLive:
		return "live"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateBox is an atomic RunState holder shared by Runner and its callers
// (the coordinator reads it for status reporting without locking).
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() RunState {
	return RunState(b.v.Load())
}

func (b *stateBox) Store(s RunState) {
	b.v.Store(int32(s))
}
