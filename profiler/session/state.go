package session

import "sync/atomic"

// State is the lifecycle of one Controller: Idle -> Running -> Stopping -> Idle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type atomicState struct{ v int32 }

func (a *atomicState) load() State { return State(atomic.LoadInt32(&a.v)) }

func (a *atomicState) store(s State) { atomic.StoreInt32(&a.v, int32(s)) }
