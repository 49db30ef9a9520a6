package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a Nebula node: Stopped or Running
type State uint32

const (
	// Stopped is the initial state of a Nebula node, and the state after Stop.
	Stopped State = iota
	// Running nodes accept and initiate joins.
	Running
)

// String ...
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// goFunc starts f in a goroutine tracked by the waitgroup. Past WGLIMIT
// concurrent routines, f runs on the caller's goroutine instead, which slows
// the caller down rather than dropping work.
func (b *state) goFunc(f func()) {
	b.wg.Add(1)

	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
		return
	}

	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
