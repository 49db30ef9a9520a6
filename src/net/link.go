package net

import (
	"sync"
	"sync/atomic"
)

var lastConnID uint64

func nextConnID() uint64 {
	return atomic.AddUint64(&lastConnID, 1)
}

// link holds the identity and end-of-life state shared by every Conn
// implementation.
type link struct {
	id         uint64
	localAddr  string
	remoteAddr string

	doneCh   chan struct{}
	doneOnce sync.Once
	ending   atomic.Bool
	reason   error
}

func newLink(localAddr, remoteAddr string) *link {
	return &link{
		id:         nextConnID(),
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		doneCh:     make(chan struct{}),
	}
}

// ID implements the Conn interface.
func (l *link) ID() uint64 {
	return l.id
}

// LocalAddr implements the Conn interface.
func (l *link) LocalAddr() string {
	return l.localAddr
}

// RemoteAddr implements the Conn interface.
func (l *link) RemoteAddr() string {
	return l.remoteAddr
}

// Done implements the Conn interface.
func (l *link) Done() <-chan struct{} {
	return l.doneCh
}

// Err implements the Conn interface. reason is written before doneCh is
// closed, so reading it after Done is race free.
func (l *link) Err() error {
	select {
	case <-l.doneCh:
		return l.reason
	default:
		return nil
	}
}

// isDone ...
func (l *link) isDone() bool {
	select {
	case <-l.doneCh:
		return true
	default:
		return false
	}
}

// isEnding reports whether end has been called, possibly still running
// release.
func (l *link) isEnding() bool {
	return l.ending.Load()
}

// end marks the link as finished with the given reason, runs release and
// closes doneCh. Only the first call has any effect; it reports whether it was
// the one.
func (l *link) end(reason error, release func() error) (first bool, err error) {
	l.doneOnce.Do(func() {
		first = true
		l.ending.Store(true)
		l.reason = reason
		if release != nil {
			err = release()
		}
		close(l.doneCh)
	})
	return
}
