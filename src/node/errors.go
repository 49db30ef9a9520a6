package node

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/nebula/src/peers"
)

var (
	// ErrNotRunning is returned by operations that need a started node.
	ErrNotRunning = errors.New("node is not running")

	// ErrAlreadyRunning is returned by Start on a started node.
	ErrAlreadyRunning = errors.New("node is already running")
)

// ConnectionError means a link to Addr could not be established or failed
// during the join exchange, including by timeout. The caller may retry.
type ConnectionError struct {
	Addr peers.NodeAddress
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DuplicateConnectionError means a freshly opened link was already in the
// peer table. It signals a bug rather than a network condition.
type DuplicateConnectionError struct {
	Addr peers.NodeAddress
	ID   uint64
}

func (e *DuplicateConnectionError) Error() string {
	return fmt.Sprintf("link %d to %s is already registered", e.ID, e.Addr)
}

// RejectedJoinError means the remote node declined to register us. The link
// stays open; the caller may try another bootstrap address.
type RejectedJoinError struct {
	Addr peers.NodeAddress
}

func (e *RejectedJoinError) Error() string {
	return fmt.Sprintf("join rejected by %s", e.Addr)
}

// IsConnectionError ...
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRejectedJoin ...
func IsRejectedJoin(err error) bool {
	var re *RejectedJoinError
	return errors.As(err, &re)
}
