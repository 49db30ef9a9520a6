package net

import (
	"errors"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrConnectionLost is returned by calls on a link that has failed, and by
	// Conn.Err once the failure is observed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTimeout is returned when a remote call does not complete in time. The
	// link is considered lost.
	ErrTimeout = errors.New("command timed out")
)

// Network creates transports.
type Network interface {
	// Listen opens a transport bound to bindAddr.
	Listen(bindAddr string) (Transport, error)
}

// Transport provides an interface for network transports to allow a node to
// link with other nodes.
type Transport interface {

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests. Every RPC carries the Conn it arrived on.
	Consumer() <-chan RPC

	// Dial opens a new link to target.
	Dial(target string) (ClientConn, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport and every link it owns, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// Conn is the handle of one end of a link.
type Conn interface {
	// ID is unique within the process.
	ID() uint64

	LocalAddr() string

	// RemoteAddr is the address of the remote end as seen by the transport.
	// For inbound links it is usually not the address the peer listens on.
	RemoteAddr() string

	// Done is closed when the link ends, for whatever reason.
	Done() <-chan struct{}

	// Err returns nil while the link is open or if it was closed locally, and
	// ErrConnectionLost if it failed.
	Err() error

	// Close closes the link. It is safe to call more than once.
	Close() error
}

// ClientConn is the dialing end of a link, through which RPCs are sent.
type ClientConn interface {
	Conn

	Join(args *JoinRequest, resp *JoinResponse) error

	Ping() error
}
