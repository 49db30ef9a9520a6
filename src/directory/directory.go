// Package directory implements the clients through which a Nebula node
// announces itself to a directory service at startup, and the WAMP directory
// server itself.
//
// A directory is not a member of the overlay. Nodes call Register once, when
// they start, and may ask a directory that implements Lister for the nodes it
// knows, to pick a bootstrap peer. Two backends are available: a WAMP router
// (see Server) and etcd, where registrations are kept alive by a lease.
package directory

import (
	"fmt"

	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/peers"
)

// Client announces a node to a directory service.
type Client interface {
	// Register records self in the directory.
	Register(self peers.NodeAddress) error

	// Close releases the client's resources. For backends with expiring
	// registrations, it also withdraws the registration.
	Close() error
}

// Lister is implemented by clients that can enumerate registered nodes.
type Lister interface {
	Nodes() ([]peers.NodeAddress, error)
}

// NewClient returns the Client selected by conf.Directory.
func NewClient(conf *config.Config) (Client, error) {
	logger := conf.Logger().WithField("component", "directory")

	switch conf.Directory {
	case "", config.DirectoryNone:
		return NoopClient{}, nil
	case config.DirectoryWAMP:
		return NewWAMPClient(conf.DirectoryAddr, conf.DirectoryRealm, conf.TCPTimeout, logger), nil
	case config.DirectoryEtcd:
		return NewEtcdClient(conf.EtcdEndpoints, conf.TCPTimeout, conf.EtcdTTL, logger)
	default:
		return nil, fmt.Errorf("unknown directory %q", conf.Directory)
	}
}

// NoopClient is used when no directory is configured.
type NoopClient struct{}

// Register implements the Client interface.
func (NoopClient) Register(peers.NodeAddress) error { return nil }

// Close implements the Client interface.
func (NoopClient) Close() error { return nil }
