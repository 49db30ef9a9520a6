// Package nebula assembles the components of a Nebula node, the transport,
// the directory client, the membership node and the HTTP service, from a
// single Config.
package nebula

import (
	"context"
	"fmt"
	"time"

	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/directory"
	"github.com/mosaicnetworks/nebula/src/net"
	"github.com/mosaicnetworks/nebula/src/node"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/mosaicnetworks/nebula/src/service"
	"github.com/mosaicnetworks/nebula/src/version"
	"github.com/sirupsen/logrus"
)

// Nebula is the engine. Network and Directory may be set before Init to
// replace the ones built from the Config.
type Nebula struct {
	Config    *config.Config
	Network   net.Network
	Directory directory.Client
	Node      *node.Node
	Service   *service.Service

	logger *logrus.Entry
}

// NewNebula ...
func NewNebula(c *config.Config) *Nebula {
	engine := &Nebula{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

func (n *Nebula) initNetwork() error {
	if n.Network != nil {
		return nil
	}

	codec, err := net.NewCodec(n.Config.Codec)
	if err != nil {
		return err
	}

	n.Network = &net.TCPNetwork{
		AdvertiseHost: n.Config.AdvertiseHost,
		Timeout:       n.Config.TCPTimeout,
		JoinTimeout:   n.Config.JoinTimeout,
		KeepAlive:     n.Config.KeepAlive,
		Codec:         codec,
		Logger:        n.logger.WithField("component", "transport"),
	}

	return nil
}

func (n *Nebula) initDirectory() error {
	if n.Directory != nil {
		return nil
	}

	dir, err := directory.NewClient(n.Config)
	if err != nil {
		return err
	}

	n.Directory = dir

	return nil
}

func (n *Nebula) initNode() error {
	n.Node = node.NewNode(
		n.Config,
		n.Network,
		n.Directory,
		n.logger.WithField("component", "node"),
	)

	n.Node.Metrics().SetBuildInfo(version.Version)

	return nil
}

func (n *Nebula) initService() error {
	if !n.Config.NoService {
		n.Service = service.NewService(
			n.Config.ServiceAddr,
			n.Node,
			n.logger.WithField("component", "service"),
		)
	}
	return nil
}

// Init builds every component. It does not open any socket.
func (n *Nebula) Init() error {
	if err := n.initNetwork(); err != nil {
		return err
	}

	if err := n.initDirectory(); err != nil {
		return err
	}

	if err := n.initNode(); err != nil {
		return err
	}

	if err := n.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the node and the service, then bootstraps.
func (n *Nebula) Run() error {
	if err := n.Node.Start(0); err != nil {
		return err
	}

	if n.Service != nil {
		go n.Service.Serve()
	}

	snapshot, err := n.Bootstrap()
	if err != nil {
		n.logger.WithError(err).Warn("Bootstrap failed")
		return nil
	}

	n.logger.WithFields(logrus.Fields{
		"addr":  n.Node.LocalAddr().String(),
		"peers": len(snapshot),
	}).Info("Nebula node running")

	return nil
}

// Bootstrap connects once to the configured bootstrap node or, when none is
// configured and the directory can list nodes, to the most recently registered
// node other than ourselves. Without either it does nothing.
func (n *Nebula) Bootstrap() ([]peers.NodeAddress, error) {
	if n.Config.Bootstrap != "" {
		addr, err := peers.ParseNodeAddress(n.Config.Bootstrap)
		if err != nil {
			return nil, fmt.Errorf("bootstrap address: %w", err)
		}
		return n.Node.ConnectAddr(addr)
	}

	lister, ok := n.Directory.(directory.Lister)
	if !ok {
		return []peers.NodeAddress{}, nil
	}

	nodes, err := lister.Nodes()
	if err != nil {
		return nil, err
	}

	self := n.Node.LocalAddr()
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i] != self {
			return n.Node.ConnectAddr(nodes[i])
		}
	}

	n.logger.Debug("No other node in the directory")

	return []peers.NodeAddress{}, nil
}

// Shutdown stops the service, the node and the directory client.
func (n *Nebula) Shutdown() {
	n.logger.Debug("Shutdown")

	if n.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := n.Service.Shutdown(ctx); err != nil {
			n.logger.WithError(err).Warn("Service shutdown")
		}
	}

	if n.Node != nil {
		if err := n.Node.Stop(); err != nil {
			n.logger.WithError(err).Warn("Node stop")
		}
	}

	if n.Directory != nil {
		n.Directory.Close()
	}
}
