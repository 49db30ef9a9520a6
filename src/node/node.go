package node

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/directory"
	"github.com/mosaicnetworks/nebula/src/net"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/mosaicnetworks/nebula/src/telemetry"
	"github.com/sirupsen/logrus"
)

// Node is a participant of the Nebula overlay. Several nodes can live in the
// same process.
type Node struct {
	// state is read atomically. Transitions happen under lifecycle.
	state

	conf   *config.Config
	logger *logrus.Entry

	network   net.Network
	directory directory.Client

	// lifecycle is held for writing by Start and Stop, and for reading by
	// anything that registers a peer, so that no entry outlives Stop.
	lifecycle  sync.RWMutex
	trans      net.Transport
	self       peers.NodeAddress
	shutdownCh chan struct{}
	start      time.Time

	table   *peers.PeerTable
	events  *eventBus
	metrics *telemetry.Metrics

	registerErr     error
	registerErrLock sync.Mutex

	connects     int64
	joinRequests int64
	faults       int64
}

// NewNode is a factory method that returns a Node instance. A nil directory
// disables registration.
func NewNode(conf *config.Config,
	network net.Network,
	dir directory.Client,
	logger *logrus.Entry,
) *Node {
	if dir == nil {
		dir = directory.NoopClient{}
	}

	if logger == nil {
		logger = conf.Logger()
	}

	node := Node{
		conf:      conf,
		logger:    logger,
		network:   network,
		directory: dir,
		table:     peers.NewPeerTable(),
		events:    newEventBus(logger),
		metrics:   telemetry.NewMetrics(),
	}

	return &node
}

// Start binds the membership endpoint to the configured host and the given
// port, 0 keeping the configured port, and starts serving joins. It then
// registers the node with the directory; a registration failure is logged and
// available from RegisterErr but does not fail Start.
func (n *Node) Start(port int) error {
	n.lifecycle.Lock()

	if n.getState() == Running {
		n.lifecycle.Unlock()
		return ErrAlreadyRunning
	}

	bindAddr, err := n.conf.BindAddrForPort(port)
	if err != nil {
		n.lifecycle.Unlock()
		return err
	}

	trans, err := n.network.Listen(bindAddr)
	if err != nil {
		n.lifecycle.Unlock()
		return fmt.Errorf("listening on %s: %w", bindAddr, err)
	}

	self, err := peers.ParseNodeAddress(trans.AdvertiseAddr())
	if err != nil {
		trans.Close()
		n.lifecycle.Unlock()
		return err
	}

	shutdownCh := make(chan struct{})

	n.trans = trans
	n.self = self
	n.shutdownCh = shutdownCh
	n.start = time.Now()
	n.setState(Running)

	n.lifecycle.Unlock()

	n.logger.WithField("addr", self.String()).Debug("Node started")

	n.goFunc(func() { n.serve(trans.Consumer(), shutdownCh) })

	err = n.directory.Register(self)
	n.setRegisterErr(err)
	if err != nil {
		n.logger.WithError(err).Warn("Directory registration failed")
	}

	return nil
}

// Stop closes every link and the transport and empties the peer table. It is
// safe to call concurrently with joins in progress, and on a stopped node.
// The node can be started again afterwards.
func (n *Node) Stop() error {
	n.lifecycle.Lock()

	if n.getState() != Running {
		n.lifecycle.Unlock()
		return nil
	}

	n.logger.Debug("Stop")

	n.setState(Stopped)
	close(n.shutdownCh)

	entries := n.table.Clear()
	n.updatePeerGauges()

	err := n.trans.Close()
	for _, e := range entries {
		e.Handle.Close()
	}

	n.lifecycle.Unlock()

	// Handlers that were waiting on the lifecycle lock now see Stopped
	n.waitRoutines()

	if errors.Is(err, net.ErrTransportShutdown) {
		return nil
	}
	return err
}

func (n *Node) serve(netCh <-chan net.RPC, shutdownCh <-chan struct{}) {
	for {
		select {
		case rpc := <-netCh:
			n.goFunc(func() { n.processRPC(rpc) })
		case <-shutdownCh:
			return
		}
	}
}

// transport returns the transport of a running node.
func (n *Node) transport() (net.Transport, error) {
	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()

	if n.getState() != Running {
		return nil, ErrNotRunning
	}
	return n.trans, nil
}

// EnumerateNodes returns the addresses of all the peers, inbound and outbound,
// without duplicates.
func (n *Node) EnumerateNodes() []peers.NodeAddress {
	return n.table.SnapshotAll()
}

// InboundNodes returns the addresses of the peers that joined us.
func (n *Node) InboundNodes() []peers.NodeAddress {
	return n.table.Snapshot(peers.Inbound)
}

// OutboundNodes returns the addresses of the peers we joined.
func (n *Node) OutboundNodes() []peers.NodeAddress {
	return n.table.Snapshot(peers.Outbound)
}

// Peers returns a copy of the peer table entries.
func (n *Node) Peers() []peers.PeerEntry {
	return n.table.Entries()
}

// LocalAddr returns the address other nodes reach us at. It is the zero
// address until the first Start.
func (n *Node) LocalAddr() peers.NodeAddress {
	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()

	return n.self
}

// State returns the current state of the node.
func (n *Node) State() State {
	return n.getState()
}

// RegisterErr returns the outcome of the last directory registration.
func (n *Node) RegisterErr() error {
	n.registerErrLock.Lock()
	defer n.registerErrLock.Unlock()

	return n.registerErr
}

func (n *Node) setRegisterErr(err error) {
	n.registerErrLock.Lock()
	defer n.registerErrLock.Unlock()

	n.registerErr = err
}

// Metrics returns the Prometheus collectors of the node.
func (n *Node) Metrics() *telemetry.Metrics {
	return n.metrics
}

func (n *Node) updatePeerGauges() {
	n.metrics.Peers.WithLabelValues(peers.Inbound.String()).Set(float64(n.table.Len(peers.Inbound)))
	n.metrics.Peers.WithLabelValues(peers.Outbound.String()).Set(float64(n.table.Len(peers.Outbound)))
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.lifecycle.RLock()
	self := n.self
	start := n.start
	n.lifecycle.RUnlock()

	var uptime time.Duration
	if n.getState() == Running {
		uptime = time.Since(start).Round(time.Second)
	}

	s := map[string]string{
		"state":          n.getState().String(),
		"addr":           self.String(),
		"num_peers":      strconv.Itoa(len(n.table.SnapshotAll())),
		"inbound_peers":  strconv.Itoa(n.table.Len(peers.Inbound)),
		"outbound_peers": strconv.Itoa(n.table.Len(peers.Outbound)),
		"connects":       strconv.FormatInt(atomic.LoadInt64(&n.connects), 10),
		"join_requests":  strconv.FormatInt(atomic.LoadInt64(&n.joinRequests), 10),
		"faults":         strconv.FormatInt(atomic.LoadInt64(&n.faults), 10),
		"uptime":         uptime.String(),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"num_peers":      stats["num_peers"],
		"inbound_peers":  stats["inbound_peers"],
		"outbound_peers": stats["outbound_peers"],
		"faults":         stats["faults"],
	}).Debug("Stats")
}
