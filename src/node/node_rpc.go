package node

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mosaicnetworks/nebula/src/net"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/mosaicnetworks/nebula/src/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Connect joins the node listening at host:port. See ConnectAddr.
func (n *Node) Connect(host string, port int) ([]peers.NodeAddress, error) {
	return n.ConnectAddr(peers.NewNodeAddress(host, port))
}

// ConnectAddr links to a bootstrap node, asks it to register us, and
// flood-connects to the peers it returns. It returns the snapshot sent by the
// bootstrap node, possibly empty. Individual flood failures are logged and
// skipped.
//
// The error is a *ConnectionError when no link could be established or the
// join exchange failed, and a *RejectedJoinError when the bootstrap node
// declined; in the latter case the link to it is kept.
func (n *Node) ConnectAddr(addr peers.NodeAddress) ([]peers.NodeAddress, error) {
	trans, err := n.transport()
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&n.connects, 1)

	logger := n.logger.WithField("bootstrap", addr.String())
	logger.Debug("Connect")

	conn, err := trans.Dial(addr.String())
	if err != nil {
		n.metrics.Joins.WithLabelValues(telemetry.RoleInitiator, telemetry.ResultError).Inc()
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	if err := n.register(conn, addr, peers.Outbound); err != nil {
		conn.Close()
		n.metrics.Joins.WithLabelValues(telemetry.RoleInitiator, telemetry.ResultError).Inc()
		return nil, err
	}

	resp, err := n.requestJoin(conn, n.conf.JoinPeers)
	if err != nil {
		n.drop(conn)
		n.metrics.Joins.WithLabelValues(telemetry.RoleInitiator, telemetry.ResultError).Inc()
		logger.WithError(err).Debug("JoinRequest failed")
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	// From here on the link is a peer, accepted or not
	n.watch(conn)

	if !resp.Accepted {
		n.metrics.Joins.WithLabelValues(telemetry.RoleInitiator, telemetry.ResultRejected).Inc()
		logger.Debug("JoinRequest rejected")
		return nil, &RejectedJoinError{Addr: addr}
	}

	n.metrics.Joins.WithLabelValues(telemetry.RoleInitiator, telemetry.ResultAccepted).Inc()
	n.events.publish(NodeConnected, addr)

	snapshot := resp.Peers
	if snapshot == nil {
		snapshot = []peers.NodeAddress{}
	}

	logger.WithField("peers", len(snapshot)).Debug("JoinRequest accepted")

	n.flood(trans, snapshot)

	n.logStats()

	return snapshot, nil
}

// flood joins every address of a snapshot except our own, asking for no
// further addresses, so that connectivity expands by exactly one hop.
func (n *Node) flood(trans net.Transport, snapshot []peers.NodeAddress) {
	self := n.LocalAddr()

	var g errgroup.Group
	if n.conf.FloodParallelism > 0 {
		g.SetLimit(n.conf.FloodParallelism)
	}

	for _, addr := range snapshot {
		if addr == self {
			continue
		}

		addr := addr
		g.Go(func() error {
			if err := n.floodConnect(trans, addr); err != nil {
				n.metrics.FloodFailures.Inc()
				n.logger.WithFields(logrus.Fields{
					"peer":  addr.String(),
					"error": err,
				}).Warn("Flood-connect failed")
			}
			return nil
		})
	}

	g.Wait()
}

func (n *Node) floodConnect(trans net.Transport, addr peers.NodeAddress) error {
	conn, err := trans.Dial(addr.String())
	if err != nil {
		n.metrics.Joins.WithLabelValues(telemetry.RoleFlood, telemetry.ResultError).Inc()
		return &ConnectionError{Addr: addr, Err: err}
	}

	resp, err := n.requestJoin(conn, 0)
	if err != nil {
		conn.Close()
		n.metrics.Joins.WithLabelValues(telemetry.RoleFlood, telemetry.ResultError).Inc()
		return &ConnectionError{Addr: addr, Err: err}
	}

	if !resp.Accepted {
		conn.Close()
		n.metrics.Joins.WithLabelValues(telemetry.RoleFlood, telemetry.ResultRejected).Inc()
		return &RejectedJoinError{Addr: addr}
	}

	if err := n.register(conn, addr, peers.Outbound); err != nil {
		conn.Close()
		n.metrics.Joins.WithLabelValues(telemetry.RoleFlood, telemetry.ResultError).Inc()
		return err
	}

	n.watch(conn)

	n.metrics.Joins.WithLabelValues(telemetry.RoleFlood, telemetry.ResultAccepted).Inc()
	n.events.publish(NodeConnected, addr)

	return nil
}

func (n *Node) requestJoin(conn net.ClientConn, maxPeers int) (net.JoinResponse, error) {
	args := net.JoinRequest{
		From:     n.LocalAddr(),
		MaxPeers: maxPeers,
	}

	var out net.JoinResponse

	err := conn.Join(&args, &out)

	return out, err
}

// register adds a link to the peer table, unless the node is stopped or the
// link already ended.
func (n *Node) register(conn net.Conn, addr peers.NodeAddress, dir peers.Direction) error {
	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()

	if n.getState() != Running {
		return ErrNotRunning
	}

	select {
	case <-conn.Done():
		err := conn.Err()
		if err == nil {
			err = net.ErrConnectionLost
		}
		return &ConnectionError{Addr: addr, Err: err}
	default:
	}

	if !n.table.Add(conn, addr, dir) {
		n.logger.WithFields(logrus.Fields{
			"peer": addr.String(),
			"conn": conn.ID(),
		}).Error("Link registered twice")
		return &DuplicateConnectionError{Addr: addr, ID: conn.ID()}
	}

	n.updatePeerGauges()

	return nil
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.JoinRequest:
		n.processJoinRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processJoinRequest(rpc net.RPC, cmd *net.JoinRequest) {
	atomic.AddInt64(&n.joinRequests, 1)

	addr := cmd.From
	if addr.IsZero() {
		var err error
		addr, err = peers.ParseNodeAddress(rpc.Conn.RemoteAddr())
		if err != nil {
			n.metrics.Joins.WithLabelValues(telemetry.RoleAcceptor, telemetry.ResultError).Inc()
			rpc.Respond(nil, fmt.Errorf("no address for caller: %w", err))
			return
		}
	}

	logger := n.logger.WithFields(logrus.Fields{
		"peer":      addr.String(),
		"max_peers": cmd.MaxPeers,
	})
	logger.Debug("process JoinRequest")

	snapshot := n.OutboundNodes()
	if n.conf.TruncateJoinSnapshot && cmd.MaxPeers >= 0 && len(snapshot) > cmd.MaxPeers {
		snapshot = snapshot[:cmd.MaxPeers]
	}

	resp := &net.JoinResponse{
		From: n.LocalAddr(),
	}

	// Watch first, a fault right after registration must not be missed
	n.watch(rpc.Conn)

	err := n.register(rpc.Conn, addr, peers.Inbound)
	switch {
	case err == nil:
		resp.Accepted = true
		resp.Peers = snapshot
		n.metrics.Joins.WithLabelValues(telemetry.RoleAcceptor, telemetry.ResultAccepted).Inc()
		n.events.publish(NodeConnected, addr)
		n.checkDone(rpc.Conn)
	case errors.Is(err, ErrNotRunning):
		// The transport is closed already, so is the link
		n.metrics.Joins.WithLabelValues(telemetry.RoleAcceptor, telemetry.ResultRejected).Inc()
	default:
		n.metrics.Joins.WithLabelValues(telemetry.RoleAcceptor, telemetry.ResultRejected).Inc()
		logger.WithError(err).Debug("JoinRequest rejected")
	}

	logger.WithFields(logrus.Fields{
		"accepted": resp.Accepted,
		"peers":    len(resp.Peers),
	}).Debug("Responding to JoinRequest")

	rpc.Respond(resp, nil)
}
