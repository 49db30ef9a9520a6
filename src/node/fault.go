package node

import (
	"sync/atomic"

	"github.com/mosaicnetworks/nebula/src/net"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

// watch removes the link from the peer table as soon as it ends. It may be
// called before the link is registered.
func (n *Node) watch(conn net.Conn) {
	go func() {
		<-conn.Done()
		n.linkDown(conn)
	}()
}

// checkDone catches links that ended between watch and registration.
func (n *Node) checkDone(conn net.Conn) {
	select {
	case <-conn.Done():
		n.linkDown(conn)
	default:
	}
}

// linkDown removes an ended link. Only the first call for a registered link
// has an effect; NodeFaulted is published if the link failed rather than being
// closed on our side.
func (n *Node) linkDown(conn net.Conn) {
	entry, ok := n.table.Remove(conn)
	if !ok {
		return
	}

	n.updatePeerGauges()

	err := conn.Err()
	if err == nil {
		n.logger.WithField("peer", entry.Addr.String()).Debug("Peer link closed")
		return
	}

	atomic.AddInt64(&n.faults, 1)
	n.metrics.Faults.Inc()

	n.logger.WithFields(logrus.Fields{
		"peer":      entry.Addr.String(),
		"direction": entry.Direction.String(),
		"error":     err,
	}).Warn("Peer faulted")

	n.events.publish(NodeFaulted, entry.Addr)
}

// drop unregisters and closes a link without publishing any event.
func (n *Node) drop(conn net.Conn) {
	if _, ok := n.table.Remove(conn); ok {
		n.updatePeerGauges()
	}
	conn.Close()
}

// Disconnect closes every link to addr. The peers are removed without a
// NodeFaulted event. It returns the number of links closed.
func (n *Node) Disconnect(addr peers.NodeAddress) int {
	count := 0
	for _, e := range n.table.Entries() {
		if e.Addr != addr {
			continue
		}
		if _, ok := n.table.Remove(e.Handle); ok {
			e.Handle.Close()
			count++
		}
	}

	if count > 0 {
		n.updatePeerGauges()
		n.logger.WithFields(logrus.Fields{
			"peer":  addr.String(),
			"links": count,
		}).Debug("Disconnect")
	}

	return count
}
