package net

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultInmemTimeout bounds every in-memory call.
	DefaultInmemTimeout = 500 * time.Millisecond

	firstInmemPort = 10000
)

// InmemNetwork routes links between the InmemTransports created from it, to
// allow nodes to be tested in-memory without going over a network.
type InmemNetwork struct {
	sync.RWMutex

	transports map[string]*InmemTransport
	nextPort   int
	timeout    time.Duration
}

// NewInmemNetwork creates an empty network. A zero timeout selects
// DefaultInmemTimeout.
func NewInmemNetwork(timeout time.Duration) *InmemNetwork {
	if timeout == 0 {
		timeout = DefaultInmemTimeout
	}
	return &InmemNetwork{
		transports: make(map[string]*InmemTransport),
		nextPort:   firstInmemPort,
		timeout:    timeout,
	}
}

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID as
// the host.
func (n *InmemNetwork) NewInmemAddr() string {
	n.Lock()
	defer n.Unlock()

	return n.newAddr()
}

func (n *InmemNetwork) newAddr() string {
	port := n.nextPort
	n.nextPort++
	return net.JoinHostPort(uuid.New().String(), strconv.Itoa(port))
}

// Listen implements the Network interface. An empty bindAddr, or one with port
// 0, is replaced by a generated address.
func (n *InmemNetwork) Listen(bindAddr string) (Transport, error) {
	n.Lock()
	defer n.Unlock()

	addr := bindAddr
	if _, port, err := net.SplitHostPort(bindAddr); err != nil || port == "0" {
		addr = n.newAddr()
	}

	if _, ok := n.transports[addr]; ok {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}

	trans := &InmemTransport{
		network:    n,
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		conns:      make(map[uint64]*inmemConn),
		shutdownCh: make(chan struct{}),
		timeout:    n.timeout,
	}

	n.transports[addr] = trans

	return trans, nil
}

func (n *InmemNetwork) lookup(addr string) (*InmemTransport, bool) {
	n.RLock()
	defer n.RUnlock()

	t, ok := n.transports[addr]
	return t, ok
}

func (n *InmemNetwork) remove(t *InmemTransport) {
	n.Lock()
	defer n.Unlock()

	if n.transports[t.localAddr] == t {
		delete(n.transports, t.localAddr)
	}
}

// Partition faults every link between the transports listening at a and b.
func (n *InmemNetwork) Partition(a, b string) int {
	ta, okA := n.lookup(a)
	tb, okB := n.lookup(b)
	if !okA || !okB {
		return 0
	}

	count := 0
	for _, c := range ta.snapshotConns() {
		if c.peer.trans == tb {
			c.sever()
			count++
		}
	}

	return count
}

// Sever faults the link that conn belongs to, on both ends.
func (n *InmemNetwork) Sever(conn Conn) {
	if c, ok := conn.(*inmemConn); ok {
		c.sever()
	}
}

// InmemTransport implements the Transport interface.
type InmemTransport struct {
	network *InmemNetwork

	consumerCh chan RPC
	localAddr  string

	conns     map[uint64]*inmemConn
	connsLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	timeout time.Duration
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Dial implements the Transport interface.
func (i *InmemTransport) Dial(target string) (ClientConn, error) {
	if i.isShutdown() {
		return nil, ErrTransportShutdown
	}

	peer, ok := i.network.lookup(target)
	if !ok || peer.isShutdown() {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	local := &inmemConn{
		link:  newLink(i.localAddr, target),
		trans: i,
	}
	remote := &inmemConn{
		link:  newLink(target, i.localAddr),
		trans: peer,
	}
	local.peer = remote
	remote.peer = local

	if !i.track(local) {
		return nil, ErrTransportShutdown
	}
	if !peer.track(remote) {
		local.end(ErrConnectionLost, local.release)
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	return local, nil
}

// Close is used to permanently disable the transport. Local ends are closed
// locally, the remote ends observe a fault.
func (i *InmemTransport) Close() error {
	i.shutdownLock.Lock()
	defer i.shutdownLock.Unlock()

	if i.shutdown {
		return nil
	}

	i.shutdown = true
	close(i.shutdownCh)
	i.network.remove(i)

	for _, c := range i.takeConns() {
		c.Close()
	}

	return nil
}

func (i *InmemTransport) isShutdown() bool {
	select {
	case <-i.shutdownCh:
		return true
	default:
		return false
	}
}

func (i *InmemTransport) track(c *inmemConn) bool {
	i.connsLock.Lock()
	defer i.connsLock.Unlock()

	if i.isShutdown() {
		return false
	}

	i.conns[c.id] = c
	return true
}

func (i *InmemTransport) untrack(c *inmemConn) {
	i.connsLock.Lock()
	defer i.connsLock.Unlock()

	delete(i.conns, c.id)
}

func (i *InmemTransport) snapshotConns() []*inmemConn {
	i.connsLock.Lock()
	defer i.connsLock.Unlock()

	res := make([]*inmemConn, 0, len(i.conns))
	for _, c := range i.conns {
		res = append(res, c)
	}
	return res
}

func (i *InmemTransport) takeConns() []*inmemConn {
	res := i.snapshotConns()

	i.connsLock.Lock()
	i.conns = make(map[uint64]*inmemConn)
	i.connsLock.Unlock()

	return res
}

// inmemConn is one end of an in-memory link. Ending one side faults the other.
type inmemConn struct {
	*link

	trans *InmemTransport
	peer  *inmemConn
}

// Close implements the Conn interface.
func (c *inmemConn) Close() error {
	if first, _ := c.end(nil, c.release); first {
		c.peer.end(ErrConnectionLost, c.peer.release)
	}
	return nil
}

// sever faults both ends.
func (c *inmemConn) sever() {
	c.end(ErrConnectionLost, c.release)
	c.peer.end(ErrConnectionLost, c.peer.release)
}

func (c *inmemConn) release() error {
	c.trans.untrack(c)
	return nil
}

// Join implements the ClientConn interface.
func (c *inmemConn) Join(args *JoinRequest, resp *JoinResponse) error {
	rpcResp, err := c.makeRPC(args)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*JoinResponse)
	*resp = *out
	return nil
}

// Ping implements the ClientConn interface.
func (c *inmemConn) Ping() error {
	if c.isDone() {
		return ErrConnectionLost
	}
	return nil
}

func (c *inmemConn) makeRPC(args interface{}) (rpcResp RPCResponse, err error) {
	if c.isDone() {
		err = ErrConnectionLost
		return
	}

	timer := time.NewTimer(c.trans.timeout)
	defer timer.Stop()

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  args,
		Conn:     c.peer,
		RespChan: respCh,
	}

	select {
	case c.peer.trans.consumerCh <- rpc:
	case <-c.doneCh:
		err = ErrConnectionLost
		return
	case <-timer.C:
		c.sever()
		err = ErrTimeout
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-c.doneCh:
		err = ErrConnectionLost
	case <-timer.C:
		c.sever()
		err = ErrTimeout
	}
	return
}
