package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/sirupsen/logrus"
)

const (
	rpcJoin uint8 = iota
	rpcPing
)

const (
	bufSize = 4096

	// idleFactor is the number of keepalive periods an inbound link may stay
	// silent before it is considered lost.
	idleFactor = 3
)

// StreamLayer is used with the NetworkTransport to provide the low level stream
// abstraction.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream
	AdvertiseAddr() string
}

/*
NetworkTransport provides a network based transport that can be used to link
Nebula nodes on remote machines. It requires an underlying stream layer to
provide a stream abstraction, which can be simple TCP, TLS, etc.

Every link is one persistent stream. Each RPC request is framed by sending the
message type followed by the encoded request. The response is an error string
followed by the response object. Both are encoded with the transport's Codec.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	stream StreamLayer
	codec  Codec

	consumeCh chan RPC

	conns     map[uint64]*netConn
	connsLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	timeout     time.Duration
	joinTimeout time.Duration
	keepAlive   time.Duration
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply I/O deadlines, except for Join requests
// which use joinTimeout. A keepAlive of 0 disables link probing. The caller is
// responsible for running listen.
func NewNetworkTransport(
	stream StreamLayer,
	codec Codec,
	timeout time.Duration,
	joinTimeout time.Duration,
	keepAlive time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if codec == nil {
		codec = newMsgpackCodec()
	}

	return &NetworkTransport{
		logger:      logger,
		stream:      stream,
		codec:       codec,
		consumeCh:   make(chan RPC),
		conns:       make(map[uint64]*netConn),
		shutdownCh:  make(chan struct{}),
		timeout:     timeout,
		joinTimeout: joinTimeout,
		keepAlive:   keepAlive,
	}
}

// Close is used to stop the network transport. Every link is closed locally,
// so their Err returns nil.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return nil
	}

	n.shutdown = true
	close(n.shutdownCh)

	err := n.stream.Close()

	for _, nc := range n.takeConns() {
		nc.Close()
	}

	return err
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(target string) (ClientConn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, err
	}

	nc := n.newNetConn(conn)
	if !n.track(nc) {
		conn.Close()
		return nil, ErrTransportShutdown
	}

	if n.keepAlive > 0 {
		go nc.keepAliveLoop(n.keepAlive)
	}

	n.logger.WithFields(logrus.Fields{
		"id":     nc.id,
		"target": target,
	}).Debug("dialed link")

	return nc, nil
}

func (n *NetworkTransport) newNetConn(conn net.Conn) *netConn {
	w := bufio.NewWriterSize(conn, bufSize)

	return &netConn{
		link:  newLink(conn.LocalAddr().String(), conn.RemoteAddr().String()),
		trans: n,
		conn:  conn,
		w:     w,
		enc:   n.codec.NewEncoder(w),
		dec:   n.codec.NewDecoder(bufio.NewReaderSize(conn, bufSize)),
	}
}

// track records a link so that Close can end it. It refuses new links once the
// transport is shut down.
func (n *NetworkTransport) track(nc *netConn) bool {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	if n.IsShutdown() {
		return false
	}

	n.conns[nc.id] = nc
	return true
}

func (n *NetworkTransport) untrack(nc *netConn) {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	delete(n.conns, nc.id)
}

func (n *NetworkTransport) takeConns() []*netConn {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	res := make([]*netConn, 0, len(n.conns))
	for _, nc := range n.conns {
		res = append(res, nc)
	}
	n.conns = make(map[uint64]*netConn)

	return res
}

// listen handles incoming connections until the transport is closed.
func (n *NetworkTransport) listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn is used to handle an inbound link for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	nc := n.newNetConn(conn)
	if !n.track(nc) {
		conn.Close()
		return
	}

	for {
		err := n.handleCommand(nc)
		if err == nil {
			continue
		}

		switch {
		case nc.isEnding(), n.IsShutdown(), err == ErrTransportShutdown:
			// closed locally
		case err == io.EOF:
			n.logger.WithField("id", nc.id).Debug("link closed by peer")
		default:
			n.logger.WithFields(logrus.Fields{
				"id":    nc.id,
				"error": err,
			}).Warn("Failed to handle incoming command")
		}

		nc.fault()
		return
	}
}

// handleCommand is used to decode and dispatch a single command.
func (n *NetworkTransport) handleCommand(nc *netConn) error {
	if n.keepAlive > 0 {
		nc.conn.SetReadDeadline(time.Now().Add(idleFactor * n.keepAlive))
	}

	// Get the rpc type
	var rpcType uint8
	if err := nc.dec.Decode(&rpcType); err != nil {
		return err
	}

	// The body follows the type immediately
	if n.timeout > 0 {
		nc.conn.SetReadDeadline(time.Now().Add(n.timeout))
	}

	// Create the RPC object
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Conn:     nc,
		RespChan: respCh,
	}

	// Decode the command
	switch rpcType {
	case rpcPing:
		var req PingRequest
		if err := nc.dec.Decode(&req); err != nil {
			return err
		}
		return nc.writeResponse(&PingResponse{}, nil)
	case rpcJoin:
		var req JoinRequest
		if err := nc.dec.Decode(&req); err != nil {
			return err
		}
		rpc.Command = &req
	default:
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	// No read deadline while the request is being processed
	nc.conn.SetReadDeadline(time.Time{})

	// Dispatch the RPC
	select {
	case n.consumeCh <- rpc:
	case <-nc.doneCh:
		return ErrConnectionLost
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	// Wait for response
	select {
	case resp := <-respCh:
		return nc.writeResponse(resp.Response, resp.Error)
	case <-nc.doneCh:
		return ErrConnectionLost
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
}

// netConn is one end of a TCP link. The dialing end implements ClientConn.
type netConn struct {
	*link

	trans *NetworkTransport
	conn  net.Conn
	w     *bufio.Writer
	dec   Decoder
	enc   Encoder

	// one outstanding request per link
	callLock sync.Mutex
}

// Close implements the Conn interface.
func (c *netConn) Close() error {
	_, err := c.end(nil, c.release)
	return err
}

// fault ends the link as lost, unless it already ended or the whole transport
// is shutting down.
func (c *netConn) fault() {
	var reason error = ErrConnectionLost
	if c.trans.IsShutdown() {
		reason = nil
	}

	if first, _ := c.end(reason, c.release); first && reason != nil {
		c.trans.logger.WithFields(logrus.Fields{
			"id":     c.id,
			"remote": c.remoteAddr,
		}).Debug("link lost")
	}
}

func (c *netConn) release() error {
	c.trans.untrack(c)
	return c.conn.Close()
}

// Join implements the ClientConn interface.
func (c *netConn) Join(args *JoinRequest, resp *JoinResponse) error {
	return c.genericRPC(rpcJoin, c.trans.joinTimeout, args, resp)
}

// Ping implements the ClientConn interface.
func (c *netConn) Ping() error {
	return c.genericRPC(rpcPing, c.trans.timeout, &PingRequest{}, &PingResponse{})
}

// genericRPC handles a simple request/response RPC. Any I/O failure faults the
// link. An error returned by the remote handler does not.
func (c *netConn) genericRPC(rpcType uint8, timeout time.Duration, args interface{}, resp interface{}) error {
	c.callLock.Lock()
	defer c.callLock.Unlock()

	if c.isDone() {
		return ErrConnectionLost
	}

	// Set a deadline
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.conn.SetDeadline(deadline)

	// Send the RPC
	if err := c.sendRPC(rpcType, args); err != nil {
		c.fault()
		return ioError(err, deadline)
	}

	// Decode the response
	rpcErr, err := c.decodeResponse(resp)
	if err != nil {
		c.fault()
		return ioError(err, deadline)
	}

	c.conn.SetDeadline(time.Time{})

	return rpcErr
}

// sendRPC is used to encode and send the RPC.
func (c *netConn) sendRPC(rpcType uint8, args interface{}) error {
	if err := c.enc.Encode(rpcType); err != nil {
		return err
	}

	if err := c.enc.Encode(args); err != nil {
		return err
	}

	return c.w.Flush()
}

// decodeResponse is used to decode an RPC response. The first return value is
// the error reported by the remote handler, the second an I/O error.
func (c *netConn) decodeResponse(resp interface{}) (error, error) {
	// Decode the error if any
	var rpcError string
	if err := c.dec.Decode(&rpcError); err != nil {
		return nil, err
	}

	// Decode the response
	if err := c.dec.Decode(resp); err != nil {
		return nil, err
	}

	// Format an error if any
	if rpcError != "" {
		return errors.New(rpcError), nil
	}
	return nil, nil
}

func (c *netConn) writeResponse(resp interface{}, respErr error) error {
	if c.trans.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.trans.timeout))
	}

	// Send the error first
	errString := ""
	if respErr != nil {
		errString = respErr.Error()
	}
	if err := c.enc.Encode(errString); err != nil {
		return err
	}

	// Send the response
	if err := c.enc.Encode(resp); err != nil {
		return err
	}

	return c.w.Flush()
}

// keepAliveLoop pings the link until it ends. A failed ping has already
// faulted the link by the time it returns.
func (c *netConn) keepAliveLoop(interval time.Duration) {
	ticker := jitterbug.New(interval, keepAliveJitter{max: interval / 4})
	defer ticker.Stop()

	for {
		select {
		case <-c.doneCh:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.trans.logger.WithFields(logrus.Fields{
					"id":    c.id,
					"error": err,
				}).Debug("keepalive failed")
				return
			}
		}
	}
}

// keepAliveJitter spreads pings uniformly over [d-max, d+max).
type keepAliveJitter struct {
	max time.Duration
}

func (j keepAliveJitter) Jitter(d time.Duration) time.Duration {
	if j.max <= 0 || j.max >= d {
		return d
	}

	return d + time.Duration(rand.Int63n(int64(2*j.max))) - j.max
}

// ioError maps a stream error to the transport's error values. Codecs may wrap
// net errors, so timeouts are recognised by the deadline as well.
func ioError(err error, deadline time.Time) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}

	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return ErrTimeout
	}

	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}
