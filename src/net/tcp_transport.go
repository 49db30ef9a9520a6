package net

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (c net.Conn, err error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the SteamLayer interface.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	return t.advertise
}

// TCPNetwork creates NetworkTransports over TCP. Every transport it creates
// shares the same timeouts, codec and logger.
type TCPNetwork struct {
	// AdvertiseHost, if set, replaces the host of the bind address in the
	// advertised address. The port is always the one actually bound.
	AdvertiseHost string

	Timeout     time.Duration
	JoinTimeout time.Duration
	KeepAlive   time.Duration

	Codec  Codec
	Logger *logrus.Entry
}

// Listen implements the Network interface.
func (n *TCPNetwork) Listen(bindAddr string) (Transport, error) {
	trans, err := NewTCPTransport(bindAddr, n.AdvertiseHost, n.Codec, n.Timeout, n.JoinTimeout, n.KeepAlive, n.Logger)
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// NewTCPTransport returns a NetworkTransport that is built on top of a TCP
// streaming transport layer, with log output going to the supplied Logger. The
// transport is already accepting connections when it is returned.
func NewTCPTransport(
	bindAddr string,
	advertiseHost string,
	codec Codec,
	timeout time.Duration,
	joinTimeout time.Duration,
	keepAlive time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	stream, err := newTCPStreamLayer(bindAddr, advertiseHost)
	if err != nil {
		return nil, err
	}

	trans := NewNetworkTransport(stream, codec, timeout, joinTimeout, keepAlive, logger)

	go trans.listen()

	return trans, nil
}

func newTCPStreamLayer(bindAddr string, advertiseHost string) (*TCPStreamLayer, error) {
	// Try to bind
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	// Verify that we have a usable advertise address
	addr, ok := list.Addr().(*net.TCPAddr)
	if !ok {
		list.Close()
		return nil, errNotTCP
	}

	advertise := addr.String()

	if advertiseHost != "" {
		advertise = net.JoinHostPort(advertiseHost, strconv.Itoa(addr.Port))
	} else if addr.IP.IsUnspecified() {
		list.Close()
		return nil, errNotAdvertisable
	}

	return &TCPStreamLayer{
		advertise: advertise,
		listener:  list.(*net.TCPListener),
	}, nil
}
