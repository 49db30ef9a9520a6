package net

import (
	"net"
	"testing"
	"time"

	"github.com/mosaicnetworks/nebula/src/common"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", nil, 0, 0, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "10.1.2.3", nil, 0, 0, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()

	_, port, _ := net.SplitHostPort(trans.LocalAddr())
	if trans.AdvertiseAddr() != net.JoinHostPort("10.1.2.3", port) {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}

func TestTCPTransport_IdleInbound(t *testing.T) {
	trans, err := NewTCPTransport("127.0.0.1:0", "", nil, time.Second, time.Second, 30*time.Millisecond, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer trans.Close()

	inbound := make(chan Conn, 1)
	go func() {
		for rpc := range trans.Consumer() {
			inbound <- rpc.Conn
			rpc.Respond(&JoinResponse{Accepted: true}, nil)
		}
	}()

	// A raw client that sends one request and then goes silent
	raw, err := net.Dial("tcp", trans.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	codec, _ := NewCodec(MsgpackCodec)
	enc := codec.NewEncoder(raw)
	if err := enc.Encode(rpcJoin); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(&JoinRequest{MaxPeers: 1}); err != nil {
		t.Fatal(err)
	}

	var conn Conn
	select {
	case conn = <-inbound:
	case <-time.After(time.Second):
		t.Fatal("request not delivered")
	}

	if _, port, _ := net.SplitHostPort(conn.RemoteAddr()); port == "" {
		t.Fatalf("inbound conn should know its remote address, got %q", conn.RemoteAddr())
	}

	waitDone(conn, t)
	if conn.Err() != ErrConnectionLost {
		t.Fatalf("silent link should be lost, got %v", conn.Err())
	}
}

// dialJoin opens a raw client link to trans and sends it one JoinRequest.
func dialJoin(t *testing.T, trans *NetworkTransport) net.Conn {
	raw, err := net.Dial("tcp", trans.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}

	codec, _ := NewCodec(MsgpackCodec)
	enc := codec.NewEncoder(raw)
	if err := enc.Encode(rpcJoin); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(&JoinRequest{MaxPeers: 1}); err != nil {
		t.Fatal(err)
	}

	return raw
}

func TestTCPTransport_LocalCloseIsQuiet(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.Level = logrus.DebugLevel

	trans, err := NewTCPTransport("127.0.0.1:0", "", nil, time.Second, time.Second, 0, logrus.NewEntry(logger))
	if err != nil {
		t.Fatal(err)
	}

	inbound := make(chan Conn, 2)
	go func() {
		for rpc := range trans.Consumer() {
			inbound <- rpc.Conn
			rpc.Respond(&JoinResponse{Accepted: true}, nil)
		}
	}()

	first := dialJoin(t, trans)
	defer first.Close()
	second := dialJoin(t, trans)
	defer second.Close()

	conns := make([]Conn, 0, 2)
	for len(conns) < 2 {
		select {
		case c := <-inbound:
			conns = append(conns, c)
		case <-time.After(time.Second):
			t.Fatal("request not delivered")
		}
	}

	// One link closed on its own, the other by the transport
	conns[0].Close()
	trans.Close()

	for _, c := range conns {
		waitDone(c, t)
		if c.Err() != nil {
			t.Fatalf("locally closed link should have no error, got %v", c.Err())
		}
	}

	// handleConn logs after the link is done
	time.Sleep(100 * time.Millisecond)

	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Fatalf("local close should not log at %v: %s %v", e.Level, e.Message, e.Data)
		}
	}
}

func TestCodecs(t *testing.T) {
	if _, err := NewCodec("gob"); err == nil {
		t.Fatal("unknown codec should be refused")
	}

	for _, name := range []string{"", MsgpackCodec, CBORCodec} {
		c, err := NewCodec(name)
		if err != nil {
			t.Fatal(err)
		}
		if name != "" && c.Name() != name {
			t.Fatalf("codec name should be %s, not %s", name, c.Name())
		}
	}

	if c, _ := NewCodec(""); c.Name() != MsgpackCodec {
		t.Fatalf("default codec should be msgpack")
	}
}
