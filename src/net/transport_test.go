package net

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/nebula/src/common"
	"github.com/mosaicnetworks/nebula/src/peers"
)

const (
	INMEM = iota
	TCP
	TCPCBOR
	numTestNetworks // NOTE: must be last
)

func newTestNetwork(ntype int, t *testing.T) Network {
	switch ntype {
	case INMEM:
		return NewInmemNetwork(time.Second)
	case TCP, TCPCBOR:
		name := MsgpackCodec
		if ntype == TCPCBOR {
			name = CBORCodec
		}
		codec, err := NewCodec(name)
		if err != nil {
			t.Fatal(err)
		}
		return &TCPNetwork{
			Timeout:     time.Second,
			JoinTimeout: 2 * time.Second,
			KeepAlive:   50 * time.Millisecond,
			Codec:       codec,
			Logger:      common.NewTestEntry(t, common.TestLogLevel),
		}
	default:
		panic("Unknown network type")
	}
}

func newTestTransport(n Network, t *testing.T) Transport {
	trans, err := n.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return trans
}

// serveJoins answers every JoinRequest with resp.
func serveJoins(trans Transport, resp *JoinResponse, got chan<- *JoinRequest) {
	for rpc := range trans.Consumer() {
		if req, ok := rpc.Command.(*JoinRequest); ok {
			if got != nil {
				got <- req
			}
			rpc.Respond(resp, nil)
		}
	}
}

func waitDone(c Conn, t *testing.T) {
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("link %d did not end", c.ID())
	}
}

func TestTransport_StartStop(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		trans := newTestTransport(newTestNetwork(ntype, t), t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
		// Closing twice is a no-op
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
		if _, err := trans.Dial("127.0.0.1:1"); err != ErrTransportShutdown {
			t.Fatalf("Dial after Close should return ErrTransportShutdown, not %v", err)
		}
	}
}

func TestTransport_Join(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans1 := newTestTransport(network, t)
		defer trans1.Close()

		trans2 := newTestTransport(network, t)
		defer trans2.Close()

		args := JoinRequest{
			From:     peers.NewNodeAddress("10.0.0.2", 2000),
			MaxPeers: 5,
		}
		resp := JoinResponse{
			From:     peers.NewNodeAddress("10.0.0.1", 1000),
			Accepted: true,
			Peers: []peers.NodeAddress{
				peers.NewNodeAddress("10.0.0.3", 3000),
				peers.NewNodeAddress("10.0.0.4", 4000),
			},
		}

		got := make(chan *JoinRequest, 1)
		go serveJoins(trans1, &resp, got)

		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var out JoinResponse
		if err := conn.Join(&args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		// Verify the command
		req := <-got
		if !reflect.DeepEqual(req, &args) {
			t.Fatalf("command mismatch: %#v %#v", *req, args)
		}

		// Verify the response
		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}

		// The link is persistent
		if err := conn.Join(&args, &out); err != nil {
			t.Fatalf("second call on the same link: %v", err)
		}

		if err := conn.Ping(); err != nil {
			t.Fatalf("ping: %v", err)
		}
	}
}

func TestTransport_RemoteError(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans1 := newTestTransport(network, t)
		defer trans1.Close()

		trans2 := newTestTransport(network, t)
		defer trans2.Close()

		go func() {
			for rpc := range trans1.Consumer() {
				rpc.Respond(&JoinResponse{}, errors.New("go away"))
			}
		}()

		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var out JoinResponse
		err = conn.Join(&JoinRequest{}, &out)
		if err == nil || err.Error() != "go away" {
			t.Fatalf("expected remote error, got %v", err)
		}

		// A handler error does not end the link
		if conn.Err() != nil {
			t.Fatalf("link should still be open: %v", conn.Err())
		}
	}
}

func TestTransport_LocalClose(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans1 := newTestTransport(network, t)
		defer trans1.Close()

		trans2 := newTestTransport(network, t)
		defer trans2.Close()

		inbound := make(chan Conn, 1)
		go func() {
			for rpc := range trans1.Consumer() {
				inbound <- rpc.Conn
				rpc.Respond(&JoinResponse{Accepted: true}, nil)
			}
		}()

		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var out JoinResponse
		if err := conn.Join(&JoinRequest{}, &out); err != nil {
			t.Fatalf("err: %v", err)
		}
		remote := <-inbound

		if err := conn.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
		waitDone(conn, t)

		if conn.Err() != nil {
			t.Fatalf("locally closed link should report no error, got %v", conn.Err())
		}

		// The other end sees the link as lost
		waitDone(remote, t)
		if remote.Err() != ErrConnectionLost {
			t.Fatalf("remote end should report ErrConnectionLost, got %v", remote.Err())
		}

		if err := conn.Join(&JoinRequest{}, &out); err != ErrConnectionLost {
			t.Fatalf("call on a closed link should fail with ErrConnectionLost, got %v", err)
		}
	}
}

func TestTransport_RemoteShutdown(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans1 := newTestTransport(network, t)
		trans2 := newTestTransport(network, t)
		defer trans2.Close()

		go serveJoins(trans1, &JoinResponse{Accepted: true}, nil)

		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var out JoinResponse
		if err := conn.Join(&JoinRequest{}, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		trans1.Close()

		// For TCP this is detected by the keepalive
		waitDone(conn, t)
		if conn.Err() != ErrConnectionLost {
			t.Fatalf("expected ErrConnectionLost, got %v", conn.Err())
		}
	}
}

func TestTransport_CloseEndsLinks(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans1 := newTestTransport(network, t)
		defer trans1.Close()

		trans2 := newTestTransport(network, t)

		go serveJoins(trans1, &JoinResponse{Accepted: true}, nil)

		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		trans2.Close()

		waitDone(conn, t)
		if conn.Err() != nil {
			t.Fatalf("links closed by their own transport are not faults, got %v", conn.Err())
		}
	}
}

func TestTransport_DialUnknown(t *testing.T) {
	for ntype := 0; ntype < numTestNetworks; ntype++ {
		network := newTestNetwork(ntype, t)

		trans := newTestTransport(network, t)
		defer trans.Close()

		// Grab a free address and release it
		other := newTestTransport(network, t)
		addr := other.AdvertiseAddr()
		other.Close()

		if _, err := trans.Dial(addr); err == nil {
			t.Fatalf("dialing a closed transport should fail")
		}
	}
}

func TestConnIDsUnique(t *testing.T) {
	network := NewInmemNetwork(0)

	trans1 := newTestTransport(network, t)
	defer trans1.Close()
	trans2 := newTestTransport(network, t)
	defer trans2.Close()

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		conn, err := trans2.Dial(trans1.AdvertiseAddr())
		if err != nil {
			t.Fatal(err)
		}
		if seen[conn.ID()] {
			t.Fatalf("duplicate conn id %d", conn.ID())
		}
		seen[conn.ID()] = true
	}
}
