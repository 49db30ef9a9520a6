package net

import (
	"testing"
	"time"
)

func TestInmemTransport_Addr(t *testing.T) {
	network := NewInmemNetwork(0)

	trans, err := network.Listen("")
	if err != nil {
		t.Fatal(err)
	}
	defer trans.Close()

	if trans.LocalAddr() != trans.AdvertiseAddr() {
		t.Fatalf("inmem local and advertise addresses should match")
	}

	fixed, err := network.Listen("node1:1337")
	if err != nil {
		t.Fatal(err)
	}
	defer fixed.Close()

	if fixed.AdvertiseAddr() != "node1:1337" {
		t.Fatalf("explicit address should be kept, got %s", fixed.AdvertiseAddr())
	}

	if _, err := network.Listen("node1:1337"); err == nil {
		t.Fatal("listening twice on the same address should fail")
	}
}

func TestInmemTransport_Partition(t *testing.T) {
	network := NewInmemNetwork(0)

	trans1 := newTestTransport(network, t)
	defer trans1.Close()
	trans2 := newTestTransport(network, t)
	defer trans2.Close()
	trans3 := newTestTransport(network, t)
	defer trans3.Close()

	c12, err := trans1.Dial(trans2.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}
	c21, err := trans2.Dial(trans1.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}
	c13, err := trans1.Dial(trans3.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}

	if n := network.Partition(trans1.AdvertiseAddr(), trans2.AdvertiseAddr()); n != 2 {
		t.Fatalf("Partition should sever 2 links, not %d", n)
	}

	waitDone(c12, t)
	waitDone(c21, t)

	if c12.Err() != ErrConnectionLost || c21.Err() != ErrConnectionLost {
		t.Fatalf("partitioned links should be lost: %v %v", c12.Err(), c21.Err())
	}

	if c13.Err() != nil {
		t.Fatalf("unrelated link should be untouched: %v", c13.Err())
	}
}

func TestInmemTransport_Timeout(t *testing.T) {
	network := NewInmemNetwork(50 * time.Millisecond)

	trans1 := newTestTransport(network, t)
	defer trans1.Close()
	trans2 := newTestTransport(network, t)
	defer trans2.Close()

	// Nobody consumes trans1's requests
	conn, err := trans2.Dial(trans1.AdvertiseAddr())
	if err != nil {
		t.Fatal(err)
	}

	var out JoinResponse
	if err := conn.Join(&JoinRequest{}, &out); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	waitDone(conn, t)
	if conn.Err() != ErrConnectionLost {
		t.Fatalf("a timed out link is lost, got %v", conn.Err())
	}
}
