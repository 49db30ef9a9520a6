package nebula

import (
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/nebula/src/common"
	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/directory"
	"github.com/mosaicnetworks/nebula/src/net"
	"github.com/mosaicnetworks/nebula/src/peers"
)

func newTestEngine(t *testing.T, setup func(*Nebula)) *Nebula {
	engine := NewNebula(config.NewTestConfig(t, common.TestLogLevel))
	if setup != nil {
		setup(engine)
	}

	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	if err := engine.Run(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Shutdown)

	return engine
}

func TestBootstrapFromConfig(t *testing.T) {
	first := newTestEngine(t, nil)

	second := newTestEngine(t, func(e *Nebula) {
		e.Config.Bootstrap = first.Node.LocalAddr().String()
	})

	want := []peers.NodeAddress{first.Node.LocalAddr()}
	if got := second.Node.OutboundNodes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("second node should be linked to %v, got %v", want, got)
	}

	want = []peers.NodeAddress{second.Node.LocalAddr()}
	if got := first.Node.InboundNodes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("first node should have been joined by %v, got %v", want, got)
	}
}

func TestBootstrapCBOR(t *testing.T) {
	first := newTestEngine(t, func(e *Nebula) {
		e.Config.Codec = net.CBORCodec
	})

	second := newTestEngine(t, func(e *Nebula) {
		e.Config.Codec = net.CBORCodec
		e.Config.Bootstrap = first.Node.LocalAddr().String()
	})

	if n := len(second.Node.EnumerateNodes()); n != 1 {
		t.Fatalf("second node should have one peer, got %d", n)
	}
}

func TestBootstrapFromDirectory(t *testing.T) {
	const realm = "nebula-test"

	server, err := directory.NewServer("127.0.0.1:0", realm, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Shutdown()

	network := net.NewInmemNetwork(0)

	withDirectory := func(e *Nebula) {
		e.Network = network
		e.Directory = directory.NewLocalWAMPClient(server.Router(), realm, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	}

	nodes := make([]*Nebula, 3)
	for i := range nodes {
		nodes[i] = newTestEngine(t, withDirectory)
	}

	// Every node announced itself
	if got := len(server.Nodes()); got != 3 {
		t.Fatalf("directory should know 3 nodes, got %d", got)
	}

	// The first node found nobody, the others joined their predecessor
	if n := len(nodes[0].Node.OutboundNodes()); n != 0 {
		t.Fatalf("first node should have no outbound peer, got %d", n)
	}
	for i := 1; i < len(nodes); i++ {
		want := nodes[i-1].Node.LocalAddr()
		got := nodes[i].Node.OutboundNodes()
		if len(got) == 0 || got[0] != want {
			t.Fatalf("node %d should have joined %v first, got %v", i, want, got)
		}
	}

	// The third node flood-connected to the first through the second
	if got := nodes[2].Node.OutboundNodes(); len(got) != 2 {
		t.Fatalf("third node should have two outbound peers, got %v", got)
	}
}

func TestBadBootstrap(t *testing.T) {
	engine := newTestEngine(t, func(e *Nebula) {
		e.Network = net.NewInmemNetwork(0)
		e.Config.Bootstrap = "nowhere"
	})

	// A failed bootstrap leaves the node running and alone
	if n := len(engine.Node.EnumerateNodes()); n != 0 {
		t.Fatalf("node should have no peer, got %d", n)
	}

	if _, err := engine.Bootstrap(); err == nil {
		t.Fatal("Bootstrap with an invalid address should fail")
	}
}

func TestInitUnknownCodec(t *testing.T) {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.Codec = "gob"

	if err := NewNebula(conf).Init(); err == nil {
		t.Fatal("Init should refuse unknown codecs")
	}
}
