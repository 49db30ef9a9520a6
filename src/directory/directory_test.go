package directory

import (
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/nebula/src/common"
	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

const testRealm = "nebula-test"

func newTestServer(t *testing.T) *Server {
	server, err := NewServer("127.0.0.1:0", testRealm, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	return server
}

func TestWAMPDirectory(t *testing.T) {
	server := newTestServer(t)
	defer server.Shutdown()

	a := peers.NewNodeAddress("127.0.0.1", 6001)
	b := peers.NewNodeAddress("127.0.0.1", 6002)

	client := NewWAMPClient(server.Addr(), testRealm, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	defer client.Close()

	if err := client.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := client.Register(b); err != nil {
		t.Fatal(err)
	}

	if got := server.Nodes(); !reflect.DeepEqual(got, []peers.NodeAddress{a, b}) {
		t.Fatalf("server should know %v and %v, got %v", a, b, got)
	}

	// A restarted node registers again and becomes the most recent
	if err := client.Register(a); err != nil {
		t.Fatal(err)
	}

	if got := server.Nodes(); !reflect.DeepEqual(got, []peers.NodeAddress{b, a}) {
		t.Fatalf("server should list %v then %v, got %v", b, a, got)
	}

	nodes, err := client.Nodes()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(nodes, []peers.NodeAddress{b, a}) {
		t.Fatalf("client should list %v then %v, got %v", b, a, nodes)
	}
}

func TestWAMPLocalClient(t *testing.T) {
	server, err := NewServer("127.0.0.1:0", testRealm, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Shutdown()

	client := NewLocalWAMPClient(server.Router(), testRealm, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	defer client.Close()

	self := peers.NewNodeAddress("10.0.0.1", 1337)
	if err := client.Register(self); err != nil {
		t.Fatal(err)
	}

	if got := server.Nodes(); len(got) != 1 || got[0] != self {
		t.Fatalf("server should know %v, got %v", self, got)
	}
}

func TestWAMPUnreachable(t *testing.T) {
	server := newTestServer(t)
	addr := server.Addr()
	server.Shutdown()

	client := NewWAMPClient(addr, testRealm, 200*time.Millisecond, common.NewTestEntry(t, common.TestLogLevel))
	defer client.Close()

	if err := client.Register(peers.NewNodeAddress("10.0.0.1", 1)); err == nil {
		t.Fatal("Register should fail when the directory is down")
	}
}

func TestNewClient(t *testing.T) {
	conf := config.NewTestConfig(t, logrus.InfoLevel)

	c, err := NewClient(conf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(NoopClient); !ok {
		t.Fatalf("default directory should be the noop client, got %T", c)
	}
	if err := c.Register(peers.NewNodeAddress("a", 1)); err != nil {
		t.Fatal(err)
	}

	conf.Directory = config.DirectoryWAMP
	c, err = NewClient(conf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*WAMPClient); !ok {
		t.Fatalf("expected a WAMP client, got %T", c)
	}
	c.Close()

	conf.Directory = "zookeeper"
	if _, err := NewClient(conf); err == nil {
		t.Fatal("unknown directories should be refused")
	}
}

func TestEtcdKey(t *testing.T) {
	if k := EtcdKey(peers.NewNodeAddress("10.0.0.1", 1337)); k != "/nebula/nodes/10.0.0.1:1337" {
		t.Fatalf("unexpected key %s", k)
	}
}
