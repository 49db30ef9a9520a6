package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

// WAMPClient implements the Client and Lister interfaces against a directory
// Server.
type WAMPClient struct {
	routerURL string
	config    client.Config
	logger    *logrus.Entry

	// connect opens a new session. It defaults to dialing routerURL.
	connect func() (*client.Client, error)

	sync.Mutex
	client *client.Client
}

// NewWAMPClient instantiates a new WAMPClient. The connection to the directory
// server is opened lazily, by the first call that needs it.
func NewWAMPClient(server string, realm string, responseTimeout time.Duration, logger *logrus.Entry) *WAMPClient {
	c := &WAMPClient{
		routerURL: fmt.Sprintf("ws://%s", server),
		config: client.Config{
			Realm:           realm,
			ResponseTimeout: responseTimeout,
			Logger:          logger,
		},
		logger: logger,
	}

	c.connect = func() (*client.Client, error) {
		return client.ConnectNet(context.Background(), c.routerURL, c.config)
	}

	return c
}

// NewLocalWAMPClient creates a WAMPClient that joins an in-process router
// instead of dialing a websocket.
func NewLocalWAMPClient(r router.Router, realm string, responseTimeout time.Duration, logger *logrus.Entry) *WAMPClient {
	c := NewWAMPClient("local", realm, responseTimeout, logger)

	c.connect = func() (*client.Client, error) {
		return client.ConnectLocal(r, c.config)
	}

	return c
}

// Connect opens a session with the directory. If a session already exists and
// is still connected, it does nothing.
func (c *WAMPClient) Connect() error {
	_, err := c.session()
	return err
}

func (c *WAMPClient) session() (*client.Client, error) {
	c.Lock()
	defer c.Unlock()

	if c.client != nil && c.client.Connected() {
		return c.client, nil
	}

	cli, err := c.connect()
	if err != nil {
		return nil, err
	}

	c.client = cli

	return cli, nil
}

// Register implements the Client interface.
func (c *WAMPClient) Register(self peers.NodeAddress) error {
	_, err := c.call(RegisterProcedure, wamp.List{self.String()})
	if err != nil {
		return err
	}

	c.logger.WithField("self", self.String()).Debug("Registered with directory")

	return nil
}

// Nodes implements the Lister interface.
func (c *WAMPClient) Nodes() ([]peers.NodeAddress, error) {
	result, err := c.call(NodesProcedure, nil)
	if err != nil {
		return nil, err
	}

	res := make([]peers.NodeAddress, 0, len(result.Arguments))
	for _, arg := range result.Arguments {
		raw, ok := wamp.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("unexpected directory entry %v", arg)
		}

		addr, err := peers.ParseNodeAddress(raw)
		if err != nil {
			return nil, err
		}

		res = append(res, addr)
	}

	return res, nil
}

func (c *WAMPClient) call(procedure string, args wamp.List) (*wamp.Result, error) {
	cli, err := c.session()
	if err != nil {
		return nil, err
	}

	// Create a context to cancel the call after timeout.
	ctx, cancel := context.WithTimeout(
		context.Background(),
		c.config.ResponseTimeout,
	)
	defer cancel()

	return cli.Call(ctx, procedure, nil, args, nil, nil)
}

// Close implements the Client interface.
func (c *WAMPClient) Close() error {
	c.Lock()
	defer c.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil

	return err
}
