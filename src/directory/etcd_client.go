package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdPrefix is the key prefix under which nodes register.
const EtcdPrefix = "/nebula/nodes/"

// EtcdClient registers nodes in etcd. A registration is attached to a lease
// that is kept alive until Close, so nodes that die disappear after the TTL.
type EtcdClient struct {
	cli     *clientv3.Client
	ttl     int64
	timeout time.Duration
	logger  *logrus.Entry

	sync.Mutex
	lease     clientv3.LeaseID
	keepAlive context.CancelFunc
}

// NewEtcdClient creates a client for the given endpoints. etcd's own logs go
// to a zap logger that only reports errors.
func NewEtcdClient(endpoints []string, timeout time.Duration, ttl int64, logger *logrus.Entry) (*EtcdClient, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Logger:      zl,
	})
	if err != nil {
		return nil, err
	}

	return &EtcdClient{
		cli:     cli,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// EtcdKey returns the key under which addr is registered.
func EtcdKey(addr peers.NodeAddress) string {
	return EtcdPrefix + addr.String()
}

// Register implements the Client interface.
func (c *EtcdClient) Register(self peers.NodeAddress) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	lease, err := c.cli.Grant(ctx, c.ttl)
	if err != nil {
		return err
	}

	if _, err := c.cli.Put(ctx, EtcdKey(self), self.String(), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	ch, err := c.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return err
	}

	// The channel must be drained for the lease to be renewed
	go func() {
		for range ch {
		}
		c.logger.WithField("lease", lease.ID).Debug("etcd keepalive ended")
	}()

	c.Lock()
	if c.keepAlive != nil {
		c.keepAlive()
	}
	c.lease = lease.ID
	c.keepAlive = kaCancel
	c.Unlock()

	c.logger.WithFields(logrus.Fields{
		"key":   EtcdKey(self),
		"lease": lease.ID,
	}).Debug("Registered with etcd")

	return nil
}

// Nodes implements the Lister interface.
func (c *EtcdClient) Nodes() ([]peers.NodeAddress, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.cli.Get(ctx, EtcdPrefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	res := make([]peers.NodeAddress, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addr, err := peers.ParseNodeAddress(strings.TrimPrefix(string(kv.Key), EtcdPrefix))
		if err != nil {
			c.logger.WithField("key", string(kv.Key)).Warn("Skipping malformed etcd entry")
			continue
		}
		res = append(res, addr)
	}

	return res, nil
}

// Close implements the Client interface. The lease is revoked so the
// registration disappears immediately.
func (c *EtcdClient) Close() error {
	c.Lock()
	lease, keepAlive := c.lease, c.keepAlive
	c.keepAlive = nil
	c.Unlock()

	if keepAlive != nil {
		keepAlive()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if _, err := c.cli.Revoke(ctx, lease); err != nil {
			c.logger.WithError(err).Debug("Revoking etcd lease")
		}
		cancel()
	}

	return c.cli.Close()
}
