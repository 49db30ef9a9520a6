package directory

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

const (
	// RegisterProcedure records the address passed as first argument.
	RegisterProcedure = "nebula.directory.register"

	// NodesProcedure returns every registered address, one per argument.
	NodesProcedure = "nebula.directory.nodes"

	// ErrInvalidArgument is the WAMP error of malformed invocations.
	ErrInvalidArgument = wamp.URI("nebula.error.invalid_argument")
)

// Server implements a WAMP directory. It runs a router, reachable over
// websockets, within which it registers the directory procedures.
type Server struct {
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	callee     *client.Client
	logger     *logrus.Entry

	// registration order, the last Register of an address wins
	nodes     map[peers.NodeAddress]uint64
	nodesSeq  uint64
	nodesLock sync.RWMutex
}

// NewServer instantiates a new Server which can be started at a specified
// address.
func NewServer(address string, realm string, logger *logrus.Entry) (*Server, error) {
	// Create router instance.
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		address: address,
		realm:   realm,
		router:  nxr,
		httpServer: &http.Server{
			Handler: router.NewWebsocketServer(nxr),
		},
		logger: logger,
		nodes:  make(map[peers.NodeAddress]uint64),
	}

	// The procedures are served by an in-process client of the router
	callee, err := client.ConnectLocal(nxr, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		nxr.Close()
		return nil, err
	}

	if err := callee.Register(RegisterProcedure, s.handleRegister, nil); err != nil {
		callee.Close()
		nxr.Close()
		return nil, err
	}

	if err := callee.Register(NodesProcedure, s.handleNodes, nil); err != nil {
		callee.Close()
		nxr.Close()
		return nil, err
	}

	s.callee = callee

	return s, nil
}

// Start binds the server's address and serves websocket connections in the
// background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.address = l.Addr().String()

	go func() {
		err := s.httpServer.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Serve")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"realm":   s.realm,
	}).Debug("Serving directory")

	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	s.callee.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server. After Start, it is the address
// actually bound.
func (s *Server) Addr() string {
	return s.address
}

// Router returns the underlying WAMP router, to which in-process clients can
// connect.
func (s *Server) Router() router.Router {
	return s.router
}

// Nodes returns the registered addresses in registration order.
func (s *Server) Nodes() []peers.NodeAddress {
	s.nodesLock.RLock()
	type reg struct {
		addr peers.NodeAddress
		seq  uint64
	}
	regs := make([]reg, 0, len(s.nodes))
	for a, at := range s.nodes {
		regs = append(regs, reg{a, at})
	}
	s.nodesLock.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	res := make([]peers.NodeAddress, len(regs))
	for i, r := range regs {
		res[i] = r.addr
	}
	return res
}

func (s *Server) handleRegister(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 1 {
		return errResult("Invocation should contain 1 argument")
	}

	raw, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult("Error reading invocation first argument")
	}

	addr, err := peers.ParseNodeAddress(raw)
	if err != nil {
		return errResult(err.Error())
	}

	s.nodesLock.Lock()
	s.nodesSeq++
	s.nodes[addr] = s.nodesSeq
	s.nodesLock.Unlock()

	s.logger.WithField("node", addr.String()).Info("Registered node")

	return client.InvokeResult{}
}

func (s *Server) handleNodes(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	nodes := s.Nodes()

	args := make(wamp.List, len(nodes))
	for i, n := range nodes {
		args[i] = n.String()
	}

	return client.InvokeResult{Args: args}
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrInvalidArgument,
		Args: wamp.List{msg},
	}
}
