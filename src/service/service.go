// Package service exposes the state of a Nebula node over HTTP.
package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/nebula/src/node"
	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry

	handler  http.Handler
	server   *http.Server
	shutdown bool
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// Peer is the JSON view of a peer table entry.
type Peer struct {
	Address   string    `json:"address"`
	Direction string    `json:"direction"`
	Since     time.Time `json:"since"`
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Nebula API handlers")

	metrics := s.node.Metrics()

	router := mux.NewRouter()
	router.Handle("/stats", metrics.Instrument("stats", http.HandlerFunc(s.GetStats))).Methods("GET")
	router.Handle("/peers", metrics.Instrument("peers", http.HandlerFunc(s.GetPeers))).Methods("GET")
	router.Handle("/peers/{address}", metrics.Instrument("disconnect", http.HandlerFunc(s.DeletePeer))).Methods("DELETE")
	router.Handle("/connect/{address}", metrics.Instrument("connect", http.HandlerFunc(s.PostConnect))).Methods("POST")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	s.handler = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE"}),
	)(router)
}

// Handler returns the root handler of the API.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Serve listens on the bind address and serves the API. This is a blocking
// call which returns when Shutdown is called.
func (s *Service) Serve() error {
	listener, err := net.Listen("tcp", s.bindAddress)
	if err != nil {
		s.logger.WithError(err).Error("Listening")
		return err
	}

	s.Lock()
	if s.shutdown {
		s.Unlock()
		listener.Close()
		return nil
	}
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.Unlock()

	s.logger.WithField("bind_address", listener.Addr().String()).Debug("Serving Nebula API")

	err = server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		s.logger.Error(err)
	}
	return err
}

// Shutdown stops the server started by Serve. Serve returns immediately when
// called after Shutdown.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Lock()
	s.shutdown = true
	server := s.server
	s.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetStats())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	entries := s.node.Peers()

	res := make([]Peer, len(entries))
	for i, e := range entries {
		res[i] = Peer{
			Address:   e.Addr.String(),
			Direction: e.Direction.String(),
			Since:     e.Since,
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// PostConnect joins the node at {address} and returns the snapshot it sent.
func (s *Service) PostConnect(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.parseAddress(w, r)
	if !ok {
		return
	}

	snapshot, err := s.node.ConnectAddr(addr)
	if err != nil {
		s.logger.WithError(err).WithField("address", addr.String()).Debug("Connect")

		status := http.StatusInternalServerError
		switch {
		case node.IsConnectionError(err):
			status = http.StatusBadGateway
		case node.IsRejectedJoin(err):
			status = http.StatusConflict
		case err == node.ErrNotRunning:
			status = http.StatusServiceUnavailable
		}

		http.Error(w, err.Error(), status)
		return
	}

	res := make([]string, len(snapshot))
	for i, a := range snapshot {
		res[i] = a.String()
	}

	writeJSON(w, http.StatusOK, res)
}

// DeletePeer closes every link to {address}.
func (s *Service) DeletePeer(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.parseAddress(w, r)
	if !ok {
		return
	}

	count := s.node.Disconnect(addr)
	if count == 0 {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"closed": count})
}

func (s *Service) parseAddress(w http.ResponseWriter, r *http.Request) (peers.NodeAddress, bool) {
	param := mux.Vars(r)["address"]

	addr, err := peers.ParseNodeAddress(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing address parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return peers.NodeAddress{}, false
	}

	return addr, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(v)
}
