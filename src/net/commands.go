package net

import (
	"github.com/mosaicnetworks/nebula/src/peers"
)

// JoinRequest asks the remote node to register the sender as an inbound peer.
// From is the address the sender listens on. MaxPeers is the number of peer
// addresses the sender would like in return; 0 means none are needed.
type JoinRequest struct {
	From     peers.NodeAddress
	MaxPeers int
}

// JoinResponse contains the response to a JoinRequest. When Accepted is true,
// Peers holds the addresses of the responder's outbound peers.
type JoinResponse struct {
	From     peers.NodeAddress
	Accepted bool
	Peers    []peers.NodeAddress
}

// PingRequest is the keepalive probe. The transport answers it without going
// through the Consumer channel.
type PingRequest struct{}

// PingResponse ...
type PingResponse struct{}
