// Package peers defines the address of a Nebula node and the table in which a
// node records the peers it is currently linked to.
//
// A Nebula peer is identified externally by a NodeAddress, the host and port of
// its membership endpoint. Internally, a node keys every peer by the handle of
// the physical link it shares with it. There is exactly one handle per link, so
// two links to the same address are two distinct entries. A link is either
// Inbound (the remote peer joined us) or Outbound (we joined the remote peer).
//
// The PeerTable is safe for concurrent use. It never hands out references to
// its internal state; every read returns a point-in-time copy.
package peers
