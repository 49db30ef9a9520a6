// Package node implements the membership layer of a Nebula node.
//
// A Node tracks the peers it is linked to in a PeerTable, and maintains it
// through two mechanisms: the join protocol, which adds peers, and the fault
// detector, which removes them.
//
// Join Protocol
//
// A node enters the overlay by calling Connect with the address of any running
// node, the bootstrap node. It opens a link to it, registers it as an outbound
// peer, and sends a JoinRequest carrying its own address and the number of
// peer addresses it would like in return. The bootstrap node registers the
// link as an inbound peer and answers with the addresses of its own outbound
// peers. The joiner then flood-connects: it links to every returned address
// and sends each of them a JoinRequest that asks for no addresses. The flood
// expands connectivity by exactly one hop. Calling Connect again with other
// bootstrap nodes is the way to learn more of the overlay.
//
// Fault Detection
//
// Every registered link is watched from the moment it is registered, in both
// directions. When the transport reports the link as lost, its entry is
// removed and a NodeFaulted event is published. Links closed on purpose, by
// Stop or Disconnect, are removed without an event. Removal happens at most
// once per link, whichever of the two paths gets there first.
//
// Events
//
// NodeConnected and NodeFaulted are delivered synchronously, in subscription
// order, on the goroutine that observed the transition. Subscribers must not
// block.
package node
