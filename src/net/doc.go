// Package net implements the duplex transports over which Nebula nodes link to
// each other.
//
// A Transport listens at an address, delivers incoming RPC requests through
// its Consumer channel, and dials persistent links to other transports. Every
// link is represented on each end by a Conn handle. A Conn stays open until one
// side closes it or the link fails; in both cases its Done channel is closed.
// Err distinguishes the two: it returns nil after a local Close and
// ErrConnectionLost after a fault, which includes the remote side going away.
//
// There are two implementations:
//
// - Inmem: in-memory transport used for testing. An InmemNetwork connects the
// transports created from it, and can simulate link faults with Sever and
// Partition.
//
// - TCP: one TCP connection per link. Requests are framed as an RPC type
// followed by the encoded request; responses as an error string followed by
// the encoded response. Bodies are encoded with msgpack by default, or CBOR.
// The dialing side pings the link periodically, with jitter, and the accepting
// side treats a link that stays silent for three keepalive periods as lost.
//
// To use a TCP transport, set the following configuration options in the
// Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that Nebula binds to.
//
// - AdvertiseHost: (optional) The host that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is usefull to
// set AdvertiseHost to the reachable public host.
package net
