package peers

import (
	"fmt"
	"net"
	"strconv"
)

// NodeAddress is the reachable network address of a node's membership
// endpoint. It is a comparable value type.
type NodeAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewNodeAddress ...
func NewNodeAddress(host string, port int) NodeAddress {
	return NodeAddress{Host: host, Port: port}
}

// ParseNodeAddress parses a "host:port" string.
func ParseNodeAddress(s string) (NodeAddress, error) {
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return NodeAddress{}, err
	}

	port, err := strconv.Atoi(p)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid port in address %q: %v", s, err)
	}
	if port < 0 || port > 65535 {
		return NodeAddress{}, fmt.Errorf("port out of range in address %q", s)
	}

	return NodeAddress{Host: host, Port: port}, nil
}

// String returns the address in "host:port" form.
func (a NodeAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a NodeAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}
