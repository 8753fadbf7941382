// Package connection has the dedicated monitoring connections a
// monitor pings its server through.
package connection

import (
	"context"
	"fmt"
	"time"

	"go.ntppool.org/srvmon/client/description"
)

// Connection is a dedicated connection to one server. It's only used by
// the monitor that owns it, so implementations don't need to support
// concurrent pings.
type Connection interface {
	Address() description.Address

	// Ping does one round trip to the server. It returns when the reply
	// arrives, the ping fails, or ctx is done.
	Ping(ctx context.Context) error

	// Close closes the underlying socket. The connection can still be
	// used afterwards; the next ping reopens it.
	Close() error
}

// Connector is implemented by connections that have a separate
// connection setup step, so it isn't counted in the round-trip time.
type Connector interface {
	Connect(ctx context.Context) error
}

// ProbeError is returned when a ping fails.
type ProbeError struct {
	Address description.Address
	Op      string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Address, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Kind selects the connection implementation.
type Kind string

const (
	KindTCP Kind = "tcp"
	KindNTP Kind = "ntp"
)

// Config has the settings shared by all connections.
type Config struct {
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration

	// IPVersion limits name resolution to "4" or "6"; empty for either.
	IPVersion string

	// LocalAddress is the source address for NTP queries.
	LocalAddress string
}

// New returns a connection of the given kind to addr.
func New(kind Kind, addr description.Address, cfg Config) (Connection, error) {
	switch kind {
	case KindTCP, "":
		return NewTCP(addr, cfg), nil
	case KindNTP:
		return NewNTP(addr, cfg), nil
	default:
		return nil, fmt.Errorf("unknown connection type %q", kind)
	}
}
