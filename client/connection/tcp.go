package connection

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go.ntppool.org/srvmon/client/description"
)

// ErrEchoMismatch is returned when the server replies with something
// other than what was sent.
var ErrEchoMismatch = errors.New("echo reply does not match request")

const dialMaxTries = 3

// TCP pings an echo service: it sends a random 8 byte token and waits
// for the same 8 bytes to come back.
type TCP struct {
	addr description.Address
	cfg  Config

	mu   sync.Mutex
	conn net.Conn
}

func NewTCP(addr description.Address, cfg Config) *TCP {
	return &TCP{addr: addr, cfg: cfg}
}

func (c *TCP) Address() description.Address {
	return c.addr
}

// Connect opens the socket if it isn't open already.
func (c *TCP) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connect(ctx)
	return err
}

func (c *TCP) connect(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	network := "tcp"
	switch c.cfg.IPVersion {
	case "4":
		network = "tcp4"
	case "6":
		network = "tcp6"
	}

	dialer := &net.Dialer{}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 50 * time.Millisecond
	boff.MaxInterval = time.Second

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, c.addr.String())
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(boff),
		backoff.WithMaxTries(dialMaxTries),
	)
	if err != nil {
		return nil, &ProbeError{Address: c.addr, Op: "dial", Err: err}
	}

	c.conn = conn
	return conn, nil
}

func (c *TCP) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	err = c.ping(ctx, conn)
	if err != nil {
		// the stream is in an unknown state; start over on the next ping
		c.closeLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ProbeError{Address: c.addr, Op: "ping", Err: err}
	}
	return nil
}

func (c *TCP) ping(ctx context.Context, conn net.Conn) error {
	var deadline time.Time
	if c.cfg.SocketTimeout > 0 {
		deadline = time.Now().Add(c.cfg.SocketTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := make([]byte, 8)
	binary.BigEndian.PutUint64(req, rand.Uint64())

	if _, err := conn.Write(req); err != nil {
		return err
	}

	resp := make([]byte, len(req))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}

	if !bytes.Equal(req, resp) {
		return ErrEchoMismatch
	}
	return nil
}

func (c *TCP) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *TCP) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
