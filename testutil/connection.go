package testutil

import (
	"context"
	"sync"
	"time"

	"go.ntppool.org/srvmon/client/description"
)

// Ping is one scripted ping result.
type Ping struct {
	// Elapsed is added to the clock while the ping is "in flight".
	Elapsed time.Duration
	Err     error

	// Block makes the ping wait for its context to be done.
	Block bool
}

// FakeConnection replays scripted pings. When the script runs out the
// last entry is repeated; with an empty script every ping succeeds
// instantly.
type FakeConnection struct {
	addr  description.Address
	clock *ManualClock

	mu       sync.Mutex
	script   []Ping
	pings    int
	closes   int
	inFlight chan struct{}
}

func NewFakeConnection(addr description.Address, clock *ManualClock, script ...Ping) *FakeConnection {
	return &FakeConnection{
		addr:     addr,
		clock:    clock,
		script:   script,
		inFlight: make(chan struct{}, 1),
	}
}

func (c *FakeConnection) Address() description.Address {
	return c.addr
}

func (c *FakeConnection) Ping(ctx context.Context) error {
	c.mu.Lock()
	p := Ping{}
	if len(c.script) > 0 {
		p = c.script[0]
		if len(c.script) > 1 {
			c.script = c.script[1:]
		}
	}
	c.pings++
	c.mu.Unlock()

	if p.Block {
		select {
		case c.inFlight <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	if c.clock != nil {
		c.clock.Advance(p.Elapsed)
	}
	return p.Err
}

// InFlight is signaled when a blocking ping starts.
func (c *FakeConnection) InFlight() <-chan struct{} {
	return c.inFlight
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Pings returns how many pings have been attempted.
func (c *FakeConnection) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Closes returns how many times Close was called.
func (c *FakeConnection) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
