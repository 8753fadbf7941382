// Package serverset keeps one running monitor per known server and
// offers the latency view server selection works from.
package serverset

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"go.ntppool.org/srvmon/client/config"
	"go.ntppool.org/srvmon/client/connection"
	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/monitor"
)

// DefaultLocalThreshold is the latency window used by Eligible callers
// that don't have their own.
const DefaultLocalThreshold = 15 * time.Millisecond

// Dialer returns a new (not yet connected) connection for addr.
type Dialer func(addr description.Address) (connection.Connection, error)

// Set is a collection of monitors keyed by server address.
type Set struct {
	opts      config.Options
	dial      Dialer
	inspector monitor.Notifier
	log       *slog.Logger
	extra     []monitor.Option

	onRemove func(description.Address)

	mu       sync.RWMutex
	monitors map[description.Address]*monitor.Monitor
	closed   bool
}

// Option configures a Set.
type Option func(*Set)

// WithMonitorOptions adds options passed to every new monitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(s *Set) {
		s.extra = append(s.extra, opts...)
	}
}

// OnRemove registers a function called after a server's monitor is
// stopped and removed. It's never called concurrently with itself.
func OnRemove(fn func(description.Address)) Option {
	return func(s *Set) {
		s.onRemove = fn
	}
}

func New(log *slog.Logger, opts config.Options, dial Dialer, inspector monitor.Notifier, options ...Option) *Set {
	s := &Set{
		opts:      opts,
		dial:      dial,
		inspector: inspector,
		log:       log,
		monitors:  map[description.Address]*monitor.Monitor{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// ErrClosed is returned when adding servers to a closed Set.
var ErrClosed = errors.New("server set closed")

// Add starts monitoring addr. If it's already monitored the existing
// monitor is returned. The monitor runs until it's removed or the set is
// closed; canceling ctx doesn't stop it.
func (s *Set) Add(ctx context.Context, addr description.Address, fields map[string]string) (*monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if m, ok := s.monitors[addr]; ok {
		return m, nil
	}

	conn, err := s.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", addr, err)
	}

	options := append([]monitor.Option{
		monitor.WithLogger(s.log),
		monitor.WithFields(fields),
	}, s.extra...)

	m, err := monitor.New(conn, s.inspector, s.opts, options...)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", addr, err)
	}

	if err := m.Start(context.WithoutCancel(ctx)); err != nil {
		m.Stop()
		return nil, fmt.Errorf("%s: %w", addr, err)
	}

	s.monitors[addr] = m
	s.log.InfoContext(ctx, "monitoring server", "address", addr.String())
	return m, nil
}

// Remove stops monitoring addr. Unknown addresses are ignored.
func (s *Set) Remove(addr description.Address) error {
	s.mu.Lock()
	m, ok := s.monitors[addr]
	delete(s.monitors, addr)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	err := m.Stop()
	if s.onRemove != nil {
		s.onRemove(addr)
	}
	s.log.Info("stopped monitoring server", "address", addr.String())
	return err
}

// Sync makes the set monitor exactly the given servers.
func (s *Set) Sync(ctx context.Context, servers []config.Server) error {
	want := map[description.Address]bool{}
	var errs []error

	for _, srv := range servers {
		want[srv.Address] = true
		if _, err := s.Add(ctx, srv.Address, srv.Fields); err != nil {
			errs = append(errs, err)
		}
	}

	for _, addr := range s.Addresses() {
		if !want[addr] {
			if err := s.Remove(addr); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Get returns the monitor for addr.
func (s *Set) Get(addr description.Address) (*monitor.Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[addr]
	return m, ok
}

// Addresses returns the monitored addresses, sorted.
func (s *Set) Addresses() []description.Address {
	s.mu.RLock()
	addrs := make([]description.Address, 0, len(s.monitors))
	for addr := range s.monitors {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()

	slices.Sort(addrs)
	return addrs
}

// Len returns the number of monitored servers.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.monitors)
}

// Descriptions returns the current description of every server, sorted
// by address.
func (s *Set) Descriptions() []description.Description {
	s.mu.RLock()
	descs := make([]description.Description, 0, len(s.monitors))
	for _, m := range s.monitors {
		descs = append(descs, m.Description())
	}
	s.mu.RUnlock()

	slices.SortFunc(descs, func(a, b description.Description) int {
		return cmp.Compare(a.Address(), b.Address())
	})
	return descs
}

// Eligible returns the reachable servers whose average round-trip time
// is within threshold of the fastest one, fastest first.
func (s *Set) Eligible(threshold time.Duration) []description.Description {
	return Eligible(s.Descriptions(), threshold)
}

// Eligible filters descs the same way Set.Eligible does.
func Eligible(descs []description.Description, threshold time.Duration) []description.Description {
	var candidates []description.Description
	for _, d := range descs {
		if _, ok := d.AverageRTT(); ok && d.Reachable() {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	slices.SortStableFunc(candidates, func(a, b description.Description) int {
		x, _ := a.AverageRTT()
		y, _ := b.AverageRTT()
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
		return cmp.Compare(a.Address(), b.Address())
	})

	fastest, _ := candidates[0].AverageRTT()
	limit := fastest + float64(threshold)/float64(time.Millisecond)

	for i, d := range candidates {
		if avg, _ := d.AverageRTT(); avg > limit {
			return candidates[:i]
		}
	}
	return candidates
}

// RequestScan asks every monitor to scan ahead of schedule, for example
// when no server is eligible.
func (s *Set) RequestScan() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.monitors {
		m.RequestScan()
	}
}

// Close stops all monitors concurrently, then calls the OnRemove
// function for each server in address order. The set can't be used
// afterwards.
func (s *Set) Close() error {
	s.mu.Lock()
	s.closed = true
	monitors := s.monitors
	s.monitors = map[description.Address]*monitor.Monitor{}
	s.mu.Unlock()

	g := errgroup.Group{}
	for addr, m := range monitors {
		g.Go(func() error {
			if err := m.Stop(); err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if s.onRemove != nil {
		addrs := make([]description.Address, 0, len(monitors))
		for addr := range monitors {
			addrs = append(addrs, addr)
		}
		slices.Sort(addrs)
		for _, addr := range addrs {
			s.onRemove(addr)
		}
	}

	return err
}
