// Package monitor runs the periodic health check of a single server and
// keeps its smoothed round-trip time.
//
// A Monitor owns one connection to its server. Each scan pings the server,
// feeds the elapsed time into the moving average and publishes a new
// description.Description. Failed pings never stop the monitor; they mark
// the server unreachable, keep the previous average, and the next scan
// tries again on the regular schedule.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"

	"go.ntppool.org/srvmon/client/config"
	"go.ntppool.org/srvmon/client/connection"
	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/metrics"
	"go.ntppool.org/srvmon/client/rtt"
)

// ErrStopped is returned by Start after the monitor has been stopped.
var ErrStopped = errors.New("monitor stopped")

// Clock is the time source used to measure round trips.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Notifier is told about each new description (see inspector.Inspector).
type Notifier interface {
	Notify(ctx context.Context, previous, current description.Description)
}

// Option configures a Monitor.
type Option func(*Monitor) error

// WithClock replaces the clock used to time pings.
func WithClock(c Clock) Option {
	return func(m *Monitor) error {
		m.clock = c
		return nil
	}
}

// WithLogger sets the logger; the default is the common root logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) error {
		m.log = log
		return nil
	}
}

// WithAverageRTT starts the monitor with an already known average
// round-trip time in milliseconds.
func WithAverageRTT(ms float64) Option {
	return func(m *Monitor) error {
		if ms < 0 {
			return &rtt.InvalidMeasurementError{Sample: ms}
		}
		m.initialRTT = &ms
		return nil
	}
}

// WithFields sets the passthrough fields carried in every description.
func WithFields(fields map[string]string) Option {
	return func(m *Monitor) error {
		m.fields = fields
		return nil
	}
}

// Monitor scans one server.
type Monitor struct {
	id        ulid.ULID
	address   description.Address
	conn      connection.Connection
	inspector Notifier
	opts      config.Options
	clock     Clock
	log       *slog.Logger

	initialRTT *float64
	fields     map[string]string

	// mu guards desc; scanMu makes scans (the only writers) sequential.
	mu     sync.RWMutex
	desc   description.Description
	scanMu sync.Mutex

	lastScan time.Time // guarded by scanMu

	state atomic.Int32

	lifecycleMu sync.Mutex
	started     bool
	done        chan struct{}
	lifetime    context.Context
	kill        context.CancelFunc

	wake chan struct{}
}

// New returns a monitor for the connection's server. The monitor takes
// ownership of conn and closes it when stopped.
func New(conn connection.Connection, inspector Notifier, opts config.Options, options ...Option) (*Monitor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("monitor options: %w", err)
	}
	if conn == nil {
		return nil, errors.New("monitor requires a connection")
	}

	m := &Monitor{
		id:        ulid.Make(),
		address:   conn.Address(),
		conn:      conn,
		inspector: inspector,
		opts:      opts,
		clock:     systemClock{},
		wake:      make(chan struct{}, 1),
	}

	for _, opt := range options {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.log == nil {
		m.log = logger.Setup()
	}
	m.log = m.log.With("address", m.address.String(), "monitor_id", m.id.String())

	if m.initialRTT != nil {
		m.desc = description.NewWithAverage(m.address, m.fields, *m.initialRTT)
	} else {
		m.desc = description.New(m.address, m.fields)
	}

	m.lifetime, m.kill = context.WithCancel(context.Background())

	if err := metrics.InitInstruments(); err != nil {
		m.log.Warn("monitor metrics unavailable", "err", err)
	}

	return m, nil
}

// Address returns the monitored server's address.
func (m *Monitor) Address() description.Address {
	return m.address
}

// ID is a unique id for this monitor instance.
func (m *Monitor) ID() ulid.ULID {
	return m.id
}

// Description returns the most recently published description.
func (m *Monitor) Description() description.Description {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.desc
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Start launches the scan loop. The first scan happens right away.
// Calling Start on a running monitor does nothing; after Stop it returns
// ErrStopped. Canceling ctx ends the loop, but only Stop closes the
// connection; a loop ended that way is started again by the next Start.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.State() == Stopped {
		return ErrStopped
	}
	if m.running() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.lifetime, cancel)

	m.started = true
	done := make(chan struct{})
	m.done = done

	go func() {
		defer stop()
		m.run(ctx, cancel, done)
	}()

	m.log.DebugContext(ctx, "monitor started", "interval", m.opts.ScanInterval)
	return nil
}

// Stop ends the scan loop, aborting a sleep or ping in progress, and
// closes the connection. No description is published after Stop
// returns. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.State() == Stopped {
		return nil
	}
	m.state.Store(int32(Stopped))
	m.kill()

	if m.started {
		<-m.done
	}

	// wait for a scan started through Scan()
	m.scanMu.Lock()
	m.scanMu.Unlock()

	err := m.conn.Close()
	if err != nil {
		m.log.Warn("closing connection", "err", err)
	}

	m.log.Debug("monitor stopped")
	return err
}

// RequestScan asks the scan loop to scan ahead of schedule. Requests are
// throttled to one per MinScanInterval.
func (m *Monitor) RequestScan() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Scan runs one scan right away and returns the resulting description.
// On a stopped monitor it returns the last description without pinging.
func (m *Monitor) Scan(ctx context.Context) description.Description {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.lifetime, cancel)
	defer stop()

	return m.scan(ctx)
}

// running reports if the scan loop goroutine is alive. Callers hold
// lifecycleMu.
func (m *Monitor) running() bool {
	if !m.started {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Monitor) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	if metrics.MonitorsActive != nil {
		metrics.MonitorsActive.Add(ctx, 1)
		defer metrics.MonitorsActive.Add(context.Background(), -1)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:

		case <-m.wake:
			timer.Stop()
			if wait := m.untilMinInterval(); wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
		}

		start := time.Now()
		m.scan(ctx)

		wait := max(m.opts.ScanInterval-time.Since(start), 0)
		timer.Reset(wait)
	}
}

func (m *Monitor) untilMinInterval() time.Duration {
	m.scanMu.Lock()
	last := m.lastScan
	m.scanMu.Unlock()
	if last.IsZero() {
		return 0
	}
	return time.Until(last.Add(m.opts.MinScanInterval))
}

func (m *Monitor) scan(ctx context.Context) description.Description {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	if !m.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		return m.Description()
	}
	defer m.state.CompareAndSwap(int32(Scanning), int32(Idle))

	m.lastScan = time.Now()

	ctx, span := tracing.Start(ctx, "monitor.scan",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.address", m.address.String())),
	)
	defer span.End()

	elapsed, err := m.ping(ctx)

	// stopped or canceled while the ping was in flight; the result
	// doesn't say anything about the server.
	if m.State() == Stopped || (err != nil && ctx.Err() != nil) {
		return m.Description()
	}

	previous := m.Description()
	var current description.Description

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")

		if cerr := m.conn.Close(); cerr != nil {
			m.log.DebugContext(ctx, "closing connection after failure", "err", cerr)
		}

		current = previous.WithFailure(err, m.clock.Now())

		m.log.InfoContext(ctx, "ping failed", "err", err, "failures", current.ConsecutiveFailures())
		m.count(ctx, "error")
		if metrics.ProbeFailures != nil {
			metrics.ProbeFailures.Add(ctx, 1)
		}
	} else {
		sample := rtt.Milliseconds(elapsed)

		avg, err := rtt.Average(previous.AverageRTTPtr(), sample, m.opts.RTTWeightFactor)
		if err != nil {
			// a negative round trip means the clock is broken
			panic(fmt.Errorf("monitor %s: %w", m.address, err))
		}

		current = previous.WithSample(avg, m.clock.Now())

		span.SetAttributes(
			attribute.Float64("rtt.sample_ms", sample),
			attribute.Float64("rtt.average_ms", avg),
		)
		m.log.DebugContext(ctx, "ping", "rtt_ms", sample, "average_ms", avg)
		m.count(ctx, "ok")
		if metrics.PingDuration != nil {
			metrics.PingDuration.Record(ctx, sample)
		}
	}

	m.mu.Lock()
	m.desc = current
	m.mu.Unlock()

	if m.inspector != nil {
		m.inspector.Notify(ctx, previous, current)
	}

	return current
}

// ping connects if needed and times one round trip.
func (m *Monitor) ping(ctx context.Context) (time.Duration, error) {
	if c, ok := m.conn.(connection.Connector); ok {
		cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		err := c.Connect(cctx)
		cancel()
		if err != nil {
			return 0, err
		}
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.SocketTimeout)
	defer cancel()

	start := m.clock.Now()
	err := m.conn.Ping(pctx)
	end := m.clock.Now()

	return end.Sub(start), err
}

func (m *Monitor) count(ctx context.Context, result string) {
	if metrics.ScansTotal == nil {
		return
	}
	metrics.ScansTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
