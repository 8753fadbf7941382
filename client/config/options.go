package config

import (
	"errors"
	"fmt"
	"time"

	"go.ntppool.org/srvmon/client/rtt"
)

const (
	DefaultScanInterval    = 10 * time.Second
	DefaultMinScanInterval = 500 * time.Millisecond
	DefaultSocketTimeout   = 5 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
)

// Options is the monitor configuration. It is shared by every monitor
// in a process so all servers are compared with the same weight.
type Options struct {
	// ScanInterval is the time between the start of two scans.
	ScanInterval time.Duration

	// MinScanInterval throttles scans requested ahead of schedule.
	MinScanInterval time.Duration

	// RTTWeightFactor is the weight of a new sample in the average.
	RTTWeightFactor float64

	// SocketTimeout bounds a single ping.
	SocketTimeout time.Duration

	// ConnectTimeout bounds establishing the monitoring connection.
	ConnectTimeout time.Duration
}

// DefaultOptions returns Options with all defaults set.
func DefaultOptions() Options {
	return Options{
		ScanInterval:    DefaultScanInterval,
		MinScanInterval: DefaultMinScanInterval,
		RTTWeightFactor: rtt.DefaultWeight,
		SocketTimeout:   DefaultSocketTimeout,
		ConnectTimeout:  DefaultConnectTimeout,
	}
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.ScanInterval == 0 {
		o.ScanInterval = def.ScanInterval
	}
	if o.MinScanInterval == 0 {
		o.MinScanInterval = def.MinScanInterval
	}
	if o.RTTWeightFactor == 0 {
		o.RTTWeightFactor = def.RTTWeightFactor
	}
	if o.SocketTimeout == 0 {
		o.SocketTimeout = def.SocketTimeout
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	return o
}

// Validate checks that the options can be used by a monitor.
func (o Options) Validate() error {
	var errs []error
	if o.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan interval must be positive, got %s", o.ScanInterval))
	}
	if o.MinScanInterval < 0 {
		errs = append(errs, fmt.Errorf("min scan interval can't be negative, got %s", o.MinScanInterval))
	}
	if o.MinScanInterval > o.ScanInterval {
		errs = append(errs, fmt.Errorf("min scan interval %s is longer than the scan interval %s", o.MinScanInterval, o.ScanInterval))
	}
	if !rtt.ValidWeight(o.RTTWeightFactor) {
		errs = append(errs, fmt.Errorf("%w, got %g", rtt.ErrInvalidWeight, o.RTTWeightFactor))
	}
	if o.SocketTimeout <= 0 {
		errs = append(errs, fmt.Errorf("socket timeout must be positive, got %s", o.SocketTimeout))
	}
	if o.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %s", o.ConnectTimeout))
	}
	return errors.Join(errs...)
}
