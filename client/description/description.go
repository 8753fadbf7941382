// Package description holds the immutable snapshot of a monitored
// server's last known state.
package description

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Address identifies a monitored server, usually "host:port".
type Address string

func (a Address) String() string {
	return string(a)
}

// Status is the reachability of a server as seen by its monitor.
type Status uint8

const (
	Unknown Status = iota
	Reachable
	Unreachable
)

func (s Status) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Description is a server snapshot. The zero value is not useful; use New.
// Descriptions are never modified after construction, the With* methods
// return new values.
type Description struct {
	address    Address
	avgRTT     float64
	hasRTT     bool
	status     Status
	lastUpdate time.Time
	lastErr    error
	failures   int
	fields     map[string]string
}

// New returns a Description for addr that has not been scanned yet.
// fields are copied and carried through every derived Description.
func New(addr Address, fields map[string]string) Description {
	return Description{
		address: addr,
		fields:  maps.Clone(fields),
	}
}

// NewWithAverage is New with an already known average RTT in milliseconds.
func NewWithAverage(addr Address, fields map[string]string, avg float64) Description {
	d := New(addr, fields)
	d.avgRTT = avg
	d.hasRTT = true
	return d
}

func (d Description) Address() Address { return d.address }

// AverageRTT returns the smoothed round-trip time in milliseconds. ok is
// false if no successful measurement has been made.
func (d Description) AverageRTT() (avg float64, ok bool) {
	return d.avgRTT, d.hasRTT
}

// AverageRTTPtr is AverageRTT as a nullable value.
func (d Description) AverageRTTPtr() *float64 {
	if !d.hasRTT {
		return nil
	}
	avg := d.avgRTT
	return &avg
}

// AverageRTTDuration returns the average as a time.Duration, or zero.
func (d Description) AverageRTTDuration() time.Duration {
	if !d.hasRTT {
		return 0
	}
	return time.Duration(d.avgRTT * float64(time.Millisecond))
}

func (d Description) Status() Status { return d.status }

func (d Description) Reachable() bool { return d.status == Reachable }

func (d Description) LastUpdate() time.Time { return d.lastUpdate }

// LastError is the error from the most recent failed scan; nil after a
// successful one.
func (d Description) LastError() error { return d.lastErr }

// ConsecutiveFailures counts failed scans since the last successful one.
func (d Description) ConsecutiveFailures() int { return d.failures }

// Field returns one of the passthrough fields.
func (d Description) Field(key string) (string, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Fields returns a copy of the passthrough fields.
func (d Description) Fields() map[string]string {
	return maps.Clone(d.fields)
}

// WithSample returns the Description after a successful scan that produced
// the new average.
func (d Description) WithSample(avg float64, ts time.Time) Description {
	n := d
	n.avgRTT = avg
	n.hasRTT = true
	n.status = Reachable
	n.lastUpdate = ts
	n.lastErr = nil
	n.failures = 0
	return n
}

// WithFailure returns the Description after a failed scan. The average
// RTT is kept.
func (d Description) WithFailure(err error, ts time.Time) Description {
	n := d
	n.status = Unreachable
	n.lastUpdate = ts
	n.lastErr = err
	n.failures = d.failures + 1
	return n
}

// Equal reports if the two descriptions describe the same server state.
// The update timestamp and error text are ignored.
func (d Description) Equal(o Description) bool {
	if d.address != o.address || d.status != o.status || d.hasRTT != o.hasRTT {
		return false
	}
	if d.hasRTT && d.avgRTT != o.avgRTT {
		return false
	}
	return maps.Equal(d.fields, o.fields)
}

func (d Description) String() string {
	rtt := "-"
	if d.hasRTT {
		rtt = fmt.Sprintf("%.3fms", d.avgRTT)
	}
	return fmt.Sprintf("%s (%s, rtt %s)", d.address, d.status, rtt)
}

// MarshalJSON encodes the Description for the status API and MQTT.
func (d Description) MarshalJSON() ([]byte, error) {
	var errStr string
	if d.lastErr != nil {
		errStr = d.lastErr.Error()
	}

	var lastUpdate *time.Time
	if !d.lastUpdate.IsZero() {
		lastUpdate = &d.lastUpdate
	}

	return json.Marshal(&struct {
		Address             Address           `json:"address"`
		Status              Status            `json:"status"`
		AverageRTT          *float64          `json:"average_rtt_ms"`
		LastUpdate          *time.Time        `json:"last_update,omitempty"`
		Error               string            `json:"error,omitempty"`
		ConsecutiveFailures int               `json:"consecutive_failures,omitempty"`
		Fields              map[string]string `json:"fields,omitempty"`
	}{
		Address:             d.address,
		Status:              d.status,
		AverageRTT:          d.AverageRTTPtr(),
		LastUpdate:          lastUpdate,
		Error:               errStr,
		ConsecutiveFailures: d.failures,
		Fields:              d.fields,
	})
}
