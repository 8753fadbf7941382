package description

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescription(t *testing.T) {
	fields := map[string]string{"role": "primary"}
	d := New("10.0.0.1:27017", fields)

	// the caller's map is copied
	fields["role"] = "secondary"

	role, ok := d.Field("role")
	assert.True(t, ok)
	assert.Equal(t, "primary", role)

	_, ok = d.AverageRTT()
	assert.False(t, ok)
	assert.Nil(t, d.AverageRTTPtr())
	assert.Equal(t, Unknown, d.Status())
	assert.False(t, d.Reachable())
	assert.True(t, d.LastUpdate().IsZero())

	d = NewWithAverage("10.0.0.1:27017", nil, 12.5)
	avg, ok := d.AverageRTT()
	assert.True(t, ok)
	assert.Equal(t, 12.5, avg)
	assert.Equal(t, 12500*time.Microsecond, d.AverageRTTDuration())
}

func TestDerivedDescriptions(t *testing.T) {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	d := New("db1:27017", map[string]string{"dc": "east"})

	ok := d.WithSample(20, ts)
	assert.True(t, ok.Reachable())
	avg, _ := ok.AverageRTT()
	assert.Equal(t, 20.0, avg)
	assert.Equal(t, ts, ok.LastUpdate())

	// original is untouched
	_, has := d.AverageRTT()
	assert.False(t, has)

	pingErr := errors.New("connection refused")
	failed := ok.WithFailure(pingErr, ts.Add(time.Second))
	assert.Equal(t, Unreachable, failed.Status())
	assert.Equal(t, 1, failed.ConsecutiveFailures())
	assert.ErrorIs(t, failed.LastError(), pingErr)
	avg, has = failed.AverageRTT()
	assert.True(t, has)
	assert.Equal(t, 20.0, avg, "average survives a failure")

	failed = failed.WithFailure(pingErr, ts.Add(2*time.Second))
	assert.Equal(t, 2, failed.ConsecutiveFailures())

	recovered := failed.WithSample(22, ts.Add(3*time.Second))
	assert.Equal(t, 0, recovered.ConsecutiveFailures())
	assert.NoError(t, recovered.LastError())

	dc, _ := recovered.Field("dc")
	assert.Equal(t, "east", dc)
}

func TestDescriptionEqual(t *testing.T) {
	ts := time.Now()
	a := New("a:1", nil)

	assert.True(t, a.Equal(a))
	assert.True(t, a.WithSample(5, ts).Equal(a.WithSample(5, ts.Add(time.Minute))))
	assert.False(t, a.Equal(a.WithSample(5, ts)))
	assert.False(t, a.WithSample(5, ts).Equal(a.WithSample(6, ts)))
	assert.False(t, a.Equal(New("b:1", nil)))
	assert.False(t, a.Equal(New("a:1", map[string]string{"x": "y"})))

	f1 := a.WithFailure(errors.New("one"), ts)
	f2 := a.WithFailure(errors.New("two"), ts)
	assert.True(t, f1.Equal(f2))
}

func TestDescriptionJSON(t *testing.T) {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	js, err := json.Marshal(New("a:1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"a:1","status":"unknown","average_rtt_ms":null}`, string(js))

	d := New("a:1", map[string]string{"role": "primary"}).
		WithSample(1.5, ts).
		WithFailure(errors.New("i/o timeout"), ts)

	js, err = json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"address": "a:1",
		"status": "unreachable",
		"average_rtt_ms": 1.5,
		"last_update": "2026-10-01T12:00:00Z",
		"error": "i/o timeout",
		"consecutive_failures": 1,
		"fields": {"role": "primary"}
	}`, string(js))
}
