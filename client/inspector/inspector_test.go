package inspector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/srvmon/client/description"
)

type change struct {
	previous, current description.Description
}

func TestInspectorNotify(t *testing.T) {
	var got []change
	in := New(ListenerFunc(func(_ context.Context, p, c description.Description) {
		got = append(got, change{p, c})
	}))

	ctx := context.Background()
	d := description.New("a:1", nil)
	ts := time.Now()

	in.Notify(ctx, d, d)
	assert.Empty(t, got, "no change, no notification")

	up := d.WithSample(10, ts)
	in.Notify(ctx, d, up)
	require.Len(t, got, 1)
	assert.True(t, got[0].previous.Equal(d))
	assert.True(t, got[0].current.Equal(up))

	// only the timestamp differs
	in.Notify(ctx, up, d.WithSample(10, ts.Add(time.Second)))
	assert.Len(t, got, 1)

	in.Notify(ctx, up, up.WithFailure(errors.New("timeout"), ts))
	assert.Len(t, got, 2)
}

func TestInspectorListenerPanic(t *testing.T) {
	calls := 0
	in := New(
		ListenerFunc(func(context.Context, description.Description, description.Description) {
			panic("boom")
		}),
	)
	in.AddListener(ListenerFunc(func(context.Context, description.Description, description.Description) {
		calls++
	}))

	d := description.New("a:1", nil)
	assert.NotPanics(t, func() {
		in.Notify(context.Background(), d, d.WithSample(1, time.Now()))
	})
	assert.Equal(t, 1, calls)
}

func TestLogListener(t *testing.T) {
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLogListener(log)

	ctx := context.Background()
	d := description.New("a:1", nil)
	up := d.WithSample(3.5, time.Now())

	l.DescriptionChanged(ctx, d, up)
	assert.Contains(t, buf.String(), "server status changed")
	assert.Contains(t, buf.String(), "status=reachable")
	assert.Contains(t, buf.String(), "rtt_ms=3.5")

	buf.Reset()
	l.DescriptionChanged(ctx, up, up.WithSample(4, time.Now()))
	assert.Contains(t, buf.String(), "server description updated")

	buf.Reset()
	l.DescriptionChanged(ctx, up, up.WithFailure(errors.New("connection reset"), time.Now()))
	out := buf.String()
	assert.True(t, strings.Contains(out, "previous_status=reachable"), out)
	assert.Contains(t, out, "connection reset")
}

func TestMetricsListener(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsListener(reg)

	ctx := context.Background()
	d := description.New("a:1", nil)
	up := d.WithSample(12.5, time.Now())

	m.DescriptionChanged(ctx, d, up)
	assert.Equal(t, 12.5, testutil.ToFloat64(m.rtt.WithLabelValues("a:1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reachable.WithLabelValues("a:1")))

	m.DescriptionChanged(ctx, up, up.WithFailure(errors.New("x"), time.Now()))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.rtt.WithLabelValues("a:1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reachable.WithLabelValues("a:1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("a:1", "unreachable")))

	m.Forget("a:1")
	assert.Equal(t, 0, testutil.CollectAndCount(m.reachable))
}
