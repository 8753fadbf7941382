package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTPPing(t *testing.T) {
	tests := []struct {
		name    string
		resp    *ntp.Response
		err     error
		wantErr string
	}{
		{
			name: "good response",
			resp: &ntp.Response{Stratum: 2, RTT: 10 * time.Millisecond},
		},
		{
			name:    "kiss code",
			resp:    &ntp.Response{Stratum: 0, KissCode: "RATE"},
			wantErr: "kiss code RATE",
		},
		{
			name:    "unsynchronized",
			resp:    &ntp.Response{Stratum: 16, ReferenceID: 0x494e4954},
			wantErr: "bad stratum 16 (referenceID: 0x494e4954, INIT)",
		},
		{
			name:    "query error",
			err:     errors.New("read udp: i/o timeout"),
			wantErr: "i/o timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewNTP("192.0.2.1:123", testConfig)
			c.query = func(host string, opts ntp.QueryOptions) (*ntp.Response, error) {
				assert.Equal(t, "192.0.2.1:123", host)
				assert.Equal(t, testConfig.SocketTimeout, opts.Timeout)
				return tt.resp, tt.err
			}

			err := c.Ping(context.Background())
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var perr *ProbeError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestNTPPingCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := NewNTP("192.0.2.1", testConfig)
	c.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		<-release
		return nil, errors.New("timeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Ping(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, c.Close())
}

func TestNTPDeadlineShortensTimeout(t *testing.T) {
	c := NewNTP("192.0.2.1", Config{SocketTimeout: time.Minute})
	c.query = func(_ string, opts ntp.QueryOptions) (*ntp.Response, error) {
		assert.Less(t, opts.Timeout, 10*time.Second)
		return &ntp.Response{Stratum: 1}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.Ping(ctx))
}
