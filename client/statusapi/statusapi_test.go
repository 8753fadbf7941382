package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/serverset"
	"go.ntppool.org/srvmon/testutil"
)

type staticSource []description.Description

func (s staticSource) Descriptions() []description.Description {
	return s
}

func (s staticSource) Eligible(threshold time.Duration) []description.Description {
	return serverset.Eligible(s, threshold)
}

type serversResponse struct {
	Servers []struct {
		Address    string   `json:"address"`
		Status     string   `json:"status"`
		AverageRTT *float64 `json:"average_rtt_ms"`
	} `json:"servers"`
	Threshold string `json:"threshold"`
}

func testSource() staticSource {
	ts := time.Now()
	return staticSource{
		description.New("a:1", nil).WithSample(10, ts),
		description.New("b:1", nil).WithSample(40, ts),
		description.New("c:1", nil).WithSample(12, ts).WithFailure(assert.AnError, ts),
		description.New("d:1", nil),
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServers(t *testing.T) {
	srv := New(testutil.NewTestLogger(t), testSource(), nil, 15*time.Millisecond)

	rec := get(t, srv.Handler(), "/servers")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp serversResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 4)
	assert.Equal(t, "c:1", resp.Servers[2].Address)
	assert.Equal(t, "unreachable", resp.Servers[2].Status)
	assert.Nil(t, resp.Servers[3].AverageRTT)
}

func TestEligible(t *testing.T) {
	srv := New(testutil.NewTestLogger(t), testSource(), nil, 15*time.Millisecond)

	rec := get(t, srv.Handler(), "/servers/eligible")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp serversResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 1)
	assert.Equal(t, "a:1", resp.Servers[0].Address)
	assert.Equal(t, "15ms", resp.Threshold)

	rec = get(t, srv.Handler(), "/servers/eligible?threshold=1m")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 2)
	assert.Equal(t, "b:1", resp.Servers[1].Address)

	rec = get(t, srv.Handler(), "/servers/eligible?threshold=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptySource(t *testing.T) {
	srv := New(testutil.NewTestLogger(t), staticSource(nil), nil, time.Millisecond)

	rec := get(t, srv.Handler(), "/servers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"servers":[]}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "statusapi_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := New(testutil.NewTestLogger(t), testSource(), reg, time.Millisecond)

	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "statusapi_test_total 1"))

	srv = New(testutil.NewTestLogger(t), testSource(), nil, time.Millisecond)
	rec = get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
