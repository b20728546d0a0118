package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpweather "github.com/miyamo2/mcp-weather"
)

type fakeToolContext struct {
	mcpweather.ToolContext
	name string
}

func (c *fakeToolContext) ToolName() string { return c.name }

func TestRegistry_ToolMiddleware(t *testing.T) {
	r := NewRegistry()
	ok := r.ToolMiddleware(func(mcpweather.ToolContext) error { return nil })
	fail := r.ToolMiddleware(func(mcpweather.ToolContext) error { return errors.New("boom") })

	require.NoError(t, ok(&fakeToolContext{name: "get-alerts"}))
	require.NoError(t, ok(&fakeToolContext{name: "get-alerts"}))
	require.Error(t, fail(&fakeToolContext{name: "get-forecast"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ToolCallsTotal.WithLabelValues("get-alerts", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ToolCallsTotal.WithLabelValues("get-forecast", OutcomeError)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.ToolCallDuration))
}

func TestRegistry_AuthFailed(t *testing.T) {
	r := NewRegistry()
	r.AuthFailed("missing_token")
	r.AuthFailed("missing_token")
	r.AuthFailed("missing_role")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.AuthFailuresTotal.WithLabelValues("missing_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AuthFailuresTotal.WithLabelValues("missing_role")))
}

func TestRegistry_ObserveSessions(t *testing.T) {
	r := NewRegistry()
	n := 3
	r.ObserveSessions(func() int { return n })

	expected := `
# HELP mcp_weather_sessions_active Number of open event streams
# TYPE mcp_weather_sessions_active gauge
mcp_weather_sessions_active 3
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "mcp_weather_sessions_active"))

	n = 0
	assert.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(strings.Replace(expected, " 3\n", " 0\n", 1)), "mcp_weather_sessions_active"))
}

func TestRegistry_InstrumentRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	client := &http.Client{Transport: r.InstrumentRoundTripper(http.DefaultTransport)}
	for _, path := range []string{"/alerts", "/points", "/missing"} {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.UpstreamRequestsTotal.WithLabelValues("200", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UpstreamRequestsTotal.WithLabelValues("404", "get")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.AuthFailed("invalid_token")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mcp_weather_auth_failures_total{reason="invalid_token"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
