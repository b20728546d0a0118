package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	mcpweather "github.com/miyamo2/mcp-weather"
)

type fakeToolContext struct {
	mcpweather.ToolContext
	ctx context.Context
}

func (c *fakeToolContext) Context() context.Context { return c.ctx }

func (c *fakeToolContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *fakeToolContext) ToolName() string { return "get-alerts" }

func (c *fakeToolContext) SessionID() string { return "01JTESTSESSION" }

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tr := New(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { tr.Shutdown(context.Background()) })
	return tr, exp
}

func TestTracer_ToolMiddleware(t *testing.T) {
	tr, exp := newTestTracer(t)

	var inner trace.SpanContext
	h := tr.ToolMiddleware(func(c mcpweather.ToolContext) error {
		inner = trace.SpanContextFromContext(c.Context())
		return errors.New("boom")
	})
	err := h(&fakeToolContext{ctx: t.Context()})
	require.Error(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "tools/call get-alerts", span.Name)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Equal(t, span.SpanContext.SpanID(), inner.SpanID(), "the handler runs inside the span")
	assert.Contains(t, span.Attributes, attribute.String("mcp.session_id", "01JTESTSESSION"))
}

func TestTracer_HTTPMiddleware(t *testing.T) {
	tr, exp := newTestTracer(t)
	h := tr.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages?sessionId=x", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /messages", spans[0].Name)
}

func TestTracer_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Traceparent"))
	}))
	t.Cleanup(srv.Close)

	tr, exp := newTestTracer(t)
	client := &http.Client{Transport: tr.Transport(http.DefaultTransport)}

	ctx, span := tr.tracer.Start(t.Context(), "parent")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/alerts", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	span.End()

	assert.Len(t, exp.GetSpans(), 2)
}

func TestDisabled(t *testing.T) {
	tr := Disabled()
	called := false
	h := tr.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.True(t, called)
	assert.Same(t, http.DefaultTransport, tr.Transport(http.DefaultTransport))
	assert.NoError(t, tr.ToolMiddleware(func(mcpweather.ToolContext) error { return nil })(&fakeToolContext{ctx: t.Context()}))
	assert.NoError(t, tr.Shutdown(t.Context()))
}

func TestSetup(t *testing.T) {
	type test struct {
		exporter string
		wantErr  bool
	}
	tests := map[string]test{
		"none":    {exporter: ExporterNone},
		"empty":   {exporter: ""},
		"unknown": {exporter: "zipkin", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tr, err := Setup(t.Context(), tt.exporter, "", "test", zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, tr.enabled)
		})
	}
}
