package transport

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"
)

func newTestSSEServer(t *testing.T, options ...SSEOption) (*SSE, *httptest.Server) {
	t.Helper()
	s := NewSSE(options...)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.HandleStream)
	mux.HandleFunc("POST /messages", s.HandleMessage)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

// readEvent reads one server-sent event, skipping comments.
func readEvent(t *testing.T, br *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSE_HandleMessage(t *testing.T) {
	s := NewSSE(SSEWithMaxMessageBytes(64))
	t.Cleanup(func() { s.Close() })
	id, err := s.Registry().Open(newTestConn(t))
	require.NoError(t, err)

	type test struct {
		target      string
		contentType string
		body        string
		wantStatus  int
		wantBody    string
	}
	tests := map[string]test{
		"missing session id": {
			target:      "/messages",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"ping","id":1}`,
			wantStatus:  http.StatusBadRequest,
			wantBody:    "Missing sessionId parameter\n",
		},
		"unknown session id": {
			target:      "/messages?sessionId=nope",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"ping","id":1}`,
			wantStatus:  http.StatusBadRequest,
			wantBody:    "No transport found for sessionId nope\n",
		},
		"unsupported content type": {
			target:      "/messages?sessionId=" + id,
			contentType: "text/plain",
			body:        `{"jsonrpc":"2.0","method":"ping","id":1}`,
			wantStatus:  http.StatusBadRequest,
			wantBody:    "Unsupported content-type: text/plain\n",
		},
		"too large": {
			target:      "/messages?sessionId=" + id,
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","method":"ping","id":1,"params":{"padding":"` + strings.Repeat("x", 64) + `"}}`,
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantBody:    "Message too large\n",
		},
		"not json": {
			target:      "/messages?sessionId=" + id,
			contentType: "application/json",
			body:        `ping`,
			wantStatus:  http.StatusBadRequest,
			wantBody:    "Invalid message\n",
		},
		"not json-rpc": {
			target:      "/messages?sessionId=" + id,
			contentType: "application/json",
			body:        `{"hello":"world"}`,
			wantStatus:  http.StatusBadRequest,
			wantBody:    "Invalid message\n",
		},
		"accepted": {
			target:      "/messages?sessionId=" + id,
			contentType: "application/json; charset=utf-8",
			body:        `{"jsonrpc":"2.0","method":"ping","id":1}`,
			wantStatus:  http.StatusAccepted,
			wantBody:    "Accepted",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()

			s.HandleMessage(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestSSE_sessionOf(t *testing.T) {
	s := NewSSE()
	t.Cleanup(func() { s.Close() })
	id, err := s.Registry().Open(newTestConn(t))
	require.NoError(t, err)

	type test struct {
		target  string
		wantID  string
		wantErr error
	}
	tests := map[string]test{
		"missing": {
			target:  "/messages",
			wantErr: ErrMissingSessionID,
		},
		"empty": {
			target:  "/messages?sessionId=",
			wantErr: ErrMissingSessionID,
		},
		"unknown": {
			target:  "/messages?sessionId=nope",
			wantID:  "nope",
			wantErr: ErrSessionNotFound,
		},
		"registered": {
			target: "/messages?sessionId=" + id,
			wantID: id,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.sessionOf(httptest.NewRequest(http.MethodPost, tt.target, nil))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantID, got)
		})
	}
}

func TestSSE_Stream(t *testing.T) {
	s, srv := newTestSSEServer(t, SSEWithKeepAlive(0))

	accepted := make(chan io.ReadWriteCloser, 1)
	go func() {
		rwc, err := s.Accept(t.Context())
		if err == nil {
			accepted <- rwc
		}
	}()

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	event, data := readEvent(t, br)
	require.Equal(t, "endpoint", event)
	require.True(t, strings.HasPrefix(data, "/messages?sessionId="), data)
	id := strings.TrimPrefix(data, "/messages?sessionId=")
	assert.Equal(t, 1, s.Registry().Len())

	var rwc io.ReadWriteCloser
	select {
	case rwc = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("stream was not handed to Accept")
	}

	post, err := http.Post(srv.URL+data, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":7}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	msg, _, err := jsonrpc2.RawFramer().Reader(rwc).Read(t.Context())
	require.NoError(t, err)
	req, ok := msg.(*jsonrpc2.Request)
	require.True(t, ok)
	assert.Equal(t, "ping", req.Method)

	res, err := jsonrpc2.NewResponse(req.ID, map[string]any{}, nil)
	require.NoError(t, err)
	_, err = DefaultSSEFramer().Writer(rwc).Write(t.Context(), res)
	require.NoError(t, err)

	event, data = readEvent(t, br)
	assert.Equal(t, "message", event)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{}}`, data)

	resp.Body.Close()
	assert.Eventually(t, func() bool {
		return !s.Registry().Has(id)
	}, time.Second, 10*time.Millisecond)
}

func TestSSE_KeepAlive(t *testing.T) {
	s, srv := newTestSSEServer(t, SSEWithKeepAlive(10*time.Millisecond))
	go s.Accept(t.Context())

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	readEvent(t, br)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == ":\n" {
			return
		}
	}
}

func TestSSE_Close(t *testing.T) {
	s, srv := newTestSSEServer(t, SSEWithKeepAlive(0))
	go s.Accept(t.Context())

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	readEvent(t, bufio.NewReader(resp.Body))

	require.NoError(t, s.Close())
	assert.Zero(t, s.Registry().Len())

	_, err = s.Accept(t.Context())
	assert.ErrorIs(t, err, net.ErrClosed)

	// the stream ends once its session is closed
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)

	rec := httptest.NewRecorder()
	s.HandleStream(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
