// Package mcptest provides an MCP over HTTP+SSE client for tests.
package mcptest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewJSONRPCRequest creates a new JSON-RPC request with a random UUID as the ID.
func NewJSONRPCRequest(t testing.TB, method string, params any) JSONRPCRequest {
	t.Helper()
	_uuid, err := uuid.NewRandom()
	require.NoError(t, err, "failed to generate UUID for JSON-RPC request ID")

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      _uuid.String(),
		Method:  method,
	}
	if params != nil {
		req.Params, err = json.Marshal(params)
		require.NoError(t, err, "failed to marshal JSON-RPC request parameters")
	}
	return req
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolResult is the result of tools/call.
type ToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Text joins the text of every content block.
func (r ToolResult) Text() string {
	var sb strings.Builder
	for _, c := range r.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// Client is an MCP session opened against a server under test.
type Client struct {
	t        testing.TB
	baseURL  string
	header   http.Header
	endpoint string
	resp     *http.Response
	messages chan []byte
}

// Dial opens the event stream at baseURL+"/sse" and waits for the endpoint event.
//
// header is sent with every request of the session. The stream is closed on test cleanup.
func Dial(t testing.TB, baseURL string, header http.Header) *Client {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, baseURL+"/sse", nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	c := &Client{
		t:        t,
		baseURL:  baseURL,
		header:   header,
		resp:     resp,
		messages: make(chan []byte, 16),
	}
	t.Cleanup(c.Close)

	endpoint := make(chan string, 1)
	go c.readEvents(endpoint)
	select {
	case c.endpoint = <-endpoint:
	case <-time.After(5 * time.Second):
		t.Fatal("no endpoint event received")
	}
	return c
}

// Endpoint returns the message endpoint announced by the server.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SessionID returns the session id of the message endpoint.
func (c *Client) SessionID() string {
	_, id, _ := strings.Cut(c.endpoint, "sessionId=")
	return id
}

// Post sends body to the message endpoint and returns the response status.
func (c *Client) Post(body any) int {
	c.t.Helper()
	b, err := json.Marshal(body)
	require.NoError(c.t, err)
	req, err := http.NewRequestWithContext(c.t.Context(), http.MethodPost, c.baseURL+c.endpoint, bytes.NewReader(b))
	require.NoError(c.t, err)
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	resp.Body.Close()
	return resp.StatusCode
}

// Call sends a request and waits for its response on the stream.
func (c *Client) Call(method string, params any) JSONRPCResponse {
	c.t.Helper()
	req := NewJSONRPCRequest(c.t, method, params)
	require.Equal(c.t, http.StatusAccepted, c.Post(req))
	return c.Await(req.ID)
}

// Await waits for the response to the request id.
func (c *Client) Await(id string) JSONRPCResponse {
	c.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-c.messages:
			require.True(c.t, ok, "stream closed while waiting for %s", id)
			var res JSONRPCResponse
			if json.Unmarshal(msg, &res) != nil || res.ID != id {
				continue
			}
			return res
		case <-timeout:
			c.t.Fatalf("no response to %s", id)
		}
	}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) {
	c.t.Helper()
	req := NewJSONRPCRequest(c.t, method, params)
	req.ID = ""
	require.Equal(c.t, http.StatusAccepted, c.Post(req))
}

// Initialize performs the initialize handshake.
func (c *Client) Initialize() JSONRPCResponse {
	c.t.Helper()
	res := c.Call("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "test-client",
			"version": "1.0.0",
		},
	})
	require.Nil(c.t, res.Error)
	c.Notify("notifications/initialized", nil)
	return res
}

// CallTool calls a tool and decodes its result. It fails the test on a JSON-RPC error.
func (c *Client) CallTool(name string, args any) ToolResult {
	c.t.Helper()
	res := c.Call("tools/call", map[string]any{"name": name, "arguments": args})
	require.Nil(c.t, res.Error, "tools/call %s", name)
	var out ToolResult
	require.NoError(c.t, json.Unmarshal(res.Result, &out))
	return out
}

// Close closes the event stream.
func (c *Client) Close() {
	c.resp.Body.Close()
}

func (c *Client) readEvents(endpoint chan<- string) {
	defer close(c.messages)
	br := bufio.NewReader(c.resp.Body)
	var event, data string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "":
			switch event {
			case "endpoint":
				endpoint <- data
			case "message":
				c.messages <- []byte(data)
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}
