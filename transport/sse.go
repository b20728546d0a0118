package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/jsonrpc2"

	internaltransport "github.com/miyamo2/mcp-weather/internal/transport"
)

const (
	// DefaultMessageEndpoint is the path clients POST messages to.
	DefaultMessageEndpoint = "/messages"

	// DefaultKeepAlive is the interval between keep-alive comments on a stream.
	DefaultKeepAlive = 15 * time.Second

	// DefaultMaxMessageBytes bounds the body of a posted message.
	DefaultMaxMessageBytes int64 = 4 << 20

	// inboundBuffer is the number of posted messages queued per session before Forward blocks.
	inboundBuffer = 16
)

// compatibility check
var _ jsonrpc2.Listener = (*SSE)(nil)

// SSE is the HTTP+SSE transport.
//
// Each GET on the stream endpoint becomes one jsonrpc2 connection handed out by Accept.
// Messages POSTed to the message endpoint are fed into that connection, and its responses are
// written back on the stream.
type SSE struct {
	registry        *Registry
	conns           chan *SSEConn
	done            chan struct{}
	closeOnce       sync.Once
	messageEndpoint string
	keepAlive       time.Duration
	maxMessageBytes int64
	logger          *zap.Logger
}

type sseOptions struct {
	messageEndpoint string
	keepAlive       time.Duration
	maxMessageBytes int64
	registry        *Registry
	logger          *zap.Logger
}

// SSEOption configures the SSE transport.
type SSEOption func(*sseOptions)

// SSEWithMessageEndpoint settings the path announced in the endpoint event.
//
// If not set, it defaults to DefaultMessageEndpoint.
func SSEWithMessageEndpoint(endpoint string) SSEOption {
	return func(o *sseOptions) {
		o.messageEndpoint = endpoint
	}
}

// SSEWithKeepAlive settings the keep-alive interval. Zero disables keep-alive comments.
func SSEWithKeepAlive(keepAlive time.Duration) SSEOption {
	return func(o *sseOptions) {
		o.keepAlive = keepAlive
	}
}

// SSEWithMaxMessageBytes settings the largest accepted message body.
func SSEWithMaxMessageBytes(n int64) SSEOption {
	return func(o *sseOptions) {
		o.maxMessageBytes = n
	}
}

// SSEWithRegistry settings the session Registry.
func SSEWithRegistry(registry *Registry) SSEOption {
	return func(o *sseOptions) {
		o.registry = registry
	}
}

// SSEWithLogger settings the logger.
func SSEWithLogger(logger *zap.Logger) SSEOption {
	return func(o *sseOptions) {
		o.logger = logger
	}
}

// NewSSE creates new SSE transport.
func NewSSE(options ...SSEOption) *SSE {
	opts := &sseOptions{
		messageEndpoint: DefaultMessageEndpoint,
		keepAlive:       DefaultKeepAlive,
		maxMessageBytes: DefaultMaxMessageBytes,
		logger:          zap.NewNop(),
	}
	for _, opt := range options {
		opt(opts)
	}
	if opts.registry == nil {
		opts.registry = NewRegistry(RegistryWithLogger(opts.logger))
	}
	return &SSE{
		registry:        opts.registry,
		conns:           make(chan *SSEConn),
		done:            make(chan struct{}),
		messageEndpoint: opts.messageEndpoint,
		keepAlive:       opts.keepAlive,
		maxMessageBytes: opts.maxMessageBytes,
		logger:          opts.logger,
	}
}

// Registry returns the session Registry of the transport.
func (s *SSE) Registry() *Registry {
	return s.registry
}

// Accept See: jsonrpc2.Listener#Accept
func (s *SSE) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case conn := <-s.conns:
		return internaltransport.NewConnIO(conn), nil
	case <-s.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close See: jsonrpc2.Listener#Close
//
// Every open session is closed as well.
func (s *SSE) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.registry.CloseAll()
	})
	return nil
}

// Dialer See: jsonrpc2.Listener#Dialer
//
// SSE connections can only be opened over HTTP, so there is no in-process dialer.
func (s *SSE) Dialer() jsonrpc2.Dialer {
	return nil
}

// HandleStream serves the event stream of one session.
//
// It returns once the client disconnects or the session is closed.
func (s *SSE) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	select {
	case <-s.done:
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	default:
		// no-op
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := newSSEConn(ctx, cancel, w, flusher)
	id, err := s.registry.Open(conn)
	if err != nil {
		s.logger.Error("failed to open session", zap.Error(err))
		http.Error(w, "Failed to open session", http.StatusInternalServerError)
		return
	}
	defer func() {
		s.registry.Close(id)
		conn.Close()
	}()
	logger := s.logger.With(zap.String("session_id", id), zap.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := conn.writeEvent("endpoint", fmt.Sprintf("%s?sessionId=%s", s.messageEndpoint, id)); err != nil {
		logger.Warn("failed to send endpoint event", zap.Error(err))
		return
	}

	select {
	case s.conns <- conn:
	case <-s.done:
		return
	case <-ctx.Done():
		return
	}
	logger.Info("stream opened")

	if s.keepAlive > 0 {
		go conn.keepAlive(s.keepAlive)
	}
	<-ctx.Done()
	logger.Info("stream closed")
}

// HandleMessage accepts one JSON-RPC message for the session named by the sessionId query
// parameter.
func (s *SSE) HandleMessage(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionOf(r)
	switch {
	case errors.Is(err, ErrMissingSessionID):
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("No transport found for sessionId %s", id), http.StatusBadRequest)
		return
	}
	logger := s.logger.With(zap.String("session_id", id), zap.String("remote_addr", r.RemoteAddr))

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, fmt.Sprintf("Unsupported content-type: %s", r.Header.Get("Content-Type")), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn("failed to read message", zap.Error(err))
		http.Error(w, "Invalid message", http.StatusBadRequest)
		return
	}
	if _, err := jsonrpc2.DecodeMessage(body); err != nil {
		logger.Info("rejected message", zap.Error(err))
		http.Error(w, "Invalid message", http.StatusBadRequest)
		return
	}

	// values are separated so the stream decoder never sees two glued tokens
	err = s.registry.Forward(r.Context(), id, append(body, '\n'))
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionClosed):
		http.Error(w, fmt.Sprintf("No transport found for sessionId %s", id), http.StatusBadRequest)
		return
	default:
		logger.Warn("failed to forward message", zap.Error(err))
		http.Error(w, "Request canceled", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Accepted"))
}

// sessionOf returns the registered session id named by the sessionId query parameter.
func (s *SSE) sessionOf(r *http.Request) (string, error) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		return "", ErrMissingSessionID
	}
	if !s.registry.Has(id) {
		return id, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return id, nil
}

// compatibility check
var _ io.ReadWriteCloser = (*SSEConn)(nil)

// SSEConn is the io.ReadWriteCloser of one SSE session.
//
// Reads drain the messages POSTed to the session; writes go to the event stream.
type SSEConn struct {
	_       struct{}
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	w       io.Writer
	flusher http.Flusher

	inbound chan []byte
	// pending is only touched by the reading goroutine
	pending []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newSSEConn(ctx context.Context, cancel context.CancelFunc, w io.Writer, flusher http.Flusher) *SSEConn {
	return &SSEConn{
		ctx:     ctx,
		cancel:  cancel,
		w:       w,
		flusher: flusher,
		inbound: make(chan []byte, inboundBuffer),
	}
}

// Read See: io.ReadWriteCloser#Read
func (c *SSEConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case msg := <-c.inbound:
			c.pending = msg
		case <-c.ctx.Done():
			return 0, io.EOF
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write See: io.ReadWriteCloser#Write
func (c *SSEConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrSessionClosed
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	c.flusher.Flush()
	return n, nil
}

// Close See: io.ReadWriteCloser#Close
//
// Close never interrupts a write in progress and no write succeeds after it returns.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	return nil
}

// SessionID returns the id minted by the Registry.
func (c *SSEConn) SessionID() string {
	return c.id
}

// Context returns the context of the session. It is done once the session closes.
func (c *SSEConn) Context() context.Context {
	return c.ctx
}

// Probe sends a comment to keep the stream alive.
func (c *SSEConn) Probe() error {
	if _, err := c.Write([]byte(sseProbe)); err != nil {
		return fmt.Errorf("failed to write probe: %w", err)
	}
	return nil
}

func (c *SSEConn) writeEvent(event, data string) error {
	_, err := fmt.Fprintf(c, sseEvent, event, data)
	return err
}

func (c *SSEConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Probe(); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *SSEConn) deliver(ctx context.Context, message []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrSessionClosed
	default:
		// no-op
	}
	select {
	case c.inbound <- message:
		return nil
	case <-c.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
