package mcpweather

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"
	"golang.org/x/exp/jsonrpc2"

	internaltransport "github.com/miyamo2/mcp-weather/internal/transport"
	"github.com/miyamo2/mcp-weather/transport"
)

// codeInvalidParams is the JSON-RPC error code for invalid method parameters.
const codeInvalidParams int64 = -32602

// Server is an MCP server exposing tools over a jsonrpc2.Listener.
type Server struct {
	// name of the server
	name string

	// version of the server
	version string

	// startupMutex is mutex to lock Server instance access during server configuration and startup.
	startupMutex sync.RWMutex

	// jsonUnmarshalFunc is the function to unmarshal JSON data
	jsonUnmarshalFunc JSONUnmarshalFunc

	// jsonMarshalFunc is the function to marshal JSON data
	jsonMarshalFunc JSONMarshalFunc

	// toolMiddleware is the list of toolMiddleware functions to be applied to each Tool handler
	toolMiddleware []ToolMiddlewareFunc

	// toolContextPool pools ToolContext
	toolContextPool sync.Pool

	// tools is the map of Tool names to Tool instances
	tools map[string]Tool

	// capabilities is the map of capabilities
	capabilities ServerCapabilities

	logger *zap.Logger
}

// ToolMiddlewareFunc defines a function to process Tool middleware.
type ToolMiddlewareFunc func(next ToolHandlerFunc) ToolHandlerFunc

// ToolHandlerFunc defines a function to serve Tool requests.
type ToolHandlerFunc func(c ToolContext) error

// JSONUnmarshalFunc defines a function to unmarshal JSON data.
type JSONUnmarshalFunc func(data []byte, v any) error

// JSONMarshalFunc defines a function to marshal JSON data.
type JSONMarshalFunc func(v any) ([]byte, error)

// Option configures the Server instance.
type Option func(*Server)

// WithVersion sets the version reported in serverInfo.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new Server instance.
func New(name string, options ...Option) *Server {
	s := &Server{
		name:              name,
		version:           "1.0.0",
		tools:             make(map[string]Tool),
		jsonMarshalFunc:   gojson.Marshal,
		jsonUnmarshalFunc: gojson.Unmarshal,
		logger:            zap.NewNop(),
	}
	ok := s.startupMutex.TryLock()
	if !ok {
		panic(ErrLockingConflicts)
	}
	defer s.startupMutex.Unlock()

	for _, opt := range options {
		opt(s)
	}
	s.toolContextPool = sync.Pool{
		New: func() any {
			return newToolContext(s.jsonUnmarshalFunc, s.jsonMarshalFunc)
		},
	}
	return s
}

type toolOptions struct {
	description string
	annotation  *ToolAnnotations
	middlewares []ToolMiddlewareFunc
}

// ToolOption configures the Tool options.
type ToolOption func(*toolOptions)

// ToolWithDescription configures the Tool description.
func ToolWithDescription(description string) ToolOption {
	return func(o *toolOptions) {
		o.description = description
	}
}

// ToolWithAnnotations configures the Tool annotations.
func ToolWithAnnotations(annotations ToolAnnotations) ToolOption {
	return func(o *toolOptions) {
		o.annotation = &annotations
	}
}

// ToolWithMiddleware configures the Tool middleware.
func ToolWithMiddleware(middlewares ...ToolMiddlewareFunc) ToolOption {
	return func(o *toolOptions) {
		reversed := slices.Clone(middlewares)
		slices.Reverse(reversed)
		o.middlewares = slices.Concat(reversed, o.middlewares)
	}
}

// Tool registers a new Tool with the given name.
//
//   - name: the name of the Tool
//   - req: the input of the Tool. Its type is reflected into the input schema, and every call
//     decodes the arguments into a fresh value of that type. If it implements Validator, the
//     handler only runs for inputs without violations.
//   - handler: the handler function for the Tool
//   - options: (optional) the options for the Tool
func (s *Server) Tool(name string, req any, handler ToolHandlerFunc, options ...ToolOption) {
	ok := s.startupMutex.TryLock()
	if !ok {
		panic(ErrLockingConflicts)
	}
	defer s.startupMutex.Unlock()

	if s.capabilities.Tools == nil {
		s.capabilities.Tools = &ToolCapability{}
	}

	opts := &toolOptions{}
	for _, o := range options {
		o(opts)
	}

	f := handler
	slices.Reverse(opts.middlewares)
	for _, m := range opts.middlewares {
		f = m(f)
	}

	var (
		schema = &jsonschema.Schema{Type: "object"}
		input  toolInput
	)
	if req != nil {
		ref := jsonschema.Reflector{
			Anonymous:      true,
			DoNotReference: true,
		}
		schema = ref.Reflect(req)
		schema.Version = ""

		input.typ = reflect.TypeOf(req)
		for input.typ.Kind() == reflect.Pointer {
			input.typ = input.typ.Elem()
		}
	}
	s.tools[name] = Tool{
		Name:        name,
		Description: opts.description,
		InputSchema: schema,
		Annotations: opts.annotation,
		input:       input,
		handler:     f,
	}
}

// UseInTools adds middleware to the Tool handler chain.
func (s *Server) UseInTools(middleware ...ToolMiddlewareFunc) {
	ok := s.startupMutex.TryLock()
	if !ok {
		panic(ErrLockingConflicts)
	}
	defer s.startupMutex.Unlock()
	slices.Reverse(middleware)
	s.toolMiddleware = slices.Concat(middleware, s.toolMiddleware)
}

// toolInput decodes and validates the arguments of a Tool.
type toolInput struct {
	typ reflect.Type
}

// decode returns a pointer to a fresh input holding args.
//
// Violations reported by Validator are returned as the error.
func (in toolInput) decode(unmarshal JSONUnmarshalFunc, args json.RawMessage) (reflect.Value, error) {
	if in.typ == nil {
		return reflect.Value{}, nil
	}
	if trimmed := bytes.TrimSpace(args); len(trimmed) == 0 || string(trimmed) == "null" {
		args = json.RawMessage("{}")
	}
	v := reflect.New(in.typ)
	if err := unmarshal(args, v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	if validator, ok := v.Interface().(Validator); ok {
		if violations := validator.Validate(); len(violations) > 0 {
			return reflect.Value{}, violations
		}
	}
	return v, nil
}

type startOptions struct {
	ctx         context.Context
	listener    jsonrpc2.Listener
	framer      jsonrpc2.Framer
	readySignal chan<- struct{}
}

// StartOption configures the startup settings for the Server instance
type StartOption func(*startOptions)

// StartWithContext settings the context
func StartWithContext(ctx context.Context) StartOption {
	return func(o *startOptions) {
		o.ctx = ctx
	}
}

// StartWithListener settings the SSE transport to serve on
func StartWithListener(listener *transport.SSE) StartOption {
	return func(o *startOptions) {
		o.listener = listener
		o.framer = transport.DefaultSSEFramer()
	}
}

// StartWithReadySignal settings a channel that receives once the server accepts connections
func StartWithReadySignal(ch chan<- struct{}) StartOption {
	return func(o *startOptions) {
		o.readySignal = ch
	}
}

// ErrNoListener occurs when Start is called without a listener.
var ErrNoListener = errors.New("no listener configured")

// Start serves until the context is canceled or the listener fails.
func (s *Server) Start(options ...StartOption) error {
	if !s.startupMutex.TryLock() {
		panic(ErrLockingConflicts)
	}
	// Locked until the jsonrpc2 server is shut down.
	defer s.startupMutex.Unlock()

	o := &startOptions{
		ctx:    context.Background(),
		framer: transport.DefaultSSEFramer(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.listener == nil {
		return ErrNoListener
	}
	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()
	context.AfterFunc(ctx, func() {
		o.listener.Close()
	})

	for name, tool := range s.tools {
		for _, middleware := range s.toolMiddleware {
			tool.handler = middleware(tool.handler)
		}
		s.tools[name] = tool
	}

	srv, err := jsonrpc2.Serve(ctx, o.listener, newBinder(s, o.framer))
	if err != nil {
		return err
	}
	s.logger.Info("mcp server started", zap.String("name", s.name), zap.Int("tools", len(s.tools)))
	if o.readySignal != nil {
		o.readySignal <- struct{}{}
	}
	err = srv.Wait()
	if ctx.Err() != nil {
		// the listener was closed on purpose
		return nil
	}
	return err
}

// compatibility check
var _ jsonrpc2.Binder = (*binder)(nil)

type binder struct {
	server *Server
	framer jsonrpc2.Framer
}

// sessionConn is implemented by transport connections that belong to a session.
type sessionConn interface {
	SessionID() string
	Context() context.Context
}

func (b *binder) Bind(_ context.Context, conn *jsonrpc2.Connection) (jsonrpc2.ConnectionOptions, error) {
	h := &handler{
		server:        b.server,
		connectionCtx: context.Background(),
		inflight:      make(map[string]context.CancelFunc),
	}

	if connIO, ok := connIOOf(conn); ok {
		if sc, ok := connIO.Inner.(sessionConn); ok {
			h.sessionID = sc.SessionID()
			h.connectionCtx = sc.Context()
		}
	} else {
		b.server.logger.Warn("connection is not bound to a session")
	}
	h.logger = b.server.logger.With(zap.String("session_id", h.sessionID))

	return jsonrpc2.ConnectionOptions{
		Preempter: h,
		Framer:    b.framer,
		Handler:   h,
	}, nil
}

// connIOOf recovers the ConnIO handed out by the listener from the unexported closer of conn.
func connIOOf(conn *jsonrpc2.Connection) (_ *internaltransport.ConnIO, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	elem := reflect.ValueOf(conn).Elem().FieldByName("closer")
	if !elem.IsValid() {
		return nil, false
	}
	rf := reflect.NewAt(elem.Type(), elem.Addr().UnsafePointer()).Elem()
	v, ok := rf.Interface().(*internaltransport.ConnIO)
	return v, ok
}

func newBinder(s *Server, framer jsonrpc2.Framer) *binder {
	return &binder{
		server: s,
		framer: framer,
	}
}

// compatibility check
var (
	_ jsonrpc2.Handler   = (*handler)(nil)
	_ jsonrpc2.Preempter = (*handler)(nil)
)

// handler serves a single connection.
type handler struct {
	// server instance that is the parent of this handler
	server *Server

	// sessionID of the connection
	sessionID string

	// connectionCtx is the context of the connection
	connectionCtx context.Context

	logger *zap.Logger

	// inflight maps request ids to the cancel func of their context
	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// Preempt See: jsonrpc2.Preempter.Preempt
//
// notifications/cancelled is handled here, on the read goroutine, so that it can reach a
// request that is still being handled.
func (h *handler) Preempt(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	if req.Method == MethodNotificationCancelled {
		var params notificationsCancelledParams
		if err := h.server.jsonUnmarshalFunc(req.Params, &params); err != nil {
			return nil, nil
		}
		h.cancelRequest(fmt.Sprint(params.RequestID), params.Reason)
		return nil, nil
	}
	return nil, jsonrpc2.ErrNotHandled
}

// Handle See: jsonrpc2.Handler.Handle
func (h *handler) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.connectionCtx, cancel)
	defer stop()

	if req.IsCall() {
		id := fmt.Sprint(req.ID.Raw())
		h.trackRequest(id, cancel)
		defer h.untrackRequest(id)
	}

	h.logger.Debug("handling request", zap.String("method", req.Method))
	switch req.Method {
	case MethodInitialize:
		return h.handleInitialize(req)
	case MethodInitializedNotification, MethodNotificationCancelled:
		return nil, nil
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return h.handleToolsList()
	case MethodToolsCall:
		return h.handleToolsCall(ctx, req)
	default:
		if !req.IsCall() {
			// unknown notifications are ignored
			return nil, nil
		}
		return nil, jsonrpc2.ErrMethodNotFound
	}
}

func (h *handler) trackRequest(id string, cancel context.CancelFunc) {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	h.inflight[id] = cancel
}

func (h *handler) untrackRequest(id string) {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	delete(h.inflight, id)
}

func (h *handler) cancelRequest(id, reason string) {
	h.inflightMu.Lock()
	cancel, ok := h.inflight[id]
	h.inflightMu.Unlock()
	if !ok {
		return
	}
	h.logger.Info("request cancelled by client", zap.String("request_id", id), zap.String("reason", reason))
	cancel()
}

// handleInitialize handles the initialization request.
func (h *handler) handleInitialize(req *jsonrpc2.Request) (any, error) {
	var params initializeRequestParams
	if err := h.server.jsonUnmarshalFunc(req.Params, &params); err != nil {
		return nil, jsonrpc2.ErrInvalidParams
	}

	protocolVersion := params.ProtocolVersion
	if support := SupportedProtocolVersions[protocolVersion]; !support {
		protocolVersion = LatestProtocolVersion
	}
	h.logger.Info("client initialized",
		zap.String("client", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("protocol_version", protocolVersion))

	return &initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    h.server.capabilities,
		ServerInfo: implementation{
			Name:    h.server.name,
			Version: h.server.version,
		},
	}, nil
}

// handleToolsList handles the request to list tools.
func (h *handler) handleToolsList() (any, error) {
	tools := slices.SortedFunc(maps.Values(h.server.tools), func(a, b Tool) int {
		return strings.Compare(a.Name, b.Name)
	})
	return &listToolsResult{
		Tools: tools,
	}, nil
}

// handleToolsCall handles the request to call a tool.
func (h *handler) handleToolsCall(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	var params callToolRequestParams
	if err := h.server.jsonUnmarshalFunc(req.Params, &params); err != nil {
		return nil, jsonrpc2.ErrInvalidParams
	}

	tool, toolAvailable := h.server.tools[params.Name]
	if !toolAvailable {
		return nil, jsonrpc2.NewError(codeInvalidParams, fmt.Sprintf(ErrorMessageUnknownTool, params.Name))
	}

	input, err := tool.input.decode(h.server.jsonUnmarshalFunc, params.Arguments)
	if err != nil {
		h.logger.Info("rejected tool arguments", zap.String("tool", params.Name), zap.Error(err))
		return nil, jsonrpc2.NewError(codeInvalidParams, fmt.Sprintf(ErrorMessageInvalidToolArguments, params.Name, err))
	}

	c := h.server.toolContextPool.Get().(*toolContext)
	dest := make([]CallToolContent, 0, 1)
	c.toolName = params.Name
	c.ctx = ctx
	c.jsonrpcRequest = req
	c.sessionID = h.sessionID
	c.logger = h.logger.With(zap.String("tool", params.Name))
	c.args = params.Arguments
	c.input = input
	c.dest = &dest

	defer func() {
		c.reset()
		h.server.toolContextPool.Put(c)
	}()

	if err := tool.handler(c); err != nil {
		h.logger.Error("tool failed", zap.String("tool", params.Name), zap.Error(err))
		return &CallToolResult{
			Content: []CallToolContent{
				&TextCallToolContent{Text: err.Error(), marshal: h.server.jsonMarshalFunc},
			},
			IsError: true,
		}, nil
	}
	return &CallToolResult{Content: dest}, nil
}
