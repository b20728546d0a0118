package mcpweather

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/jsonrpc2"
)

type Context interface {
	// Get retrieves data from the context.
	Get(key any) any
	// Set saves data in the context.
	Set(key any, val any)
	// JSONRPCRequest returns the JSONRPC request
	JSONRPCRequest() jsonrpc2.Request
	// Context returns the context
	Context() context.Context
	// SetContext sets the context
	SetContext(ctx context.Context)
	// SessionID returns the id of the session the request arrived on
	SessionID() string
	// Logger returns a logger carrying the request fields
	Logger() *zap.Logger
}

var _ Context = (*_context)(nil)

type _context struct {
	ctx               context.Context
	store             sync.Map
	jsonrpcRequest    *jsonrpc2.Request
	sessionID         string
	logger            *zap.Logger
	jsonUnmarshalFunc JSONUnmarshalFunc
	jsonMarshalFunc   JSONMarshalFunc
}

func (c *_context) Get(key any) any {
	v, _ := c.store.Load(key)
	return v
}

func (c *_context) Set(key any, val any) {
	c.store.Store(key, val)
}

func (c *_context) JSONRPCRequest() jsonrpc2.Request {
	return *c.jsonrpcRequest
}

func (c *_context) Context() context.Context {
	return c.ctx
}

func (c *_context) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *_context) SessionID() string {
	return c.sessionID
}

func (c *_context) Logger() *zap.Logger {
	return c.logger
}

func (c *_context) reset() {
	c.store.Clear()
	c.jsonrpcRequest = nil
	c.ctx = nil
	c.sessionID = ""
	c.logger = nil
}

// BindableContext is the context for handlers that able to bind JSON data
type BindableContext interface {
	Context
	// Bind binds the tool input into the provided pointer `i`.
	//
	// When `i` has the type the tool was registered with, the already validated input is
	// copied; otherwise the raw arguments are decoded into `i`.
	Bind(i any) error
}

// ToolContext is the context for Tool handlers
type ToolContext interface {
	BindableContext
	// ToolName returns the name of the Tool
	ToolName() string
	// Arguments return the arguments passed to the Tool
	Arguments() json.RawMessage
	// String sends plain text content
	String(s string) error
}

var (
	_ Context     = (*toolContext)(nil)
	_ ToolContext = (*toolContext)(nil)
)

type toolContext struct {
	_context
	toolName string
	args     json.RawMessage
	input    reflect.Value
	dest     *[]CallToolContent
}

func (c *toolContext) Arguments() json.RawMessage {
	return c.args
}

func (c *toolContext) Bind(i any) error {
	if c.input.IsValid() {
		rv := reflect.ValueOf(i)
		if rv.Type() == c.input.Type() && !rv.IsNil() {
			rv.Elem().Set(c.input.Elem())
			return nil
		}
	}
	args := c.Arguments()
	if len(args) == 0 {
		return nil
	}
	return c.jsonUnmarshalFunc(args, i)
}

func (c *toolContext) String(s string) error {
	*c.dest = append(*c.dest, &TextCallToolContent{
		Text:    s,
		marshal: c.jsonMarshalFunc,
	})
	return nil
}

func (c *toolContext) ToolName() string {
	return c.toolName
}

// reset resets the Tool context
func (c *toolContext) reset() {
	c._context.reset()
	c.toolName = ""
	c.dest = nil
	c.args = nil
	c.input = reflect.Value{}
}

// newToolContext creates a new Tool context
func newToolContext(jsonUnmarshalFunc JSONUnmarshalFunc, jsonMarshalFunc JSONMarshalFunc) *toolContext {
	return &toolContext{
		_context: _context{
			jsonUnmarshalFunc: jsonUnmarshalFunc,
			jsonMarshalFunc:   jsonMarshalFunc,
		},
	}
}
