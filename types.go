package mcpweather

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

const (
	ProtocolVersion20250326 string = "2025-03-26"
	ProtocolVersion20241105 string = "2024-11-05"
	ProtocolVersion20241007 string = "2024-10-07"
	LatestProtocolVersion          = ProtocolVersion20250326
)

var SupportedProtocolVersions = map[string]bool{
	LatestProtocolVersion:   true,
	ProtocolVersion20241105: true,
	ProtocolVersion20241007: true,
}

const (
	// MethodInitialize Initiates connection and negotiates protocol capabilities.
	// https://modelcontextprotocol.io/specification/2024-11-05/basic/lifecycle/#initialization
	MethodInitialize string = "initialize"

	// MethodPing Verifies connection liveness between client and server.
	// https://modelcontextprotocol.io/specification/2024-11-05/basic/utilities/ping/
	MethodPing string = "ping"

	// MethodToolsList Lists all available executable tools.
	// https://modelcontextprotocol.io/specification/2024-11-05/server/tools/
	MethodToolsList string = "tools/list"

	// MethodToolsCall Invokes a specific Tool with provided parameters.
	// https://modelcontextprotocol.io/specification/2024-11-05/server/tools/
	MethodToolsCall string = "tools/call"

	// MethodInitializedNotification is sent by the client once initialization has finished.
	MethodInitializedNotification = "notifications/initialized"

	// MethodNotificationCancelled is sent to cancel a previously-issued request.
	// https://modelcontextprotocol.io/specification/2024-11-05/basic/utilities/cancellation/
	MethodNotificationCancelled = "notifications/cancelled"
)

// implementation describes the name and version of an MCP implementation.
type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeRequestParams sent from the client to the server when it first connects, asking it to begin initialization.
type initializeRequestParams struct {
	// ProtocolVersion is the latest version of the Model Context Protocol that the client supports.
	//
	// The client MAY decide to support older versions as well.
	ProtocolVersion string `json:"protocolVersion"`

	Capabilities clientCapabilities `json:"capabilities"`

	ClientInfo implementation `json:"clientInfo"`
}

// clientCapabilities is a set of capabilities a client may support.
type clientCapabilities struct {
	// Experimental is non-standard capabilities that the client supports.
	Experimental map[string]any `json:"experimental,omitzero"`

	// Sampling presents if the client supports sampling from an LLM.
	Sampling map[string]any `json:"sampling,omitzero"`

	// Roots presents if the client supports listing roots.
	Roots *RootsCapability `json:"roots,omitzero"`
}

// RootsCapability represents the client's capability to support roots features.
type RootsCapability struct {
	// ListChanged indicates whether the client supports notifications for changes to the roots list.
	ListChanged bool `json:"listChanged,omitzero"`
}

// callToolRequestParams is used by the client to invoke a Tool provided by the server.
type callToolRequestParams struct {
	// Name is the name of the Tool.
	Name string `json:"name"`

	// Arguments contains the arguments to use for the Tool.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// notificationsCancelledParams is sent by either side to indicate that it is cancelling a previously-issued request.
type notificationsCancelledParams struct {
	// RequestID is the ID of the request to cancel.
	RequestID any `json:"requestId"`
	// Reason is an optional string describing the reason for the cancellation.
	Reason string `json:"reason"`
}

// ServerCapabilities is a set of capabilities defined here, but this is not a closed set:
// any server can define its own, additional capabilities.
type ServerCapabilities struct {
	// Experimental contains non-standard capabilities that the server supports.
	Experimental map[string]any `json:"experimental,omitzero"`

	// Tools present if the server offers any tools to call.
	Tools *ToolCapability `json:"tools,omitzero"`
}

// ToolCapability represents server capabilities for tools.
type ToolCapability struct {
	// ListChanged indicates this server supports notifications for changes to the Tool list if true.
	ListChanged bool `json:"listChanged,omitzero"`
}

// initializeResult sent from the server after receiving an initialize request from the client.
type initializeResult struct {
	// ProtocolVersion is the version of the Model Context Protocol that the server wants to use.
	// This may not match the version that the client requested.
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      implementation     `json:"serverInfo"`
}

// Tool defines a Tool that the client can call.
type Tool struct {
	// Name of the Tool.
	Name string `json:"name"`

	// Description of the Tool that is human-readable.
	Description string `json:"description,omitzero"`

	// InputSchema defines the arguments that the Tool accepts in JSON Schema format.
	InputSchema *jsonschema.Schema `json:"inputSchema"`

	// Annotations hint to the client about the Tool's behavior.
	Annotations *ToolAnnotations `json:"annotations,omitzero"`

	// input decodes and validates the arguments before handler runs.
	input toolInput `json:"-"`

	// handler handles invoke the Tool with the provided arguments.
	handler ToolHandlerFunc `json:"-"`
}

// ToolAnnotations represents additional properties describing a Tool to clients.
//
// NOTE: all properties in ToolAnnotations are **hints**.
type ToolAnnotations struct {
	// Title is a human-readable title for the Tool.
	Title string `json:"title,omitzero"`

	// ReadOnlyHint indicates the Tool does not modify its environment if true
	ReadOnlyHint bool `json:"readOnlyHint,omitzero"`

	// DestructiveHint indicates whether the Tool may perform destructive updates to its environment if true.
	DestructiveHint bool `json:"destructiveHint,omitzero"`

	// IdempotentHint indicates that calling the Tool repeatedly with the same arguments
	// will have no additional effect on the its environment if true.
	IdempotentHint bool `json:"idempotentHint,omitzero"`

	// OpenWorldHint indicates this Tool may interact with an "open world" of external entities if true.
	OpenWorldHint bool `json:"openWorldHint,omitzero"`
}

type listToolsResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
	Tools      []Tool `json:"tools"`
}

// CallToolContent is one content block of a tool result.
type CallToolContent interface {
	GetType() string
}

// compatibility check
var _ CallToolContent = (*TextCallToolContent)(nil)

// TextCallToolContent is a text content block.
type TextCallToolContent struct {
	Text    string
	marshal JSONMarshalFunc
}

func (t *TextCallToolContent) MarshalJSON() ([]byte, error) {
	marshal := t.marshal
	if marshal == nil {
		marshal = json.Marshal
	}
	return marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{
		Type: t.GetType(),
		Text: t.Text,
	})
}

func (t *TextCallToolContent) GetType() string {
	return "text"
}

// CallToolResult is the server's response to a tools/call request.
//
// Failures of the tool itself are reported here, with IsError set, rather than as a
// JSON-RPC error.
type CallToolResult struct {
	Content []CallToolContent `json:"content"`
	IsError bool              `json:"isError,omitzero"`
}
