package mcpweather

import "errors"

const (
	// ErrorMessageInvalidToolArguments is the JSON-RPC error message for tool arguments that
	// cannot be decoded or fail validation.
	ErrorMessageInvalidToolArguments = "Invalid arguments for tool %s: %s"

	// ErrorMessageUnknownTool is the JSON-RPC error message for a tools/call naming an
	// unregistered tool.
	ErrorMessageUnknownTool = "Unknown tool: %s"
)

var (
	ErrLockingConflicts = errors.New(
		"server is already running or there is a configuration process conflict",
	)
)
