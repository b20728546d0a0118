package mcpweather

import (
	"strings"
)

// Violation describes one rule an input field breaks.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Violations is the result of validating a tool input. An empty Violations means the input
// is acceptable.
type Violations []Violation

// Error implements error.
func (v Violations) Error() string {
	parts := make([]string, 0, len(v))
	for _, violation := range v {
		parts = append(parts, violation.String())
	}
	return strings.Join(parts, "; ")
}

// Add appends a violation for field.
func (v *Violations) Add(field, message string) {
	*v = append(*v, Violation{Field: field, Message: message})
}

// Validator is implemented by tool inputs.
//
// Validate must not have side effects. A tool handler is only invoked for inputs whose
// Validate returns no violations.
type Validator interface {
	Validate() Violations
}
