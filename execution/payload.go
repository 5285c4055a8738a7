// Package execution is the only sanctioned path into a module's RunTool.
// Calls are normalized defensively and never panic or return errors.
package execution

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Failure reasons carried by a Result.
const (
	ReasonUnsupportedAction   = "unsupported_action"
	ReasonToolExecutionFailed = "tool_execution_failed"
	ReasonMissingTool         = "missing_tool"
)

// DefaultActions is used when no supported action list is configured.
var DefaultActions = []string{"run", "execute", "format", "validate", "convert", "transform", "preview"}

// Payload is a normalized action call.
type Payload struct {
	Action        string `json:"action"`
	Input         string `json:"input"`
	IsValidAction bool   `json:"isValidAction"`
}

// NormalizePayload derives a payload from arbitrary caller values. The
// action must be a non-empty string in supported (DefaultActions when
// supported is empty). Input may be a string, []byte, fmt.Stringer, number
// or bool; nil becomes the empty string. DOM nodes and other structures make
// the payload invalid.
func NormalizePayload(action, input any, supported []string) Payload {
	name, ok := action.(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Payload{}
	}
	if len(supported) == 0 {
		supported = DefaultActions
	}
	if !slices.Contains(supported, name) {
		return Payload{Action: name}
	}

	text, ok := normalizeInput(input)
	if !ok {
		return Payload{Action: name}
	}
	return Payload{Action: name, Input: text, IsValidAction: true}
}

func normalizeInput(v any) (string, bool) {
	switch in := v.(type) {
	case nil:
		return "", true
	case string:
		return in, true
	case []byte:
		return string(in), true
	case *html.Node:
		return "", false
	case bool:
		return strconv.FormatBool(in), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", in), true
	case float32:
		return strconv.FormatFloat(float64(in), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(in, 'g', -1, 64), true
	case fmt.Stringer:
		return in.String(), true
	}
	return "", false
}
