// Package mcp defines the gateway's transport-agnostic wire types
// (spec §6): Request/Response values the core consumes and returns, with
// framing (stdio or HTTP) left to an external transport.
//
// Params is modeled as an open `map[string]any` rather than a generated
// per-tool struct (spec.md §9 design notes: "the core must not assume a
// schema"); each tool handler decodes the subset of params it cares about.
// The shape of a tool result rendered as a text content block is informed
// by the pack's gasoline MCP devtools repo (internal/mcp/types.go's
// MCPContentBlock/MCPToolResult), reimplemented here rather than imported
// since gasoline is reference material, not the chosen teacher.
package mcp

// Request is the transport-agnostic call shape (spec.md §6). For tool
// calls, Params["name"] carries the tool name, Params["arguments"] carries
// the tool's argument object, and Params["_token"] carries the bearer
// token.
type Request struct {
	Method  string
	Params  map[string]interface{}
	Headers map[string]string
}

// StringParam reads a string-valued key out of Params, returning ("",
// false) if absent or not a string.
func (r Request) StringParam(key string) (string, bool) {
	if r.Params == nil {
		return "", false
	}
	v, ok := r.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MapParam reads a map-valued key out of Params, returning (nil, false) if
// absent or not a map.
func (r Request) MapParam(key string) (map[string]interface{}, bool) {
	if r.Params == nil {
		return nil, false
	}
	v, ok := r.Params[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// ResponseError is the transport-agnostic error shape (spec.md §6). Code
// mapping (HTTP status, JSON-RPC code, ...) is the transport's job; the
// core fills Code with the failing Kind's name and Message with the error
// text, and leaves Data empty.
type ResponseError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Response is either a successful Result or an Error, never both.
type Response struct {
	Result interface{}   `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ContentBlock is one piece of a rendered tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is how HandleCallTool renders a successful handler result
// (spec.md §4.7 step 9: "return the result rendered as a text payload").
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ToolDescriptor is one entry in HandleListTools' response (spec.md §4.7).
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}
