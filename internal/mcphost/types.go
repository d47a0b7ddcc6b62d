package mcphost

import (
	"encoding/json"
	"strings"
)

// ToolDescriptor describes a single tool advertised by the host, either via
// tools/list or the static manifest. InputSchema is a JSON-schema-shaped
// untyped map; the accessors below are the typed views agent code relies on.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Properties returns the schema's property map. Each entry is the raw
// per-property schema (type, items, ...).
func (t ToolDescriptor) Properties() map[string]map[string]any {
	props, ok := t.InputSchema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]map[string]any, len(props))
	for name, raw := range props {
		if m, ok := raw.(map[string]any); ok {
			out[name] = m
		} else {
			out[name] = map[string]any{}
		}
	}
	return out
}

// Required returns the schema's required property names in declaration order.
func (t ToolDescriptor) Required() []string {
	raw, ok := t.InputSchema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasProperty reports whether the schema declares the named property.
func (t ToolDescriptor) HasProperty(name string) bool {
	_, ok := t.Properties()[name]
	return ok
}

// RequiresKey reports whether the named property is in the required set.
func (t ToolDescriptor) RequiresKey(name string) bool {
	for _, r := range t.Required() {
		if r == name {
			return true
		}
	}
	return false
}

// PropertyType returns the declared type of a property, or "".
func (t ToolDescriptor) PropertyType(name string) string {
	p, ok := t.Properties()[name]
	if !ok {
		return ""
	}
	s, _ := p["type"].(string)
	return s
}

// ManifestContext is the once-per-request snapshot of the host bootstrap:
// initialize outcome plus the manifest fetch merged with tools/list.
// Immutable after planning.
type ManifestContext struct {
	OK              bool             `json:"ok"`
	Status          int              `json:"status"`
	TargetURL       string           `json:"targetUrl"`
	Tools           []ToolDescriptor `json:"tools"`
	ManifestAttempt bool             `json:"manifestAttempt"`
	Error           string           `json:"error,omitempty"`
	Initialized     bool             `json:"initialized"`
	Legacy          bool             `json:"legacy,omitempty"`
}

// FindTool returns the descriptor with the given name, if listed.
func (m ManifestContext) FindTool(name string) (ToolDescriptor, bool) {
	for _, t := range m.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// Turn is one prior conversation message forwarded to the legacy host.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  map[string]any  `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// CallResult is the normalised outcome of one JSON-RPC exchange.
// Exactly one of the structured content, the content list, or the error is
// meaningful; everything else is fallback.
type CallResult struct {
	Status int            `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Err    *RPCError      `json:"error,omitempty"`
	Raw    string         `json:"raw,omitempty"`
}

// Successful reports whether the call completed below the error threshold.
func (r *CallResult) Successful() bool {
	return r != nil && r.Err == nil && r.Status < 400
}

// Structured returns result.structuredContent when present.
func (r *CallResult) Structured() map[string]any {
	if r == nil || r.Result == nil {
		return nil
	}
	sc, _ := r.Result["structuredContent"].(map[string]any)
	return sc
}

// ContentTexts returns the text fields of result.content[], in order.
func (r *CallResult) ContentTexts() []string {
	if r == nil || r.Result == nil {
		return nil
	}
	items, ok := r.Result["content"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if txt, ok := m["text"].(string); ok && strings.TrimSpace(txt) != "" {
			out = append(out, txt)
		}
	}
	return out
}

// ErrorMessage returns the JSON-RPC error message, if any.
func (r *CallResult) ErrorMessage() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Message
}

// InitResult is the outcome of the initialize bootstrap step.
type InitResult struct {
	Legacy bool
	Status int
}
