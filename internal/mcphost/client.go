package mcphost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const protocolVersion = "2024-11-05"

// Client speaks JSON-RPC 2.0 over HTTP to the local tool host, plus the
// conventional manifest GET. One client serves any number of concurrent
// requests; per-call state lives in the arguments.
type Client struct {
	httpClient *http.Client
	token      string
	logger     *log.Logger
	seq        atomic.Int64
}

// New creates a tool-host client. token may be empty.
func New(token string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		logger:     logger,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Call performs one JSON-RPC call and normalises the reply. Transport
// failures and unparseable bodies with a status below 400 come back as an
// error; an unparseable body with status >= 400 comes back as a CallResult
// carrying that status and the raw body; JSON-RPC error objects come back
// inside the CallResult.
func (c *Client) Call(ctx context.Context, endpoint, method string, params map[string]any) (*CallResult, error) {
	req := rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	result := &CallResult{Status: resp.StatusCode, Raw: string(raw)}
	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return result, nil
		}
		return nil, fmt.Errorf("parsing %s response: %w", method, err)
	}
	if envelope.Error != nil {
		result.Err = envelope.Error
		if result.Status < 400 {
			result.Status = http.StatusBadGateway
		}
		return result, nil
	}
	result.Result = envelope.Result
	return result, nil
}

// Initialize runs the standard bootstrap handshake. A 404 means the host is
// a legacy plain-POST server and the caller should switch to LegacyChat.
func (c *Client) Initialize(ctx context.Context, endpoint string) (InitResult, error) {
	res, err := c.Call(ctx, endpoint, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return InitResult{}, err
	}
	if res.Status == http.StatusNotFound {
		return InitResult{Legacy: true, Status: res.Status}, nil
	}
	if res.Err != nil {
		return InitResult{}, fmt.Errorf("initialize failed: %s", res.Err.Message)
	}
	if res.Status >= 400 {
		if msg := hostMessage(res.Raw); msg != "" {
			return InitResult{}, fmt.Errorf("initialize failed (%d): %s", res.Status, msg)
		}
		return InitResult{}, fmt.Errorf("initialize failed with status %d", res.Status)
	}
	return InitResult{Status: res.Status}, nil
}

// hostMessage digs an error/message string out of a raw host reply.
func hostMessage(raw string) string {
	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message", "detail"} {
		switch v := body[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any:
			if s, ok := v["message"].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// LegacyChat POSTs {prompt, conversation} to a pre-JSON-RPC host and treats
// the plain reply as the final answer.
func (c *Client) LegacyChat(ctx context.Context, endpoint, prompt string, conversation []Turn) (int, string, error) {
	payload := map[string]any{"prompt": prompt}
	if len(conversation) > 0 {
		payload["conversation"] = conversation
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("creating legacy request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("legacy call failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading legacy response: %w", err)
	}

	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		for _, key := range []string{"answer", "response", "message", "text", "result"} {
			if s, ok := parsed[key].(string); ok && strings.TrimSpace(s) != "" {
				return resp.StatusCode, s, nil
			}
		}
	}
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

// ManifestURL derives the conventional manifest location from the endpoint.
func ManifestURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case path == "" || path == "/api/mcp/chat":
		u.Path = "/mcp/manifest"
	case strings.HasSuffix(path, "/mcp"):
		u.Path = path + "/manifest"
	default:
		u.Path = path + "/manifest"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// FetchManifest GETs the manifest. Failures are non-fatal: the context
// records the attempt and its error, and carries an empty tools list.
func (c *Client) FetchManifest(ctx context.Context, endpoint string) ManifestContext {
	target := ManifestURL(endpoint)
	mc := ManifestContext{TargetURL: target, ManifestAttempt: true}
	if target == "" {
		mc.Error = "manifest URL could not be derived"
		return mc
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		mc.Error = err.Error()
		return mc
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		mc.Error = err.Error()
		return mc
	}
	defer resp.Body.Close()
	mc.Status = resp.StatusCode
	if resp.StatusCode >= 400 {
		mc.Error = fmt.Sprintf("manifest fetch returned %d", resp.StatusCode)
		return mc
	}
	var doc struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		mc.Error = fmt.Sprintf("manifest parse failed: %v", err)
		return mc
	}
	mc.OK = true
	mc.Tools = dropUnnamed(doc.Tools)
	return mc
}

// ListTools POSTs tools/list and decodes the advertised descriptors.
func (c *Client) ListTools(ctx context.Context, endpoint string) ([]ToolDescriptor, int, error) {
	res, err := c.Call(ctx, endpoint, "tools/list", nil)
	if err != nil {
		return nil, 0, err
	}
	if res.Err != nil {
		return nil, res.Status, fmt.Errorf("tools/list failed: %s", res.Err.Message)
	}
	if res.Status >= 400 {
		return nil, res.Status, fmt.Errorf("tools/list returned %d", res.Status)
	}
	raw, ok := res.Result["tools"].([]any)
	if !ok {
		return nil, res.Status, fmt.Errorf("tools/list returned no tools array")
	}
	tools := make([]ToolDescriptor, 0, len(raw))
	for _, v := range raw {
		b, _ := json.Marshal(v)
		var t ToolDescriptor
		if json.Unmarshal(b, &t) == nil {
			tools = append(tools, t)
		}
	}
	return dropUnnamed(tools), res.Status, nil
}

// CallTool POSTs tools/call for the named tool.
func (c *Client) CallTool(ctx context.Context, endpoint, name string, arguments map[string]any) (*CallResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.Call(ctx, endpoint, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}

// MergeTools merges manifest tools with tools/list output. For each manifest
// tool the same-named listed entry wins on scalar fields and is shallow-merged
// into inputSchema; listed tools absent from the manifest are appended.
func MergeTools(manifest, listed []ToolDescriptor) []ToolDescriptor {
	manifest = dropUnnamed(manifest)
	listed = dropUnnamed(listed)
	if len(manifest) == 0 {
		return listed
	}
	byName := make(map[string]ToolDescriptor, len(listed))
	for _, t := range listed {
		byName[t.Name] = t
	}
	seen := make(map[string]struct{}, len(manifest))
	out := make([]ToolDescriptor, 0, len(manifest)+len(listed))
	for _, m := range manifest {
		seen[m.Name] = struct{}{}
		l, ok := byName[m.Name]
		if !ok {
			out = append(out, m)
			continue
		}
		merged := m
		if l.Description != "" {
			merged.Description = l.Description
		}
		merged.InputSchema = mergeSchemas(m.InputSchema, l.InputSchema)
		out = append(out, merged)
	}
	for _, l := range listed {
		if _, ok := seen[l.Name]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// mergeSchemas shallow-merges override onto base. Nested property schemas are
// replaced wholesale per key, never deep-merged.
func mergeSchemas(base, override map[string]any) map[string]any {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func dropUnnamed(tools []ToolDescriptor) []ToolDescriptor {
	out := tools[:0:0]
	for _, t := range tools {
		if strings.TrimSpace(t.Name) != "" {
			out = append(out, t)
		}
	}
	return out
}
