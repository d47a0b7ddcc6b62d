package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/mcpbridge/config"
	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
	"github.com/mohammad-safakhou/mcpbridge/internal/telemetry"
	"github.com/mohammad-safakhou/mcpbridge/provider"
)

// fakeLLM scripts the provider per agent role, keyed on the system prompt.
type fakeLLM struct {
	mu           sync.Mutex
	routeJSON    string
	selectorJSON string
	evalJSON     []string
	writerOut    []string
	chatOut      string
	writerCalls  int
	evalCalls    int
}

func (f *fakeLLM) Complete(_ context.Context, msgs []provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sys := msgs[0].Content
	if strings.Contains(sys, "final-answer writer") {
		f.writerCalls++
		if len(f.writerOut) > 0 {
			out := f.writerOut[0]
			f.writerOut = f.writerOut[1:]
			return out, nil
		}
		return "", errors.New("writer unavailable")
	}
	if f.chatOut != "" {
		return f.chatOut, nil
	}
	return "ok", nil
}

func (f *fakeLLM) CompleteJSON(_ context.Context, msgs []provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sys := msgs[0].Content
	switch {
	case strings.Contains(sys, "routing controller"):
		if f.routeJSON != "" {
			return f.routeJSON, nil
		}
		return `{"route":"local_mcp","query":""}`, nil
	case strings.Contains(sys, "tool-selection"):
		if f.selectorJSON != "" {
			return f.selectorJSON, nil
		}
		return "", errors.New("selector unavailable")
	case strings.Contains(sys, "quality judge"):
		f.evalCalls++
		if len(f.evalJSON) > 0 {
			out := f.evalJSON[0]
			f.evalJSON = f.evalJSON[1:]
			return out, nil
		}
		return `{"pass":true,"score":90,"feedback":""}`, nil
	}
	return "", errors.New("unexpected completion")
}

// fakeHost is an httptest tool host speaking JSON-RPC plus the manifest GET,
// with an optional legacy (pre-JSON-RPC) mode.
type fakeHost struct {
	srv           *httptest.Server
	mu            sync.Mutex
	legacy        bool
	legacyAnswer  string
	tools         []mcphost.ToolDescriptor
	manifestTools []mcphost.ToolDescriptor
	results       map[string]func(call int, args map[string]any) map[string]any
	calls         map[string][]map[string]any
	initCalls     int
	legacyCalls   int
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{
		results: make(map[string]func(int, map[string]any) map[string]any),
		calls:   make(map[string][]map[string]any),
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.handle))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) endpoint() string { return h.srv.URL }

func (h *fakeHost) callCount(tool string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls[tool])
}

func (h *fakeHost) lastArgs(tool string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.calls[tool]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (h *fakeHost) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if h.manifestTools == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tools": h.manifestTools})
		return
	}
	body, _ := io.ReadAll(r.Body)
	var rpc struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      int64          `json:"id"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
	}
	if err := json.Unmarshal(body, &rpc); err != nil || rpc.JSONRPC == "" {
		h.mu.Lock()
		h.legacyCalls++
		h.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"answer": h.legacyAnswer})
		return
	}
	if h.legacy {
		if rpc.Method == "initialize" {
			h.mu.Lock()
			h.initCalls++
			h.mu.Unlock()
		}
		http.NotFound(w, r)
		return
	}
	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": rpc.ID, "result": result})
	}
	switch rpc.Method {
	case "initialize":
		h.mu.Lock()
		h.initCalls++
		h.mu.Unlock()
		reply(map[string]any{"protocolVersion": "2024-11-05"})
	case "tools/list":
		reply(map[string]any{"tools": h.tools})
	case "tools/call":
		name, _ := rpc.Params["name"].(string)
		args, _ := rpc.Params["arguments"].(map[string]any)
		h.mu.Lock()
		h.calls[name] = append(h.calls[name], args)
		count := len(h.calls[name])
		fn := h.results[name]
		h.mu.Unlock()
		if fn == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": rpc.ID,
				"error": map[string]any{"code": -32601, "message": "unknown tool " + name},
			})
			return
		}
		result := fn(count, args)
		if errObj, ok := result["__error"]; ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": rpc.ID, "error": errObj})
			return
		}
		reply(result)
	default:
		http.NotFound(w, r)
	}
}

type recordEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordEmitter) Emit(event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func newTestOrchestrator(t *testing.T, llm *fakeLLM, defaultPaths []string) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		MCP: config.MCPConfig{DefaultPaths: defaultPaths, Timeout: 5 * time.Second},
	}
	host := mcphost.New("", 5*time.Second, nil)
	return NewOrchestrator(cfg, llm, host, telemetry.New(nil), nil, nil)
}

func schemaArray() map[string]any  { return map[string]any{"type": "array", "items": map[string]any{"type": "string"}} }
func schemaString() map[string]any { return map[string]any{"type": "string"} }

func TestHandle_ChatOnlyRoute(t *testing.T) {
	llm := &fakeLLM{
		routeJSON: `{"route":"chat_only","query":"1+1은 뭐야?","explanation":"arithmetic"}`,
		chatOut:   "2입니다.",
	}
	o := newTestOrchestrator(t, llm, nil)
	emitter := &recordEmitter{}
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "1+1은 뭐야?"}, emitter)

	if resp.Action != "chat-only" || resp.Route != RouteChatOnly {
		t.Fatalf("expected chat-only response, got %+v", resp)
	}
	if resp.MCPStatus != 200 {
		t.Fatalf("expected mcpStatus 200, got %d", resp.MCPStatus)
	}
	if resp.Tool != "" {
		t.Fatalf("expected no tool on chat route, got %q", resp.Tool)
	}
	if resp.QualityCheck == nil || resp.QualityCheck.Score < 0 || resp.QualityCheck.Score > 100 {
		t.Fatalf("expected bounded quality check, got %+v", resp.QualityCheck)
	}
	if emitter.events[0] != "route" {
		t.Fatalf("expected route event first, got %v", emitter.events)
	}
}

func TestHandle_SummaryWithPathDiscovery(t *testing.T) {
	host := newFakeHost(t)
	host.tools = []mcphost.ToolDescriptor{
		toolWithSchema("list_docs", map[string]any{"paths": schemaArray(), "extensions": schemaArray()}),
		toolWithSchema("rebuild_summary", map[string]any{"paths": schemaArray(), "output_path": schemaString()}, "paths", "output_path"),
	}
	host.results["list_docs"] = func(int, map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{"paths": []any{"notes/a.md", "notes/b.md"}}}
	}
	host.results["rebuild_summary"] = func(_ int, args map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{"ok": true, "summary": "요약 완료", "output_path": "output.md"}}
	}

	llm := &fakeLLM{
		routeJSON:    `{"route":"local_mcp","query":"오늘 노트 요약해줘"}`,
		selectorJSON: `{"tool":"rebuild_summary","tool_arguments":{},"routed_query":"오늘 노트 요약해줘"}`,
	}
	o := newTestOrchestrator(t, llm, nil)
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "오늘 노트 요약해줘", Endpoint: host.endpoint()}, DiscardEmitter())

	if resp.Tool != "rebuild_summary" {
		t.Fatalf("expected rebuild_summary, got %q (answer %q)", resp.Tool, resp.Answer)
	}
	args := host.lastArgs("rebuild_summary")
	paths, _ := args["paths"].([]any)
	if len(paths) != 2 || paths[0] != "notes/a.md" || paths[1] != "notes/b.md" {
		t.Fatalf("expected discovered paths, got %v", args["paths"])
	}
	if args["output_path"] != "output.md" {
		t.Fatalf("expected output.md, got %v", args["output_path"])
	}
	if host.callCount("list_docs") != 1 {
		t.Fatalf("expected one discovery call, got %d", host.callCount("list_docs"))
	}
	if resp.AgentTrace == nil || !resp.AgentTrace.DiscoveryAttempted {
		t.Fatalf("expected discovery recorded in trace, got %+v", resp.AgentTrace)
	}
}

func TestHandle_SearchEmptyHitsRetry(t *testing.T) {
	host := newFakeHost(t)
	host.tools = []mcphost.ToolDescriptor{
		toolWithSchema("search", map[string]any{"query": schemaString(), "paths": schemaArray()}, "query"),
		toolWithSchema("list_docs", map[string]any{"paths": schemaArray(), "extensions": schemaArray()}),
	}
	host.results["search"] = func(call int, args map[string]any) map[string]any {
		if call == 1 {
			return map[string]any{"structuredContent": map[string]any{"hits": []any{}}}
		}
		return map[string]any{"structuredContent": map[string]any{
			"hits": []any{map[string]any{"path": "notes/a.md", "title": "React"}},
		}}
	}
	host.results["list_docs"] = func(int, map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{"paths": []any{"notes/a.md"}}}
	}

	llm := &fakeLLM{
		routeJSON:    `{"route":"local_mcp","query":"React 관련 내용 찾아줘"}`,
		selectorJSON: `{"tool":"search","tool_arguments":{"query":"React"},"routed_query":"React 관련 내용 찾아줘"}`,
	}
	o := newTestOrchestrator(t, llm, []string{"notes/"})
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "React 관련 내용 찾아줘", Endpoint: host.endpoint()}, DiscardEmitter())

	if host.callCount("search") != 2 {
		t.Fatalf("expected search retried once, got %d calls", host.callCount("search"))
	}
	if host.callCount("list_docs") != 1 {
		t.Fatalf("expected one list_docs call, got %d", host.callCount("list_docs"))
	}
	listArgs := host.lastArgs("list_docs")
	exts, _ := listArgs["extensions"].([]any)
	if len(exts) != 2 || exts[0] != ".md" || exts[1] != ".txt" {
		t.Fatalf("expected .md/.txt extensions, got %v", listArgs["extensions"])
	}
	retryArgs := host.lastArgs("search")
	paths, _ := retryArgs["paths"].([]any)
	if len(paths) != 1 || paths[0] != "notes/a.md" {
		t.Fatalf("expected retried search paths, got %v", retryArgs["paths"])
	}
	sc, _ := resp.Result["structuredContent"].(map[string]any)
	hits, _ := sc["hits"].([]any)
	if len(hits) == 0 {
		t.Fatalf("expected non-empty hits after retry")
	}
	if resp.AgentTrace == nil || !resp.AgentTrace.SearchRetried {
		t.Fatalf("expected search retry in trace, got %+v", resp.AgentTrace)
	}
}

func TestHandle_GitHubPRWorkflowBlocked(t *testing.T) {
	host := newFakeHost(t)
	host.tools = []mcphost.ToolDescriptor{
		toolWithSchema("sync_status", map[string]any{}),
		toolWithSchema("pull_changes", map[string]any{}),
		toolWithSchema("create_pr", map[string]any{}),
	}
	host.results["sync_status"] = func(int, map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{
			"is_clean": false, "ready_for_pr": false, "ready_for_pull": false,
		}}
	}

	llm := &fakeLLM{routeJSON: `{"route":"local_mcp","query":"PR 생성해줘"}`}
	o := newTestOrchestrator(t, llm, nil)
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "PR 생성해줘", Endpoint: host.endpoint()}, DiscardEmitter())

	if !resp.RequiresInput || resp.Missing != MissingWorkspaceState {
		t.Fatalf("expected workspace_state gap, got %+v", resp)
	}
	if resp.Answer == "" {
		t.Fatalf("expected non-empty answer on requiresInput")
	}
	if host.callCount("pull_changes") != 0 || host.callCount("create_pr") != 0 {
		t.Fatalf("expected gated steps skipped, got pull=%d create=%d",
			host.callCount("pull_changes"), host.callCount("create_pr"))
	}
	trace := resp.AgentTrace
	if trace == nil || trace.WorkflowProceeded == nil || *trace.WorkflowProceeded {
		t.Fatalf("expected workflow.proceeded == false, got %+v", trace)
	}
	if len(trace.WorkflowSteps) != 3 {
		t.Fatalf("expected 3 step traces, got %d", len(trace.WorkflowSteps))
	}
	for _, step := range trace.WorkflowSteps {
		if step.Executed || step.SkipReason == "" {
			t.Fatalf("expected skipped step with reason, got %+v", step)
		}
	}
}

func TestHandle_LegacyHost(t *testing.T) {
	host := newFakeHost(t)
	host.legacy = true
	host.legacyAnswer = "legacy says hi"

	llm := &fakeLLM{routeJSON: `{"route":"local_mcp","query":"안녕"}`}
	o := newTestOrchestrator(t, llm, nil)
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "안녕", Endpoint: host.endpoint()}, DiscardEmitter())

	if resp.Answer != "legacy says hi" {
		t.Fatalf("expected legacy answer, got %q", resp.Answer)
	}
	if resp.Tool != "" || resp.Arguments != nil {
		t.Fatalf("expected no tool fields in legacy mode, got %+v", resp)
	}
	if host.initCalls != 1 || host.legacyCalls != 1 {
		t.Fatalf("expected exactly init+legacy POSTs, got init=%d legacy=%d", host.initCalls, host.legacyCalls)
	}
	if resp.AgentTrace == nil || !resp.AgentTrace.LegacyMode {
		t.Fatalf("expected legacy mode in trace, got %+v", resp.AgentTrace)
	}
}

func TestHandle_PathIssueRetry(t *testing.T) {
	host := newFakeHost(t)
	host.tools = []mcphost.ToolDescriptor{
		toolWithSchema("rebuild_summary", map[string]any{"paths": schemaArray(), "output_path": schemaString()}, "paths", "output_path"),
		toolWithSchema("list_docs", map[string]any{"paths": schemaArray(), "extensions": schemaArray(), "glob": schemaString()}),
	}
	host.results["rebuild_summary"] = func(call int, args map[string]any) map[string]any {
		if call == 1 {
			return map[string]any{"__error": map[string]any{"code": -32000, "message": "invalid paths: no valid files"}}
		}
		return map[string]any{"structuredContent": map[string]any{"ok": true, "summary": "재시도 성공", "output_path": "output.md"}}
	}
	host.results["list_docs"] = func(int, map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{"paths": []any{"notes/a.md", "notes/skip.txt"}}}
	}

	llm := &fakeLLM{
		routeJSON:    `{"route":"local_mcp","query":"요약해줘"}`,
		selectorJSON: `{"tool":"rebuild_summary","tool_arguments":{"paths":["notes/"]},"routed_query":"요약해줘"}`,
	}
	o := newTestOrchestrator(t, llm, []string{"notes/"})
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "요약해줘", Endpoint: host.endpoint()}, DiscardEmitter())

	if host.callCount("rebuild_summary") != 2 {
		t.Fatalf("expected exactly two summary calls, got %d", host.callCount("rebuild_summary"))
	}
	retryArgs := host.lastArgs("rebuild_summary")
	paths, _ := retryArgs["paths"].([]any)
	if len(paths) != 1 || paths[0] != "notes/a.md" {
		t.Fatalf("expected only .md paths on retry, got %v", retryArgs["paths"])
	}
	if resp.AgentTrace == nil || !resp.AgentTrace.Retried {
		t.Fatalf("expected retried trace, got %+v", resp.AgentTrace)
	}
	if !resp.Successful() {
		t.Fatalf("expected successful retry, got status %d", resp.MCPStatus)
	}
}

func TestHandle_NoUsableTools(t *testing.T) {
	host := newFakeHost(t)
	host.tools = nil

	llm := &fakeLLM{routeJSON: `{"route":"local_mcp","query":"검색해줘"}`}
	o := newTestOrchestrator(t, llm, nil)
	resp := o.Handle(context.Background(), ChatRequest{Prompt: "검색해줘", Endpoint: host.endpoint()}, DiscardEmitter())

	if !resp.RequiresInput || resp.Missing != MissingExecutionPlan {
		t.Fatalf("expected execution_plan gap, got %+v", resp)
	}
	if resp.Answer == "" {
		t.Fatalf("expected non-empty answer on requiresInput")
	}
}
