package agent

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
)

// summaryIntentRE spots summarisation intent in the routed query.
var summaryIntentRE = regexp.MustCompile(`요약|정리|summary|summar`)

// searchToolRE marks tools whose empty hit lists are worth a retry.
var searchToolRE = regexp.MustCompile(`search|query|find|lookup`)

// discoveryHints mark tools usable as a path-discovery fallback.
var discoveryHints = []string{"search", "scan", "find", "discover", "list", "index"}

// ExecRequest is one tool-execution order for the MCP agent.
type ExecRequest struct {
	Endpoint     string
	Prompt       string
	Plan         *ExecutionPlan
	Conversation []Turn
	Manifest     mcphost.ManifestContext
	Emitter      Emitter
	Trace        *PlanTrace
}

// MCPAgent drives the tool-host bootstrap and executes a single planned tool
// call with path discovery, search retry and summary chaining.
type MCPAgent struct {
	host         *mcphost.Client
	defaultPaths []string
	logger       *log.Logger
}

// NewMCPAgent creates an MCP agent.
func NewMCPAgent(host *mcphost.Client, defaultPaths []string, logger *log.Logger) *MCPAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	}
	return &MCPAgent{host: host, defaultPaths: defaultPaths, logger: logger}
}

func emit(e Emitter, event string, payload map[string]any) {
	if e != nil {
		e.Emit(event, payload)
	}
}

// Execute runs the bootstrap and the planned tool call, returning one agent
// response. Upstream failures are normalised into the response; Execute has
// no error return.
func (a *MCPAgent) Execute(ctx context.Context, req ExecRequest) *AgentResponse {
	trace := req.Trace
	if trace == nil {
		trace = &PlanTrace{}
	}

	init := mcphost.InitResult{Legacy: req.Manifest.Legacy}
	if !req.Manifest.Initialized {
		emit(req.Emitter, "mcp-progress", map[string]any{"step": "initialize"})
		var err error
		init, err = a.host.Initialize(ctx, req.Endpoint)
		if err != nil {
			return &AgentResponse{
				Action:     "mcp-execute",
				Route:      RouteLocalMCP,
				Answer:     "도구 서버 초기화에 실패했습니다: " + err.Error(),
				MCPStatus:  502,
				AgentTrace: trace,
			}
		}
	}
	if init.Legacy {
		trace.LegacyMode = true
		emit(req.Emitter, "mcp-progress", map[string]any{"step": "legacy_chat"})
		status, answer, err := a.host.LegacyChat(ctx, req.Endpoint, req.Prompt, req.Conversation)
		if err != nil {
			return &AgentResponse{
				Action: "mcp-legacy", Route: RouteLocalMCP,
				Answer: "레거시 도구 서버 호출에 실패했습니다: " + err.Error(),
				MCPStatus: 502, AgentTrace: trace,
			}
		}
		return &AgentResponse{
			Action: "mcp-legacy", Route: RouteLocalMCP,
			Answer: answer, MCPStatus: status, AgentTrace: trace,
		}
	}

	mc := req.Manifest
	if len(mc.Tools) == 0 && !mc.Initialized {
		emit(req.Emitter, "mcp-progress", map[string]any{"step": "manifest_fetch"})
		mc = a.host.FetchManifest(ctx, req.Endpoint)
		emit(req.Emitter, "mcp-progress", map[string]any{"step": "tools_list"})
		listed, _, err := a.host.ListTools(ctx, req.Endpoint)
		if err != nil {
			a.logger.Printf("tools/list failed: %v", err)
		}
		mc.Tools = mcphost.MergeTools(mc.Tools, listed)
	}
	trace.ManifestStatus = mc.Status
	trace.ManifestOK = mc.OK
	if len(mc.Tools) == 0 {
		return &AgentResponse{
			Action: "mcp-execute", Route: RouteLocalMCP,
			Answer:        "사용 가능한 도구를 찾지 못했습니다. 도구 서버 설정을 확인해 주세요.",
			RequiresInput: true, Missing: MissingExecutionPlan,
			MCPStatus: 424, AgentTrace: trace,
		}
	}

	plan := req.Plan
	if plan == nil {
		plan = &ExecutionPlan{RoutedQuery: req.Prompt}
	}
	tool, ok := findTool(mc.Tools, plan.Tool)
	if !ok {
		tool = HeuristicBestTool(mc.Tools, req.Prompt)
	}
	trace.SelectedTool = tool.Name
	emit(req.Emitter, "mcp-progress", map[string]any{"step": "plan", "tool": tool.Name})

	args := SanitizeArguments(tool, plan.ToolArguments, req.Prompt, a.defaultPaths)

	if tool.RequiresKey("paths") && pathsMissing(args) {
		discovered := a.discoverPaths(ctx, req, mc, tool, plan, trace)
		if len(discovered) == 0 {
			discovered = dedupeStrings(a.defaultPaths)
		}
		if len(discovered) == 0 {
			return &AgentResponse{
				Action: "mcp-execute", Route: RouteLocalMCP,
				Tool: tool.Name, Arguments: args,
				Answer:        "필요한 파일 경로를 찾지 못했습니다. 대상 경로를 알려 주세요.",
				RequiresInput: true, Missing: MissingPaths,
				MCPStatus: 424, AgentTrace: trace,
			}
		}
		args["paths"] = discovered
	}
	emit(req.Emitter, "mcp-progress", map[string]any{"step": "arguments_ready", "tool": tool.Name})

	emit(req.Emitter, "mcp-progress", map[string]any{"step": "tool_call", "tool": tool.Name})
	res, err := a.host.CallTool(ctx, req.Endpoint, tool.Name, args)
	if err != nil {
		return &AgentResponse{
			Action: "mcp-execute", Route: RouteLocalMCP,
			Tool: tool.Name, Arguments: args,
			Answer: "도구 호출에 실패했습니다: " + err.Error(),
			MCPStatus: 502, AgentTrace: trace,
		}
	}
	if msg := res.ErrorMessage(); msg != "" {
		return &AgentResponse{
			Action: "mcp-execute", Route: RouteLocalMCP,
			Tool: tool.Name, Arguments: args,
			Answer: msg, MCPStatus: res.Status, AgentTrace: trace,
		}
	}

	tool, args, res = a.searchRetry(ctx, req, mc, tool, args, res, trace)
	tool, args, res = a.summaryChain(ctx, req, mc, tool, args, res, trace)

	answer := FormatCallResult(tool.Name, res)
	return &AgentResponse{
		Action: "mcp-execute", Route: RouteLocalMCP,
		RoutedQuery: req.Prompt,
		Tool:        tool.Name, Arguments: args,
		Result: res.Result, Answer: answer,
		MCPStatus: res.Status, AgentTrace: trace,
	}
}

func pathsMissing(args map[string]any) bool {
	paths, _ := args["paths"].([]string)
	if raw, ok := args["paths"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	if len(paths) == 0 {
		return true
	}
	return len(paths) == 1 && paths[0] == "."
}

// discoverPaths runs the plan's discovery tool, or a fallback picked by
// hint, and harvests paths from its result.
func (a *MCPAgent) discoverPaths(ctx context.Context, req ExecRequest, mc mcphost.ManifestContext, selected mcphost.ToolDescriptor, plan *ExecutionPlan, trace *PlanTrace) []string {
	var discovery mcphost.ToolDescriptor
	var args map[string]any
	if plan.Discovery != nil {
		if t, ok := findTool(mc.Tools, plan.Discovery.Tool); ok {
			discovery = t
			args = plan.Discovery.ToolArguments
		}
	}
	if discovery.Name == "" {
		discovery = pickDiscoveryTool(mc.Tools, selected.Name)
	}
	if discovery.Name == "" {
		return nil
	}
	trace.DiscoveryAttempted = true
	trace.DiscoveryTool = discovery.Name
	emit(req.Emitter, "mcp-progress", map[string]any{"step": "discovery", "tool": discovery.Name})

	sanitised := SanitizeArguments(discovery, args, req.Prompt, a.defaultPaths)
	res, err := a.host.CallTool(ctx, req.Endpoint, discovery.Name, sanitised)
	if err != nil || !res.Successful() {
		return nil
	}
	paths := ExtractDiscoveryPaths(res)
	trace.DiscoveredPaths = paths
	return paths
}

// pickDiscoveryTool chooses a fallback discovery tool: hint-matched, not the
// selected tool, and preferably not itself requiring paths.
func pickDiscoveryTool(tools []mcphost.ToolDescriptor, selectedName string) mcphost.ToolDescriptor {
	var fallback mcphost.ToolDescriptor
	for _, t := range tools {
		if t.Name == selectedName {
			continue
		}
		lower := strings.ToLower(t.Name)
		matched := false
		for _, hint := range discoveryHints {
			if strings.Contains(lower, hint) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if !t.RequiresKey("paths") {
			return t
		}
		if fallback.Name == "" {
			fallback = t
		}
	}
	return fallback
}

// searchRetry reruns a search that returned an empty hit list after seeding
// paths from a listing tool. The retry result is adopted only on success.
func (a *MCPAgent) searchRetry(ctx context.Context, req ExecRequest, mc mcphost.ManifestContext, tool mcphost.ToolDescriptor, args map[string]any, res *mcphost.CallResult, trace *PlanTrace) (mcphost.ToolDescriptor, map[string]any, *mcphost.CallResult) {
	if !searchToolRE.MatchString(strings.ToLower(tool.Name)) {
		return tool, args, res
	}
	sc := res.Structured()
	if sc == nil {
		return tool, args, res
	}
	hits, present := sc["hits"].([]any)
	if !present || len(hits) > 0 {
		return tool, args, res
	}

	lister, ok := findTool(mc.Tools, "list_docs")
	if !ok {
		lister = pickDiscoveryTool(mc.Tools, tool.Name)
	}
	if lister.Name == "" {
		return tool, args, res
	}
	trace.SearchRetried = true
	emit(req.Emitter, "mcp-progress", map[string]any{"step": "search_retry", "tool": lister.Name})

	listArgs := map[string]any{"extensions": []any{".md", ".txt"}}
	if len(a.defaultPaths) > 0 {
		listArgs["paths"] = dedupeStrings(a.defaultPaths)
	}
	listRes, err := a.host.CallTool(ctx, req.Endpoint, lister.Name, SanitizeArguments(lister, listArgs, req.Prompt, a.defaultPaths))
	if err != nil || !listRes.Successful() {
		return tool, args, res
	}
	paths := ExtractDiscoveryPaths(listRes)
	if len(paths) == 0 {
		return tool, args, res
	}

	retryArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		retryArgs[k] = v
	}
	retryArgs["paths"] = paths
	retryRes, err := a.host.CallTool(ctx, req.Endpoint, tool.Name, retryArgs)
	if err != nil || !retryRes.Successful() {
		return tool, args, res
	}
	return tool, retryArgs, retryRes
}

// summaryChain invokes a summary tool over the paths surfaced by the current
// result when the query implied summarisation.
func (a *MCPAgent) summaryChain(ctx context.Context, req ExecRequest, mc mcphost.ManifestContext, tool mcphost.ToolDescriptor, args map[string]any, res *mcphost.CallResult, trace *PlanTrace) (mcphost.ToolDescriptor, map[string]any, *mcphost.CallResult) {
	if !summaryIntentRE.MatchString(req.Prompt) {
		return tool, args, res
	}
	summary := findSummaryTool(mc.Tools, tool.Name)
	if summary.Name == "" {
		return tool, args, res
	}

	paths := ExtractDiscoveryPaths(res)
	if len(paths) == 0 && summary.RequiresKey("paths") {
		if discovery := pickDiscoveryTool(mc.Tools, summary.Name); discovery.Name != "" {
			emit(req.Emitter, "mcp-progress", map[string]any{"step": "discovery", "tool": discovery.Name})
			dres, err := a.host.CallTool(ctx, req.Endpoint, discovery.Name, SanitizeArguments(discovery, nil, req.Prompt, a.defaultPaths))
			if err == nil && dres.Successful() {
				paths = ExtractDiscoveryPaths(dres)
			}
		}
	}
	if len(paths) == 0 {
		return tool, args, res
	}
	trace.SummaryChained = true
	emit(req.Emitter, "mcp-progress", map[string]any{"step": "summary_chain", "tool": summary.Name})

	sumArgs := SanitizeArguments(summary, map[string]any{"paths": paths, "output_path": "output.md"}, req.Prompt, a.defaultPaths)
	sumRes, err := a.host.CallTool(ctx, req.Endpoint, summary.Name, sumArgs)
	if err != nil || !sumRes.Successful() {
		return tool, args, res
	}
	return summary, sumArgs, sumRes
}

// findSummaryTool locates a summary-capable tool distinct from the selected
// one: exact names first, then substrings.
func findSummaryTool(tools []mcphost.ToolDescriptor, selectedName string) mcphost.ToolDescriptor {
	exact := []string{"rebuild_summary", "summary", "summarize", "rebuild"}
	for _, name := range exact {
		if t, ok := findTool(tools, name); ok && t.Name != selectedName {
			return t
		}
	}
	for _, hint := range exact {
		for _, t := range tools {
			if t.Name == selectedName {
				continue
			}
			if strings.Contains(strings.ToLower(t.Name), hint) {
				return t
			}
		}
	}
	return mcphost.ToolDescriptor{}
}
