package agent

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
	"github.com/mohammad-safakhou/mcpbridge/provider"
)

const routeSystemPrompt = `You are a routing controller for a local MCP bridge.
Decide whether the user's request needs an external tool (file search, summaries,
document listing, git/PR operations) or can be answered directly by a language model.
Respond ONLY with JSON: {"route":"local_mcp"|"chat_only","query":string,"explanation":string}.
"query" is the request rephrased for tool execution. Do not include any other text.`

const selectorSystemPrompt = `You are a tool-selection planner. Given the user's query and
the tool catalogue, pick the single best tool and arguments that satisfy its schema.
If a tool needs file paths you do not know, name a discovery tool that can find them.
Respond ONLY with JSON:
{"tool":string,"tool_arguments":object,"routed_query":string,"explanation":string,
 "discovery":{"tool":string,"tool_arguments":object,"expected_paths":[string]}}.
Use null for discovery when not needed. Do not include any other text.`

// workflowIntentRE spots GitHub/PR intent in a query.
var workflowIntentRE = regexp.MustCompile(`(?i)\b(pr|pull request|github|sync|commit|push|deploy)\b`)

// PlanAgent makes the route decision and the manifest-aware execution plan.
type PlanAgent struct {
	llm    provider.Provider
	host   *mcphost.Client
	logger *log.Logger
}

// NewPlanAgent creates a plan agent.
func NewPlanAgent(llm provider.Provider, host *mcphost.Client, logger *log.Logger) *PlanAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLAN] ", log.LstdFlags)
	}
	return &PlanAgent{llm: llm, host: host, logger: logger}
}

// DecideRoute asks the LLM whether the request needs a tool. Any parse
// failure silently defaults to the local_mcp route with the original prompt.
func (p *PlanAgent) DecideRoute(ctx context.Context, prompt string) RouteDecision {
	fallback := RouteDecision{Route: RouteLocalMCP, Query: prompt}
	raw, err := p.llm.CompleteJSON(ctx, []provider.Message{
		{Role: "system", Content: routeSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		p.logger.Printf("route decision failed, defaulting to local_mcp: %v", err)
		return fallback
	}
	var decision RouteDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		p.logger.Printf("route decision parse failed, defaulting to local_mcp: %v", err)
		return fallback
	}
	if decision.Route != RouteLocalMCP && decision.Route != RouteChatOnly {
		return fallback
	}
	if strings.TrimSpace(decision.Query) == "" {
		decision.Query = prompt
	}
	return decision
}

// ManifestContext runs the host bootstrap once per request: initialize,
// then the manifest GET merged with tools/list. A legacy host short-circuits
// before any tool listing.
func (p *PlanAgent) ManifestContext(ctx context.Context, endpoint string) mcphost.ManifestContext {
	init, err := p.host.Initialize(ctx, endpoint)
	if err != nil {
		return mcphost.ManifestContext{Error: err.Error()}
	}
	if init.Legacy {
		return mcphost.ManifestContext{Initialized: true, Legacy: true, Status: init.Status}
	}

	mc := p.host.FetchManifest(ctx, endpoint)
	mc.Initialized = true
	listed, status, err := p.host.ListTools(ctx, endpoint)
	if err != nil {
		if mc.Error == "" {
			mc.Error = err.Error()
		}
		if mc.Status == 0 {
			mc.Status = status
		}
	}
	mc.Tools = mcphost.MergeTools(mc.Tools, listed)
	if len(mc.Tools) > 0 {
		mc.OK = true
	}
	return mc
}

// PlanExecution builds the execution plan for the local_mcp route. A nil
// plan means the host is unusable and the caller must surface requiresInput.
func (p *PlanAgent) PlanExecution(ctx context.Context, mc mcphost.ManifestContext, query string, defaultPaths []string) *ExecutionPlan {
	if len(mc.Tools) == 0 {
		return nil
	}
	if wf := p.probeWorkflow(mc, query, defaultPaths); wf != nil {
		return wf
	}
	if plan := p.selectToolLLM(ctx, mc, query, defaultPaths); plan != nil {
		return plan
	}
	tool := HeuristicBestTool(mc.Tools, query)
	args := SanitizeArguments(tool, InitialArguments(tool, query), query, defaultPaths)
	return &ExecutionPlan{
		Tool:          tool.Name,
		ToolArguments: args,
		RoutedQuery:   query,
		Explanation:   "heuristic tool selection",
	}
}

// probeWorkflow detects GitHub-PR intent and builds the gated workflow when
// the host exposes both sync_status and create_pr. The pull step is included
// only when a pull-like tool exists; otherwise the workflow has two steps.
func (p *PlanAgent) probeWorkflow(mc mcphost.ManifestContext, query string, defaultPaths []string) *ExecutionPlan {
	if !workflowIntentRE.MatchString(query) && !strings.Contains(query, "깃허브") {
		return nil
	}
	syncTool, hasSync := mc.FindTool("sync_status")
	if _, hasCreate := mc.FindTool("create_pr"); !hasSync || !hasCreate {
		return nil
	}

	var steps []WorkflowStep
	if pull := findToolByHint(mc.Tools, "pull"); pull != "" {
		steps = append(steps, WorkflowStep{
			ID:   "pull_if_needed",
			Tool: pull,
			When: &WhenClause{Type: WhenSyncFieldEquals, Field: "ready_for_pull", Equals: true},
		})
	}
	steps = append(steps,
		WorkflowStep{
			ID:   "sync_refresh_after_pull",
			Tool: "sync_status",
			When: &WhenClause{Type: WhenStepExecuted, StepID: "pull_if_needed"},
		},
		WorkflowStep{
			ID:   "create_pr_if_ready",
			Tool: "create_pr",
			When: &WhenClause{Type: WhenSyncFieldEquals, Field: "ready_for_pr", Equals: true},
		},
	)

	args := SanitizeArguments(syncTool, DefaultArguments(syncTool), query, defaultPaths)
	return &ExecutionPlan{
		Tool:          "sync_status",
		ToolArguments: args,
		RoutedQuery:   query,
		Explanation:   "github pr workflow",
		Workflow: &WorkflowSpec{
			Type:   "github_pr",
			Schema: WorkflowSchemaV1,
			Mode:   "sequential",
			Steps:  steps,
		},
	}
}

// selectToolLLM asks the LLM to pick a tool from the catalogue. Returns nil
// when the selector output is unusable.
func (p *PlanAgent) selectToolLLM(ctx context.Context, mc mcphost.ManifestContext, query string, defaultPaths []string) *ExecutionPlan {
	catalogue := make([]map[string]any, 0, len(mc.Tools))
	for _, t := range mc.Tools {
		catalogue = append(catalogue, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	input, _ := json.Marshal(map[string]any{"query": query, "tools": catalogue})
	raw, err := p.llm.CompleteJSON(ctx, []provider.Message{
		{Role: "system", Content: selectorSystemPrompt},
		{Role: "user", Content: string(input)},
	})
	if err != nil {
		p.logger.Printf("tool selector failed: %v", err)
		return nil
	}
	var out struct {
		Tool          string         `json:"tool"`
		ToolArguments map[string]any `json:"tool_arguments"`
		RoutedQuery   string         `json:"routed_query"`
		Explanation   string         `json:"explanation"`
		Discovery     *struct {
			Tool          string         `json:"tool"`
			ToolArguments map[string]any `json:"tool_arguments"`
			ExpectedPaths []string       `json:"expected_paths"`
		} `json:"discovery"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		p.logger.Printf("tool selector parse failed: %v", err)
		return nil
	}
	tool, ok := mc.FindTool(out.Tool)
	if !ok {
		return nil
	}
	routed := strings.TrimSpace(out.RoutedQuery)
	if routed == "" {
		routed = query
	}
	plan := &ExecutionPlan{
		Tool:          tool.Name,
		ToolArguments: SanitizeArguments(tool, out.ToolArguments, routed, defaultPaths),
		RoutedQuery:   routed,
		Explanation:   out.Explanation,
	}
	if out.Discovery != nil && strings.TrimSpace(out.Discovery.Tool) != "" {
		plan.Discovery = &DiscoverySpec{
			Tool:          out.Discovery.Tool,
			ToolArguments: out.Discovery.ToolArguments,
			ExpectedPaths: out.Discovery.ExpectedPaths,
		}
	}
	return plan
}

// heuristic keyword groups, checked in order against the query.
var heuristicGroups = []struct {
	queryRE *regexp.Regexp
	hints   []string
}{
	{regexp.MustCompile(`요약|정리|summary|summar|rebuild`), []string{"rebuild_summary", "summarize", "summary", "rebuild"}},
	{regexp.MustCompile(`검색|찾|search|find|lookup`), []string{"search", "query", "find", "lookup"}},
	{regexp.MustCompile(`목록|리스트|list|docs`), []string{"list", "docs", "index"}},
}

// HeuristicBestTool picks a tool by keyword match against the query, falling
// back to the first tool in the catalogue.
func HeuristicBestTool(tools []mcphost.ToolDescriptor, query string) mcphost.ToolDescriptor {
	lower := strings.ToLower(query)
	for _, group := range heuristicGroups {
		if !group.queryRE.MatchString(lower) {
			continue
		}
		if name := findToolByHints(tools, group.hints); name != "" {
			t, _ := findTool(tools, name)
			return t
		}
	}
	return tools[0]
}

func findTool(tools []mcphost.ToolDescriptor, name string) (mcphost.ToolDescriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return mcphost.ToolDescriptor{}, false
}

func findToolByHint(tools []mcphost.ToolDescriptor, hint string) string {
	return findToolByHints(tools, []string{hint})
}

func findToolByHints(tools []mcphost.ToolDescriptor, hints []string) string {
	for _, hint := range hints {
		for _, t := range tools {
			if t.Name == hint {
				return t.Name
			}
		}
	}
	for _, hint := range hints {
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t.Name), hint) {
				return t.Name
			}
		}
	}
	return ""
}

// PlanSummary renders a compact scalar payload for progress events.
func (plan *ExecutionPlan) PlanSummary() map[string]any {
	if plan == nil {
		return map[string]any{"tool": nil}
	}
	out := map[string]any{
		"tool":        plan.Tool,
		"routedQuery": plan.RoutedQuery,
	}
	if plan.Workflow != nil {
		out["workflow"] = plan.Workflow.Type
		out["steps"] = len(plan.Workflow.Steps)
	}
	if plan.Discovery != nil {
		out["discoveryTool"] = plan.Discovery.Tool
	}
	return out
}
