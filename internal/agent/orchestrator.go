package agent

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/mcpbridge/config"
	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
	"github.com/mohammad-safakhou/mcpbridge/internal/telemetry"
	"github.com/mohammad-safakhou/mcpbridge/provider"
)

// pathIssueRE matches answers that indicate missing or invalid paths.
var pathIssueRE = regexp.MustCompile(`(?is)(경로|path).*(없|누락|못 찾|does not exist|invalid)|no valid files|invalid paths|use list_docs`)

// TraceSink records the A2A stream of a request; implementations live in
// internal/trace.
type TraceSink interface {
	Append(ctx context.Context, requestID string, msg A2AMessage) error
}

// ChatRequest is one orchestration order.
type ChatRequest struct {
	RequestID    string
	Prompt       string
	Endpoint     string
	Conversation []Turn
}

// Orchestrator drives the full Plan → Execute → Workflow → Retry → Writer →
// Evaluator pipeline for one request. It holds no per-request state; every
// call owns its own context.
type Orchestrator struct {
	cfg      *config.Config
	plan     *PlanAgent
	mcp      *MCPAgent
	workflow *WorkflowRunner
	chat     *ChatAgent
	writer   *Writer
	tele     *telemetry.Telemetry
	traces   TraceSink
	logger   *log.Logger
}

// NewOrchestrator wires the agents over shared collaborators.
func NewOrchestrator(cfg *config.Config, llm provider.Provider, host *mcphost.Client, tele *telemetry.Telemetry, traces TraceSink, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	llm = countingLLM{inner: llm, tele: tele}
	mcp := NewMCPAgent(host, cfg.MCP.DefaultPaths, nil)
	return &Orchestrator{
		cfg:      cfg,
		plan:     NewPlanAgent(llm, host, nil),
		mcp:      mcp,
		workflow: NewWorkflowRunner(mcp, nil),
		chat:     NewChatAgent(llm, nil),
		writer:   NewWriter(llm, nil),
		tele:     tele,
		traces:   traces,
		logger:   logger,
	}
}

// countingLLM records every upstream completion on the LLM-call counter.
type countingLLM struct {
	inner provider.Provider
	tele  *telemetry.Telemetry
}

func (c countingLLM) Complete(ctx context.Context, messages []provider.Message) (string, error) {
	c.tele.RecordLLMCall()
	return c.inner.Complete(ctx, messages)
}

func (c countingLLM) CompleteJSON(ctx context.Context, messages []provider.Message) (string, error) {
	c.tele.RecordLLMCall()
	return c.inner.CompleteJSON(ctx, messages)
}

// a2aEmitter wraps the transport emitter: every event is also framed as an
// A2A envelope and appended to the trace sink, and tool calls are counted.
type a2aEmitter struct {
	requestID string
	inner     Emitter
	traces    TraceSink
	tele      *telemetry.Telemetry
}

func (e *a2aEmitter) Emit(event string, payload map[string]any) {
	if e.inner != nil {
		e.inner.Emit(event, payload)
	}
	if e.tele != nil && event == "mcp-progress" {
		if step, _ := payload["step"].(string); step == "tool_call" {
			tool, _ := payload["tool"].(string)
			e.tele.RecordToolCall(tool)
		}
	}
	if e.traces != nil {
		msg := NewA2AMessage(e.requestID, "orchestrator", "client", event, payload)
		_ = e.traces.Append(context.Background(), e.requestID, msg)
	}
}

// Handle runs one request through the pipeline and returns the final agent
// response. All upstream failures are folded into the response.
func (o *Orchestrator) Handle(ctx context.Context, req ChatRequest, sink Emitter) *AgentResponse {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	emitter := &a2aEmitter{requestID: req.RequestID, inner: sink, traces: o.traces, tele: o.tele}

	decision := o.plan.DecideRoute(ctx, req.Prompt)
	emitter.Emit("route", map[string]any{
		"route":       decision.Route,
		"query":       decision.Query,
		"explanation": decision.Explanation,
	})

	var resp *AgentResponse
	if decision.Route == RouteChatOnly {
		resp = o.chat.Answer(ctx, req.Prompt, req.Conversation)
	} else {
		resp = o.executeLocal(ctx, req, decision, emitter)
	}

	emitter.Emit("progress", map[string]any{"phase": "write"})
	o.writer.Polish(ctx, req.Prompt, resp)

	o.tele.RecordRequest(resp.Route, time.Since(start))
	o.logger.Printf("request %s done route=%s status=%d in %v", req.RequestID, resp.Route, resp.MCPStatus, time.Since(start))
	return resp
}

// executeLocal runs the tool route: plan, execute, workflow, one-shot retry.
func (o *Orchestrator) executeLocal(ctx context.Context, req ChatRequest, decision RouteDecision, emitter Emitter) *AgentResponse {
	emitter.Emit("progress", map[string]any{"phase": "manifest_fetch"})
	mc := o.plan.ManifestContext(ctx, req.Endpoint)
	emitter.Emit("progress", map[string]any{"phase": "plan", "manifestOk": mc.OK, "tools": len(mc.Tools)})

	// A nil plan still goes to the MCP agent: the bootstrap may reveal a
	// legacy host, and the plan-gap response is the agent's to make.
	plan := o.plan.PlanExecution(ctx, mc, decision.Query, o.cfg.MCP.DefaultPaths)
	if plan == nil {
		plan = &ExecutionPlan{RoutedQuery: decision.Query}
	}
	planPayload := plan.PlanSummary()
	planPayload["from"] = "plan-agent"
	planPayload["to"] = "mcp-agent"
	planPayload["type"] = "execution_plan"
	emitter.Emit("a2a", planPayload)

	execReq := ExecRequest{
		Endpoint:     req.Endpoint,
		Prompt:       plan.RoutedQuery,
		Plan:         plan,
		Conversation: req.Conversation,
		Manifest:     mc,
		Emitter:      emitter,
		Trace:        &PlanTrace{ManifestStatus: mc.Status, ManifestOK: mc.OK},
	}
	resp := o.mcp.Execute(ctx, execReq)
	resp.RoutedQuery = plan.RoutedQuery
	resp.Explanation = plan.Explanation

	if plan.Workflow != nil && resp.Successful() {
		emitter.Emit("progress", map[string]any{"phase": "workflow", "type": plan.Workflow.Type})
		resp = o.workflow.Run(ctx, execReq, resp)
		resp.RoutedQuery = plan.RoutedQuery
	}

	if hasPathIssue(resp) {
		resp = o.retryPathIssue(ctx, req, mc, plan, resp, emitter)
	}
	return resp
}

// hasPathIssue reports whether the response indicates a recoverable path
// problem.
func hasPathIssue(resp *AgentResponse) bool {
	if resp == nil {
		return false
	}
	if resp.RequiresInput && resp.Missing == MissingPaths {
		return true
	}
	return pathIssueRE.MatchString(resp.Answer)
}

// retryPathIssue performs the one-shot recovery: repopulate paths from a
// listing tool (or the configured defaults) and re-issue the original plan.
func (o *Orchestrator) retryPathIssue(ctx context.Context, req ChatRequest, mc mcphost.ManifestContext, plan *ExecutionPlan, prev *AgentResponse, emitter Emitter) *AgentResponse {
	o.tele.RecordRetry("path_issue")
	emitter.Emit("progress", map[string]any{"phase": "retry", "reason": "path_issue"})

	retryPlan := &ExecutionPlan{
		Tool:          plan.Tool,
		ToolArguments: cloneArgs(plan.ToolArguments),
		RoutedQuery:   plan.RoutedQuery,
		Explanation:   plan.Explanation,
	}

	lister := findListerTool(mc.Tools)
	if lister.Name != "" {
		listArgs := map[string]any{
			"extensions": []any{".md"},
			"glob":       "**/*.md",
		}
		if seeded := NormalizePathList(prev.Arguments["paths"]); len(seeded) > 0 {
			listArgs["paths"] = seeded
		}
		res, err := o.mcp.host.CallTool(ctx, req.Endpoint, lister.Name, SanitizeArguments(lister, listArgs, plan.RoutedQuery, o.cfg.MCP.DefaultPaths))
		if err == nil && res.Successful() {
			var mdPaths []string
			for _, p := range ExtractDiscoveryPaths(res) {
				if strings.HasSuffix(p, ".md") {
					mdPaths = append(mdPaths, p)
				}
			}
			if len(mdPaths) > 0 {
				retryPlan.ToolArguments["paths"] = mdPaths
				return o.reissue(ctx, req, mc, retryPlan, emitter)
			}
		}
	}

	if len(o.cfg.MCP.DefaultPaths) > 0 {
		retryPlan.ToolArguments["paths"] = dedupeStrings(o.cfg.MCP.DefaultPaths)
		return o.reissue(ctx, req, mc, retryPlan, emitter)
	}

	prev.Answer = "요약할 수 있는 문서를 찾지 못했습니다. 대상 경로를 알려 주시면 다시 시도하겠습니다."
	prev.RequiresInput = true
	prev.Missing = MissingPaths
	return prev
}

func (o *Orchestrator) reissue(ctx context.Context, req ChatRequest, mc mcphost.ManifestContext, plan *ExecutionPlan, emitter Emitter) *AgentResponse {
	resp := o.mcp.Execute(ctx, ExecRequest{
		Endpoint:     req.Endpoint,
		Prompt:       plan.RoutedQuery,
		Plan:         plan,
		Conversation: req.Conversation,
		Manifest:     mc,
		Emitter:      emitter,
		Trace:        &PlanTrace{ManifestStatus: mc.Status, ManifestOK: mc.OK, Retried: true},
	})
	resp.RoutedQuery = plan.RoutedQuery
	if resp.AgentTrace != nil {
		resp.AgentTrace.Retried = true
	}
	return resp
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// findListerTool locates a list_docs-like tool for the path-issue retry.
func findListerTool(tools []mcphost.ToolDescriptor) mcphost.ToolDescriptor {
	if t, ok := findTool(tools, "list_docs"); ok {
		return t
	}
	for _, t := range tools {
		lower := strings.ToLower(t.Name)
		if strings.Contains(lower, "list") || strings.Contains(lower, "docs") {
			return t
		}
	}
	return mcphost.ToolDescriptor{}
}
