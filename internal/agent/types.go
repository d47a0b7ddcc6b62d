package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
)

// A2AProtocolVersion is stamped on every inter-agent envelope.
const A2AProtocolVersion = "a2a.v1"

// Routes chosen by the plan agent.
const (
	RouteLocalMCP = "local_mcp"
	RouteChatOnly = "chat_only"
)

// Sentinels for AgentResponse.Missing.
const (
	MissingPaths          = "paths"
	MissingExecutionPlan  = "execution_plan"
	MissingWorkspaceState = "workspace_state"
)

// WorkflowSchemaV1 identifies the sequential step workflow format.
const WorkflowSchemaV1 = "workflow.steps.v1"

// Turn is one prior message of the user conversation.
type Turn = mcphost.Turn

// A2AMessage is the uniform envelope agents exchange; the orchestrator also
// forwards it onto the SSE channel for observability. Payload values must
// stay scalar-only so the message can be re-serialised safely.
type A2AMessage struct {
	Protocol  string         `json:"protocol"`
	RequestID string         `json:"requestId"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewA2AMessage builds an envelope with the protocol version and timestamp set.
func NewA2AMessage(requestID, from, to, typ string, payload map[string]any) A2AMessage {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return A2AMessage{
		Protocol:  A2AProtocolVersion,
		RequestID: requestID,
		From:      from,
		To:        to,
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Emitter receives progress events from agents. Implementations must accept
// events from a single goroutine only; the orchestrator guarantees that.
type Emitter interface {
	Emit(event string, payload map[string]any)
}

// discardEmitter drops everything; used by the non-streaming endpoint.
type discardEmitter struct{}

func (discardEmitter) Emit(string, map[string]any) {}

// DiscardEmitter returns an emitter that drops all events.
func DiscardEmitter() Emitter { return discardEmitter{} }

// RouteDecision is the plan agent's first verdict.
type RouteDecision struct {
	Route       string `json:"route"`
	Query       string `json:"query"`
	Explanation string `json:"explanation"`
}

// DiscoverySpec names a secondary tool that can harvest paths for the
// primary tool.
type DiscoverySpec struct {
	Tool          string         `json:"tool"`
	ToolArguments map[string]any `json:"toolArguments,omitempty"`
	ExpectedPaths []string       `json:"expected_paths,omitempty"`
}

// WhenClause gates a workflow step on accumulated payload state.
type WhenClause struct {
	Type   string `json:"type"`
	Field  string `json:"field,omitempty"`
	Equals any    `json:"equals,omitempty"`
	StepID string `json:"stepId,omitempty"`
}

// When clause types.
const (
	WhenSyncFieldEquals = "sync_field_equals"
	WhenStepExecuted    = "step_executed"
)

// WorkflowStep is one declared step of a sequential workflow.
type WorkflowStep struct {
	ID            string         `json:"id"`
	Tool          string         `json:"tool"`
	ToolArguments map[string]any `json:"toolArguments,omitempty"`
	When          *WhenClause    `json:"when,omitempty"`
}

// WorkflowSpec is a declarative list of gated tool calls.
type WorkflowSpec struct {
	Type   string         `json:"type"`
	Schema string         `json:"schema"`
	Mode   string         `json:"mode"`
	Steps  []WorkflowStep `json:"steps"`
}

// ExecutionPlan is the plan agent's output for the local_mcp route. A nil
// Tool means execution cannot proceed and the request surfaces requiresInput.
type ExecutionPlan struct {
	Tool          string         `json:"tool,omitempty"`
	ToolArguments map[string]any `json:"toolArguments,omitempty"`
	RoutedQuery   string         `json:"routedQuery"`
	Explanation   string         `json:"explanation,omitempty"`
	Discovery     *DiscoverySpec `json:"discovery,omitempty"`
	Workflow      *WorkflowSpec  `json:"workflow,omitempty"`
}

// QualityCheck is the evaluator's verdict over the writer's draft.
type QualityCheck struct {
	Pass     bool   `json:"pass"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// WorkflowStepTrace records one step outcome for the plan trace.
type WorkflowStepTrace struct {
	StepID     string `json:"stepId"`
	Tool       string `json:"tool,omitempty"`
	Executed   bool   `json:"executed"`
	SkipReason string `json:"skipReason,omitempty"`
	Status     int    `json:"status,omitempty"`
}

// PlanTrace captures the observable decisions of one orchestration for the
// final response.
type PlanTrace struct {
	ManifestStatus     int                 `json:"manifestStatus,omitempty"`
	ManifestOK         bool                `json:"manifestOk"`
	SelectedTool       string              `json:"selectedTool,omitempty"`
	DiscoveryTool      string              `json:"discoveryTool,omitempty"`
	DiscoveryAttempted bool                `json:"discoveryAttempted"`
	DiscoveredPaths    []string            `json:"discoveredPaths,omitempty"`
	SearchRetried      bool                `json:"searchRetried"`
	SummaryChained     bool                `json:"summaryChained"`
	Retried            bool                `json:"retried"`
	LegacyMode         bool                `json:"legacyMode"`
	WorkflowType       string              `json:"workflowType,omitempty"`
	WorkflowProceeded  *bool               `json:"workflowProceeded,omitempty"`
	WorkflowSteps      []WorkflowStepTrace `json:"workflowSteps,omitempty"`
}

// AgentResponse is the terminal payload of one orchestration.
type AgentResponse struct {
	Action        string         `json:"action"`
	Answer        string         `json:"answer"`
	Route         string         `json:"route"`
	RoutedQuery   string         `json:"routedQuery,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
	Tool          string         `json:"tool,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	RequiresInput bool           `json:"requiresInput,omitempty"`
	Missing       string         `json:"missing,omitempty"`
	MCPStatus     int            `json:"mcpStatus"`
	QualityCheck  *QualityCheck  `json:"qualityCheck,omitempty"`
	AgentTrace    *PlanTrace     `json:"agentTrace,omitempty"`
}

// Successful reports whether the execution step succeeded; retry, summary
// chaining and workflow gating all key off this.
func (r *AgentResponse) Successful() bool {
	return r != nil && r.MCPStatus < 400
}
