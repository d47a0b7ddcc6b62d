package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// WorkflowRunner executes a declarative workflow after the initial tool call.
// Steps run strictly in declaration order; a failed gate skips the step and
// never fails the workflow.
type WorkflowRunner struct {
	mcp    *MCPAgent
	logger *log.Logger
}

// NewWorkflowRunner creates a workflow runner over the MCP agent.
func NewWorkflowRunner(mcp *MCPAgent, logger *log.Logger) *WorkflowRunner {
	if logger == nil {
		logger = log.New(log.Writer(), "[WF] ", log.LstdFlags)
	}
	return &WorkflowRunner{mcp: mcp, logger: logger}
}

// Run executes the workflow carried by the request's plan. initial is the
// response of the plan's first tool call (the sync probe); the returned
// response is the last executed step's, or initial when nothing ran.
func (w *WorkflowRunner) Run(ctx context.Context, req ExecRequest, initial *AgentResponse) *AgentResponse {
	wf := req.Plan.Workflow
	if wf == nil || len(wf.Steps) == 0 {
		return initial
	}
	trace := initial.AgentTrace
	if trace == nil {
		trace = &PlanTrace{}
		initial.AgentTrace = trace
	}
	trace.WorkflowType = wf.Type

	sync := syncPayloadOf(initial)
	executed := make(map[string]bool)
	last := initial

	for _, step := range wf.Steps {
		stepTrace := WorkflowStepTrace{StepID: step.ID, Tool: step.Tool}
		if reason := gateReason(step.When, sync, executed); reason != "" {
			stepTrace.SkipReason = reason
			trace.WorkflowSteps = append(trace.WorkflowSteps, stepTrace)
			emit(req.Emitter, "mcp-progress", map[string]any{"step": "workflow_skip", "stepId": step.ID, "reason": reason})
			continue
		}

		emit(req.Emitter, "mcp-progress", map[string]any{"step": "workflow_step", "stepId": step.ID, "tool": step.Tool})
		stepReq := req
		stepReq.Plan = &ExecutionPlan{
			Tool:          step.Tool,
			ToolArguments: step.ToolArguments,
			RoutedQuery:   req.Prompt,
		}
		stepReq.Trace = &PlanTrace{}
		resp := w.mcp.Execute(ctx, stepReq)
		stepTrace.Status = resp.MCPStatus
		if resp.Successful() {
			stepTrace.Executed = true
			executed[step.ID] = true
			last = resp
			last.AgentTrace = trace
			if strings.Contains(step.Tool, "sync_status") {
				if payload := syncPayloadOf(resp); payload != nil {
					sync = payload
				}
			}
		} else {
			w.logger.Printf("workflow step %s failed with status %d", step.ID, resp.MCPStatus)
		}
		trace.WorkflowSteps = append(trace.WorkflowSteps, stepTrace)
	}

	if wf.Type == "github_pr" {
		created := false
		for id := range executed {
			if strings.Contains(id, "create_pr") {
				created = true
				break
			}
		}
		if !created {
			proceeded := false
			trace.WorkflowProceeded = &proceeded
			last.RequiresInput = true
			last.Missing = MissingWorkspaceState
			reason := workspaceStateReason(sync)
			if last.Answer != "" {
				last.Answer = reason + "\n\n" + last.Answer
			} else {
				last.Answer = reason
			}
			return last
		}
		proceeded := true
		trace.WorkflowProceeded = &proceeded
	}
	return last
}

// syncPayloadOf extracts the structured sync fields of a sync_status result.
func syncPayloadOf(resp *AgentResponse) map[string]any {
	if resp == nil || resp.Result == nil {
		return nil
	}
	if sc, ok := resp.Result["structuredContent"].(map[string]any); ok {
		return sc
	}
	return nil
}

// gateReason evaluates a when clause and returns a non-empty skip reason on
// failure.
func gateReason(when *WhenClause, sync map[string]any, executed map[string]bool) string {
	if when == nil {
		return ""
	}
	switch when.Type {
	case WhenSyncFieldEquals:
		got, ok := sync[when.Field]
		if !ok {
			return fmt.Sprintf("sync field %q is absent", when.Field)
		}
		if !looseEquals(got, when.Equals) {
			return fmt.Sprintf("sync field %q is %v, wanted %v", when.Field, got, when.Equals)
		}
		return ""
	case WhenStepExecuted:
		if !executed[when.StepID] {
			return fmt.Sprintf("step %q did not execute", when.StepID)
		}
		return ""
	default:
		return fmt.Sprintf("unknown when clause %q", when.Type)
	}
}

// looseEquals compares gate values across the JSON scalar types.
func looseEquals(got, want any) bool {
	if got == want {
		return true
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

// workspaceStateReason renders a user-facing explanation of why the PR was
// not created.
func workspaceStateReason(sync map[string]any) string {
	var hints []string
	if v, ok := sync["is_clean"]; ok && fmt.Sprint(v) == "false" {
		hints = append(hints, "작업 공간에 커밋되지 않은 변경이 있습니다")
	}
	if v, ok := sync["ready_for_pr"]; ok && fmt.Sprint(v) == "false" {
		hints = append(hints, "PR을 생성할 준비가 되어 있지 않습니다")
	}
	if len(hints) == 0 {
		return "작업 공간 상태 때문에 PR을 생성하지 못했습니다. 상태를 확인한 뒤 다시 시도해 주세요."
	}
	return "PR을 생성하지 못했습니다: " + strings.Join(hints, ", ") + "."
}
