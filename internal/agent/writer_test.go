package agent

import (
	"context"
	"testing"
)

func TestPolish_SinglePassWhenAccepted(t *testing.T) {
	llm := &fakeLLM{
		writerOut: []string{"깔끔한 답변"},
		evalJSON:  []string{`{"pass":true,"score":95,"feedback":""}`},
	}
	w := NewWriter(llm, nil)
	resp := &AgentResponse{Answer: "raw draft"}
	w.Polish(context.Background(), "질문", resp)

	if resp.Answer != "깔끔한 답변" {
		t.Fatalf("expected rewritten answer, got %q", resp.Answer)
	}
	if llm.writerCalls != 1 || llm.evalCalls != 1 {
		t.Fatalf("expected one writer and one evaluator call, got %d/%d", llm.writerCalls, llm.evalCalls)
	}
	if resp.QualityCheck == nil || !resp.QualityCheck.Pass || resp.QualityCheck.Score != 95 {
		t.Fatalf("unexpected quality check: %+v", resp.QualityCheck)
	}
}

func TestPolish_SecondDraftOnRejection(t *testing.T) {
	llm := &fakeLLM{
		writerOut: []string{"draft one", "draft two"},
		evalJSON: []string{
			`{"pass":false,"score":40,"feedback":"too terse"}`,
			`{"pass":false,"score":55,"feedback":"still terse"}`,
		},
	}
	w := NewWriter(llm, nil)
	resp := &AgentResponse{Answer: "raw"}
	w.Polish(context.Background(), "질문", resp)

	if resp.Answer != "draft two" {
		t.Fatalf("expected second draft returned regardless of verdict, got %q", resp.Answer)
	}
	if llm.writerCalls != 2 || llm.evalCalls != 2 {
		t.Fatalf("expected two writer and two evaluator calls, got %d/%d", llm.writerCalls, llm.evalCalls)
	}
	if resp.QualityCheck.Pass || resp.QualityCheck.Score != 55 {
		t.Fatalf("expected final verdict attached, got %+v", resp.QualityCheck)
	}
}

func TestPolish_DefaultsOnJudgeParseFailure(t *testing.T) {
	llm := &fakeLLM{
		writerOut: []string{"다듬은 답변"},
		evalJSON:  []string{"not json at all"},
	}
	w := NewWriter(llm, nil)
	resp := &AgentResponse{Answer: "raw"}
	w.Polish(context.Background(), "질문", resp)

	if resp.QualityCheck == nil || !resp.QualityCheck.Pass || resp.QualityCheck.Score != 80 {
		t.Fatalf("expected defensive default verdict, got %+v", resp.QualityCheck)
	}
}

func TestPolish_ClampsScore(t *testing.T) {
	llm := &fakeLLM{
		writerOut: []string{"답변"},
		evalJSON:  []string{`{"pass":true,"score":400,"feedback":""}`},
	}
	w := NewWriter(llm, nil)
	resp := &AgentResponse{Answer: "raw"}
	w.Polish(context.Background(), "질문", resp)
	if resp.QualityCheck.Score != 100 {
		t.Fatalf("expected clamped score, got %d", resp.QualityCheck.Score)
	}
}

func TestPolish_SkipsEmptyAnswer(t *testing.T) {
	llm := &fakeLLM{}
	w := NewWriter(llm, nil)
	resp := &AgentResponse{Answer: "  "}
	w.Polish(context.Background(), "질문", resp)
	if llm.writerCalls != 0 || resp.QualityCheck != nil {
		t.Fatalf("expected no-op on empty answer")
	}
}
