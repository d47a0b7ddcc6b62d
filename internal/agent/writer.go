package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/mcpbridge/provider"
)

const writerSystemPrompt = `You are the final-answer writer for a local MCP bridge.
Rewrite the draft into a polished, concise, user-facing answer in Korean.
Hide tool names, file paths and debug details unless the user asked for them.
Keep Markdown structure that helps readability. Respond with the answer text only.`

const evaluatorSystemPrompt = `You are a strict quality judge for assistant answers.
Given the user's request and a candidate answer, decide whether the answer is
complete, relevant and readable. Respond ONLY with JSON:
{"pass":bool,"score":0-100,"feedback":string}.`

// Writer rewrites raw agent output into a user-facing answer; Evaluator
// scores it. The loop is a fixed two-pass: draft, evaluate, and one revision
// when the evaluator rejects.
type Writer struct {
	llm    provider.Provider
	logger *log.Logger
}

// NewWriter creates the writer/evaluator pair.
func NewWriter(llm provider.Provider, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[WRITER] ", log.LstdFlags)
	}
	return &Writer{llm: llm, logger: logger}
}

// Polish rewrites the response's answer and attaches the evaluator verdict.
// At most two writer calls and two evaluator calls are made.
func (w *Writer) Polish(ctx context.Context, userPrompt string, resp *AgentResponse) {
	if resp == nil || strings.TrimSpace(resp.Answer) == "" {
		return
	}
	draft := w.draft(ctx, userPrompt, resp.Answer, "")
	check := w.evaluate(ctx, userPrompt, draft)
	if !check.Pass {
		draft = w.draft(ctx, userPrompt, draft, check.Feedback)
		check = w.evaluate(ctx, userPrompt, draft)
	}
	resp.Answer = draft
	resp.QualityCheck = &check
}

func (w *Writer) draft(ctx context.Context, userPrompt, current, feedback string) string {
	input := fmt.Sprintf("USER REQUEST:\n%s\n\nCURRENT DRAFT:\n%s", userPrompt, current)
	if feedback != "" {
		input += "\n\nREVIEWER FEEDBACK:\n" + feedback
	}
	out, err := w.llm.Complete(ctx, []provider.Message{
		{Role: "system", Content: writerSystemPrompt},
		{Role: "user", Content: input},
	})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			w.logger.Printf("writer draft failed, keeping current text: %v", err)
		}
		return current
	}
	return strings.TrimSpace(out)
}

// evaluate parses the judge verdict defensively: any failure defaults to a
// passing score so a flaky judge never blocks the answer.
func (w *Writer) evaluate(ctx context.Context, userPrompt, candidate string) QualityCheck {
	fallback := QualityCheck{Pass: true, Score: 80}
	raw, err := w.llm.CompleteJSON(ctx, []provider.Message{
		{Role: "system", Content: evaluatorSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("USER REQUEST:\n%s\n\nCANDIDATE ANSWER:\n%s", userPrompt, candidate)},
	})
	if err != nil {
		w.logger.Printf("evaluator failed, defaulting to pass: %v", err)
		return fallback
	}
	var check QualityCheck
	if err := json.Unmarshal([]byte(raw), &check); err != nil {
		w.logger.Printf("evaluator parse failed, defaulting to pass: %v", err)
		return fallback
	}
	if check.Score < 0 {
		check.Score = 0
	}
	if check.Score > 100 {
		check.Score = 100
	}
	return check
}
