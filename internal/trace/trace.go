package trace

import (
	"context"

	"github.com/mohammad-safakhou/mcpbridge/internal/agent"
)

// Sink records the A2A event stream of a request for later inspection.
// Sinks are write-only from the orchestrator's point of view: nothing is
// ever read back during a request.
type Sink interface {
	Append(ctx context.Context, requestID string, msg agent.A2AMessage) error
}

type nopSink struct{}

func (nopSink) Append(context.Context, string, agent.A2AMessage) error { return nil }

// NewNopSink returns a sink that drops everything.
func NewNopSink() Sink { return nopSink{} }
