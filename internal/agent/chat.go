package agent

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/mcpbridge/provider"
)

const chatSystemPrompt = `You are a helpful assistant answering directly, without tools.
Answer in the user's language, concisely.`

// ChatAgent answers chat_only requests with a single LLM call.
type ChatAgent struct {
	llm    provider.Provider
	logger *log.Logger
}

// NewChatAgent creates a chat agent.
func NewChatAgent(llm provider.Provider, logger *log.Logger) *ChatAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &ChatAgent{llm: llm, logger: logger}
}

// Answer produces the chat-only response.
func (c *ChatAgent) Answer(ctx context.Context, prompt string, conversation []Turn) *AgentResponse {
	messages := []provider.Message{{Role: "system", Content: chatSystemPrompt}}
	for _, turn := range conversation {
		role := turn.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		messages = append(messages, provider.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, provider.Message{Role: "user", Content: prompt})

	answer, err := c.llm.Complete(ctx, messages)
	if err != nil {
		c.logger.Printf("chat completion failed: %v", err)
		return &AgentResponse{
			Action: "chat-only", Route: RouteChatOnly,
			Answer:    "답변을 생성하지 못했습니다. 잠시 후 다시 시도해 주세요.",
			MCPStatus: 200,
		}
	}
	return &AgentResponse{
		Action: "chat-only", Route: RouteChatOnly,
		Answer: answer, MCPStatus: 200,
	}
}
