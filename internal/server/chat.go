package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/mcpbridge/config"
	"github.com/mohammad-safakhou/mcpbridge/internal/agent"
	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
)

// ChatHandler serves the bridge chat endpoints.
type ChatHandler struct {
	cfg  *config.Config
	orch *agent.Orchestrator
	host *mcphost.Client
}

type chatRequest struct {
	Prompt        string       `json:"prompt"`
	LocalEndpoint string       `json:"localEndpoint,omitempty"`
	Conversation  []agent.Turn `json:"conversation,omitempty"`
}

// resolve validates the request body and fills in the target endpoint.
func (h *ChatHandler) resolve(c echo.Context) (agent.ChatRequest, error) {
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return agent.ChatRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return agent.ChatRequest{}, echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}
	endpoint := h.cfg.MCP.Endpoint
	if body.LocalEndpoint != "" {
		u, err := url.Parse(body.LocalEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return agent.ChatRequest{}, echo.NewHTTPError(http.StatusBadRequest, "localEndpoint is not a valid URL")
		}
		endpoint = body.LocalEndpoint
	}
	if h.orch == nil {
		return agent.ChatRequest{}, echo.NewHTTPError(http.StatusInternalServerError, "OPENAI_API_KEY not configured")
	}
	return agent.ChatRequest{
		RequestID:    uuid.NewString(),
		Prompt:       body.Prompt,
		Endpoint:     endpoint,
		Conversation: body.Conversation,
	}, nil
}

// chat handles the non-streaming endpoint.
func (h *ChatHandler) chat(c echo.Context) error {
	req, err := h.resolve(c)
	if err != nil {
		return err
	}
	resp := h.orch.Handle(c.Request().Context(), req, agent.DiscardEmitter())
	return c.JSON(http.StatusOK, resp)
}

// chatStream handles the SSE endpoint. The terminal frame is always done.
func (h *ChatHandler) chatStream(c echo.Context) error {
	req, err := h.resolve(c)
	if err != nil {
		return err
	}
	stream, err := newSSEStream(c)
	if err != nil {
		return err
	}

	resp := h.orch.Handle(c.Request().Context(), req, stream)

	for _, chunk := range agent.ChunkAnswer(resp.Answer) {
		stream.Emit("delta", map[string]any{"text": chunk})
	}
	if err := stream.send("final", resp); err != nil {
		stream.Emit("error", map[string]any{"message": err.Error()})
		stream.Emit("done", map[string]any{"ok": false})
		return nil
	}
	stream.Emit("done", map[string]any{"ok": true})
	return nil
}

type queryRequest struct {
	Endpoint string         `json:"endpoint,omitempty"`
	Method   string         `json:"method"`
	Params   map[string]any `json:"params,omitempty"`
}

// query passes a raw JSON-RPC call through to the tool host. Debug surface.
func (h *ChatHandler) query(c echo.Context) error {
	var body queryRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Method) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "method is required")
	}
	endpoint := body.Endpoint
	if endpoint == "" {
		endpoint = h.cfg.MCP.Endpoint
	}
	if endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no tool-host endpoint configured")
	}
	res, err := h.host.Call(c.Request().Context(), endpoint, body.Method, body.Params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
