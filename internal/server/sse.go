package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// sseStream writes server-sent-event frames onto an echo response. It
// implements agent.Emitter; frames are dropped once the client goes away.
type sseStream struct {
	c        echo.Context
	flusher  http.Flusher
	writable bool
}

// newSSEStream prepares the response for event streaming.
func newSSEStream(c echo.Context) (*sseStream, error) {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	return &sseStream{c: c, flusher: flusher, writable: true}, nil
}

// Emit writes one frame, swallowing write failures: a closed client simply
// stops the stream at the next emit.
func (s *sseStream) Emit(event string, payload map[string]any) {
	_ = s.send(event, payload)
}

// send writes one frame and reports the first failure.
func (s *sseStream) send(event string, payload any) error {
	if !s.writable {
		return fmt.Errorf("sse stream closed")
	}
	select {
	case <-s.c.Request().Context().Done():
		s.writable = false
		return s.c.Request().Context().Err()
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("event: " + event + "\n")
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")

	if _, err := s.c.Response().Write([]byte(b.String())); err != nil {
		s.writable = false
		return err
	}
	s.flusher.Flush()
	return nil
}
