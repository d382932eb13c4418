package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// TurnHandler serves the streaming turn endpoint.
type TurnHandler struct {
	Engine *engine.Engine
	Logger *log.Logger
}

func (h *TurnHandler) Register(g *echo.Group) {
	g.POST("/turn", h.turn)
}

// turn runs one decision cycle and streams its events as SSE frames.
// The turn keeps running to completion even if the client goes away,
// so the session state stays consistent for the next request.
func (h *TurnHandler) turn(c echo.Context) error {
	var in engine.TurnInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sink := &sseSink{res: res, logger: h.Logger}
	ctx := context.WithoutCancel(c.Request().Context())
	result := h.Engine.ProcessTurn(ctx, in, sink)

	sink.frame("done", result)
	return nil
}

// sseSink writes engine events as server-sent-event frames. Writes
// after client disconnect fail silently; the engine never sees them.
type sseSink struct {
	res    *echo.Response
	logger *log.Logger
	mu     sync.Mutex
	dead   bool
}

func (s *sseSink) Send(ev engine.Event) {
	s.frame(string(ev.Type), ev)
}

func (s *sseSink) frame(event string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("marshal %s event: %v", event, err)
		}
		return
	}
	if _, err := s.res.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		s.dead = true
		if s.logger != nil {
			s.logger.Printf("client gone, continuing turn: %v", err)
		}
		return
	}
	s.res.Flush()
}
