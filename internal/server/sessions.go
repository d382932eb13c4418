package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
)

// SessionHandler exposes read-only session state.
type SessionHandler struct {
	Store engine.SessionStore
}

func (h *SessionHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id", h.get)
}

// SessionSummary is the UI-facing view of a stored session.
type SessionSummary struct {
	SessionID            string `json:"sessionId"`
	Iteration            int    `json:"iteration"`
	OriginalQuery        string `json:"originalQuery"`
	CurrentResearchTopic string `json:"currentResearchTopic"`
	StatusMessage        string `json:"statusMessage"`
	NeedsClarification   bool   `json:"needsClarification"`
	ClarificationRounds  int    `json:"clarificationRounds"`
	MessageCount         int    `json:"messageCount"`
	FindingCount         int    `json:"findingCount"`
	HasFinalReport       bool   `json:"hasFinalReport"`
	FinalReportMarkdown  string `json:"finalReportMarkdown,omitempty"`
}

func (h *SessionHandler) get(c echo.Context) error {
	id := c.Param("id")
	st, err := h.Store.Load(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SessionSummary{
		SessionID:            st.SessionID,
		Iteration:            st.Iteration,
		OriginalQuery:        st.OriginalQuery,
		CurrentResearchTopic: st.CurrentResearchTopic,
		StatusMessage:        st.StatusMessage,
		NeedsClarification:   st.NeedsClarification,
		ClarificationRounds:  st.ClarificationRounds,
		MessageCount:         len(st.ConversationHistory),
		FindingCount:         len(st.AccumulatedFindings),
		HasFinalReport:       st.FinalReportMarkdown != "",
		FinalReportMarkdown:  st.FinalReportMarkdown,
	})
}
