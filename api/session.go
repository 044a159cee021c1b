package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"yarn-agent/internal/session"
	"yarn-agent/model"
)

type SessionReader interface {
	Lookup(ctx context.Context, id string) (model.Session, error)
}

// SessionHandler returns the step and saved answers of a session, or 404.
func SessionHandler(sessions SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := sessions.Lookup(c.Request.Context(), c.Param("id"))
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, model.SessionView{
			ID:        s.ID,
			State:     s.State,
			Answers:   s.Responses,
			Attempts:  s.Attempts,
			UpdatedAt: s.LastActivity,
		})
	}
}

type EventReader interface {
	Recent(ctx context.Context, n int64) ([]model.Event, error)
}

type ListEventsResponse struct {
	Data  []model.Event `json:"data"`
	Total int           `json:"total"`
}

const maxEventLimit = 1000

// EventsHandler lists the newest analytics events, ?limit=N (default 100).
func EventsHandler(events EventReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
		if err != nil || limit <= 0 || limit > maxEventLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}

		data, err := events.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, ListEventsResponse{Data: data, Total: len(data)})
	}
}
