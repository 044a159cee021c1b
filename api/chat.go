package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yarn-agent/internal/session"
	"yarn-agent/model"
)

// Router is the routing engine as the HTTP layer sees it.
type Router interface {
	Route(ctx context.Context, sessionID, text string) (*model.RouteResult, error)
}

// ChatHandler routes one message. A request without a session id starts a new
// session. debug adds the classifier details to the response.
func ChatHandler(router Router, debug bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		res, err := router.Route(c.Request.Context(), req.SessionID, req.Message)
		if err != nil {
			logger.Error("[API] route failed", zap.String("session_id", req.SessionID), zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrInvalidParam) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": "could not process message"})
			return
		}

		resp := model.ChatResponse{
			SessionID: req.SessionID,
			Reply:     res.ReplyText,
			State:     res.NewState,
		}
		if debug {
			resp.Debug = &res.Debug
		}
		c.JSON(http.StatusOK, resp)
	}
}
