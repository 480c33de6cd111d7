package handlers

import (
	"errors"
	"net/http"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"

	"github.com/gin-gonic/gin"
)

// JoinQueue - POST /api/v1/queue
func (h *Handlers) JoinQueue(c *gin.Context) {
	var req models.JoinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := logger.ContextWithUserID(c.Request.Context(), req.UserID)
	token, err := h.queue.Enqueue(ctx, req.EventID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.WithContext(ctx).Info("Joined queue", "event_id", req.EventID, "position", token.Position)
	c.JSON(http.StatusCreated, models.JoinQueueResponse{
		Position: token.Position,
		Token:    token.Token,
	})
}

// QueueStatus - GET /api/v1/queue/:token
func (h *Handlers) QueueStatus(c *gin.Context) {
	status, err := h.queue.Status(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, unknownToken(err))
		return
	}

	c.JSON(http.StatusOK, status)
}

// LeaveQueue - DELETE /api/v1/queue/:token
func (h *Handlers) LeaveQueue(c *gin.Context) {
	if err := h.queue.Complete(c.Request.Context(), c.Param("token")); err != nil {
		respondError(c, unknownToken(err))
		return
	}

	c.Status(http.StatusOK)
}

// unknownToken reports a token that does not exist as a missing resource
func unknownToken(err error) error {
	if errors.Is(err, apperrors.ErrQueueTokenInvalid) {
		return apperrors.ErrNotFound
	}
	return err
}
