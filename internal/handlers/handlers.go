package handlers

import (
	"errors"
	"net/http"

	"boxoffice/internal/admission"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	services *service.Services
	queue    admission.Controller
}

// NewHandlers wires the HTTP layer. queue may be nil when the waiting room is disabled.
func NewHandlers(services *service.Services, queue admission.Controller) *Handlers {
	return &Handlers{
		services: services,
		queue:    queue,
	}
}

// Register mounts the API routes on r
func (h *Handlers) Register(r gin.IRouter) {
	reservations := r.Group("/reservations")
	{
		reservations.POST("", h.Reserve)
		reservations.GET("/:id", h.GetReservation)
		reservations.POST("/:id/confirm", h.Confirm)
		reservations.POST("/:id/cancel", h.Cancel)
	}

	if h.queue != nil {
		queue := r.Group("/queue")
		{
			queue.POST("", h.JoinQueue)
			queue.GET("/:token", h.QueueStatus)
			queue.DELETE("/:token", h.LeaveQueue)
		}
	}
}

// errorStatus maps a service error to its HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest),
		errors.Is(err, apperrors.ErrQueueTokenInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrSeatsUnavailable),
		errors.Is(err, apperrors.ErrReservationNotCancellable),
		errors.Is(err, apperrors.ErrQueueTokenInUse):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrReservationExpired):
		return http.StatusGone
	case errors.Is(err, apperrors.ErrAdmissionCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrPaymentUnavailable),
		errors.Is(err, apperrors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	body := models.ErrorResponse{Error: err.Error()}

	var waiting *admission.NotAdmittedError
	if errors.As(err, &waiting) {
		body.Position = &waiting.Position
	}

	if status >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("Request failed",
			"path", c.FullPath(),
			"error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}

	_ = c.Error(err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
}
