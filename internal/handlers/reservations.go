package handlers

import (
	"net/http"
	"time"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

// Reserve - POST /api/v1/reservations
func (h *Handlers) Reserve(c *gin.Context) {
	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := logger.ContextWithUserID(c.Request.Context(), req.UserID)
	reservation, err := h.services.Coordinator.Reserve(ctx, service.ReserveRequest{
		EventID:    req.EventID,
		SeatIDs:    req.SeatIDs,
		UserID:     req.UserID,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
		QueueToken: req.QueueToken,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.ReserveResponse{
		ReservationID: reservation.ID,
		ExpiresAt:     reservation.ExpiresAt,
	})
}

// GetReservation - GET /api/v1/reservations/:id
func (h *Handlers) GetReservation(c *gin.Context) {
	reservation, err := h.services.Coordinator.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// Confirm - POST /api/v1/reservations/:id/confirm
// Charges the payment token and turns the hold into a sale.
func (h *Handlers) Confirm(c *gin.Context) {
	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	booking, err := h.services.Finalizer.Confirm(c.Request.Context(), c.Param("id"), req.PaymentToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ConfirmResponse{
		BookingID:  booking.ID,
		Status:     booking.Status,
		TotalPrice: booking.TotalPrice,
	})
}

// Cancel - POST /api/v1/reservations/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	if err := h.services.Coordinator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusOK)
}
