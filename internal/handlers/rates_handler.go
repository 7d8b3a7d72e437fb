package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/rates"
	"boekuwzending-connect/internal/services"
)

// RatesHandler serves checkout rate lookups.
type RatesHandler struct {
	orchestrator *services.ShipmentOrchestrator
}

// NewRatesHandler creates a new rates handler
func NewRatesHandler(orchestrator *services.ShipmentOrchestrator) *RatesHandler {
	return &RatesHandler{orchestrator: orchestrator}
}

type fetcher func(c *gin.Context, req services.RateRequest) ([]rates.RateView, error)

func (h *RatesHandler) fetch(c *gin.Context, fetch fetcher) {
	var req services.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	views, err := fetch(c, req)
	if err != nil {
		status := http.StatusBadGateway
		errCode := "carrier_error"
		if errors.Is(err, services.ErrValidation) {
			status = http.StatusBadRequest
			errCode = "validation_failed"
		} else if errors.Is(err, buz.ErrAuthorization) {
			status = http.StatusUnauthorized
			errCode = "authorization_failed"
		}
		c.JSON(status, models.ErrorResponse{
			Success: false,
			Error:   errCode,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: views})
}

// GetRates returns delivery and pick-up rates for a destination.
// POST /api/rates
func (h *RatesHandler) GetRates(c *gin.Context) {
	h.fetch(c, func(c *gin.Context, req services.RateRequest) ([]rates.RateView, error) {
		return h.orchestrator.FetchRates(c.Request.Context(), req)
	})
}

// GetDeliveryRates returns only home-delivery rates.
// POST /api/rates/delivery
func (h *RatesHandler) GetDeliveryRates(c *gin.Context) {
	h.fetch(c, func(c *gin.Context, req services.RateRequest) ([]rates.RateView, error) {
		return h.orchestrator.FetchDeliveryRates(c.Request.Context(), req)
	})
}

// GetPickupRates returns only pick-up-point rates.
// POST /api/rates/pickup
func (h *RatesHandler) GetPickupRates(c *gin.Context) {
	h.fetch(c, func(c *gin.Context, req services.RateRequest) ([]rates.RateView, error) {
		return h.orchestrator.FetchPickupRates(c.Request.Context(), req)
	})
}
