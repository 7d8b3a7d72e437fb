package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/services"
)

// WebhookHandler receives label lifecycle callbacks from the carrier.
type WebhookHandler struct {
	processor *services.WebhookProcessor
	log       *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor *services.WebhookProcessor, log *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, log: log}
}

// HandleLabelEvent processes a signed label webhook. The carrier retries
// non-2xx responses, so transient upstream failures return 502.
// POST /webhooks/label-created and POST /webhooks/label-updated
func (h *WebhookHandler) HandleLabelEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: "failed to read request body",
		})
		return
	}

	if err := h.processor.HandleLabelEvent(c.Request.Context(), body); err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error:   "not_found",
				Message: err.Error(),
			})
		case errors.Is(err, services.ErrWebhookSignature):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error:   "invalid_signature",
				Message: err.Error(),
			})
		case errors.Is(err, services.ErrWebhookUpstream):
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Success: false,
				Error:   "upstream_error",
				Message: err.Error(),
			})
		default:
			h.log.WithError(err).Error("Webhook processing failed")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Success: false,
				Error:   "internal_error",
				Message: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"processed": true}})
}
