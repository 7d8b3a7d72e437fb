package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/repository"
)

// SettingsHandler serves the integration settings and admin notices.
type SettingsHandler struct {
	settings repository.SettingsRepository
	notices  repository.NoticeRepository
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings repository.SettingsRepository, notices repository.NoticeRepository) *SettingsHandler {
	return &SettingsHandler{settings: settings, notices: notices}
}

// GetSettings returns the stored settings. The client secret is never
// serialized back.
// GET /api/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: settings})
}

type updateSettingsRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TestMode     bool   `json:"testMode"`

	SyncOrders                 bool `json:"syncOrders"`
	MatricesEnabled            bool `json:"matricesEnabled"`
	ShipmentsOnPayment         bool `json:"shipmentsOnPayment"`
	Debug                      bool `json:"debug"`
	AdminErrorMail             bool `json:"adminErrorMail"`
	OrderStatusChangeOnWebhook bool `json:"orderStatusChangeOnWebhook"`

	AdminEmail string `json:"adminEmail"`

	DefaultWeight float64 `json:"defaultWeight"`
	DefaultLength float64 `json:"defaultLength"`
	DefaultWidth  float64 `json:"defaultWidth"`
	DefaultHeight float64 `json:"defaultHeight"`

	SyncStatus    string `json:"syncStatus"`
	ShippedStatus string `json:"shippedStatus"`
}

// UpdateSettings replaces the stored settings. An empty client secret keeps
// the previously stored one, since the secret is never echoed to clients.
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	current, err := h.settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	secret := req.ClientSecret
	if secret == "" {
		secret = current.ClientSecret
	}

	updated := models.IntegrationSettings{
		ID:           current.ID,
		ClientID:     req.ClientID,
		ClientSecret: secret,
		TestMode:     req.TestMode,

		SyncOrders:                 req.SyncOrders,
		MatricesEnabled:            req.MatricesEnabled,
		ShipmentsOnPayment:         req.ShipmentsOnPayment,
		Debug:                      req.Debug,
		AdminErrorMail:             req.AdminErrorMail,
		OrderStatusChangeOnWebhook: req.OrderStatusChangeOnWebhook,

		AdminEmail: req.AdminEmail,

		DefaultWeight: req.DefaultWeight,
		DefaultLength: req.DefaultLength,
		DefaultWidth:  req.DefaultWidth,
		DefaultHeight: req.DefaultHeight,

		SyncStatus:    req.SyncStatus,
		ShippedStatus: req.ShippedStatus,

		CreatedAt: current.CreatedAt,
	}

	if err := h.settings.Save(c.Request.Context(), &updated); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: updated})
}

// TestConnection verifies the stored credentials against the carrier API.
// POST /api/settings/test
func (h *SettingsHandler) TestConnection(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}
	if settings.ClientID == "" || settings.ClientSecret == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "missing_credentials",
			Message: "client id and secret must be configured first",
		})
		return
	}

	client := buz.NewClient(buz.ClientConfig{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		TestMode:     settings.TestMode,
	})
	account, err := client.Me(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		errCode := "carrier_error"
		if errors.Is(err, buz.ErrAuthorization) {
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

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: account})
}

// ListNotices returns undismissed admin notices.
// GET /api/notices
func (h *SettingsHandler) ListNotices(c *gin.Context) {
	notices, err := h.notices.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: notices})
}

// DismissNotice marks a notice as handled.
// POST /api/notices/:id/dismiss
func (h *SettingsHandler) DismissNotice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_notice_id",
			Message: "notice id must be a UUID",
		})
		return
	}

	if err := h.notices.Dismiss(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"dismissed": true}})
}
