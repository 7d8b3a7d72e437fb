package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/rates"
	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/services"
)

// OrderHandler serves the order mirror and the admin order actions.
type OrderHandler struct {
	orders       repository.OrderRepository
	orchestrator *services.ShipmentOrchestrator
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders repository.OrderRepository, orchestrator *services.ShipmentOrchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, orchestrator: orchestrator}
}

func (h *OrderHandler) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_order_id",
			Message: "order id must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error:   "order_not_found",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "validation_failed",
			Message: err.Error(),
		})
	case errors.Is(err, buz.ErrAuthorization):
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Success: false,
			Error:   "authorization_failed",
			Message: err.Error(),
		})
	case errors.Is(err, buz.ErrRequest):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Success: false,
			Error:   "carrier_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

// CreateOrder mirrors a host order into the integration database.
// POST /api/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}
	if order.Number == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: "order number is required",
		})
		return
	}

	if err := h.orders.Create(c.Request.Context(), &order); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{Success: true, Data: order})
}

// GetOrder returns a mirrored order with its integration metadata.
// GET /api/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: order})
}

type createShipmentRequest struct {
	Item    *services.ItemOverride `json:"item"`
	Service string                 `json:"service"`
}

// CreateShipment books a shipment (or an additional label) for the order.
// POST /api/orders/:id/shipments
func (h *OrderHandler) CreateShipment(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req createShipmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error:   "invalid_request",
				Message: err.Error(),
			})
			return
		}
	}

	shipment, err := h.orchestrator.CreateShipment(c.Request.Context(), id, req.Item, req.Service)
	if err != nil {
		h.fail(c, err)
		return
	}
	if shipment == nil {
		// Failure already logged and reported through an admin notice.
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Success: false,
			Error:   "carrier_error",
			Message: "shipment was not created; see admin notices",
		})
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{Success: true, Data: shipment})
}

// RetrieveStatus polls track-and-trace for the order's labels.
// POST /api/orders/:id/status
func (h *OrderHandler) RetrieveStatus(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	statuses, err := h.orchestrator.RetrieveStatus(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: statuses})
}

// DownloadLabels streams the combined label PDF for the order.
// GET /api/orders/:id/labels
func (h *OrderHandler) DownloadLabels(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	pdf, err := h.orchestrator.DownloadLabels(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// DownloadShipmentLabels streams the label PDF for one shipment.
// GET /api/shipments/:id/labels
func (h *OrderHandler) DownloadShipmentLabels(c *gin.Context) {
	pdf, err := h.orchestrator.RetrieveLabels(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// SyncOrder exports the order to the carrier's order overview.
// POST /api/orders/:id/sync
func (h *OrderHandler) SyncOrder(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	platformOrder, err := h.orchestrator.CreateOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse{Success: true, Data: platformOrder})
}

type statusChangedRequest struct {
	Status string `json:"status" binding:"required"`
}

// StatusChanged records a host order status transition and runs the
// automatic-export guard chain.
// POST /api/orders/:id/events/status-changed
func (h *OrderHandler) StatusChanged(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req statusChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if err := h.orders.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.orchestrator.SyncOrder(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"status": req.Status}})
}

// OrderPaid reacts to a completed payment, booking a shipment when the
// feature is enabled.
// POST /api/orders/:id/events/paid
func (h *OrderHandler) OrderPaid(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	if err := h.orchestrator.CreateShipmentOnOrderPaid(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"processed": true}})
}

// AttachShippingMethod persists a chosen rate as the order's shipping line.
// PUT /api/orders/:id/shipping-method
func (h *OrderHandler) AttachShippingMethod(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var view rates.RateView
	if err := c.ShouldBindJSON(&view); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if err := h.orchestrator.AttachShippingMethod(c.Request.Context(), id, view); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: view})
}

// SavePickupPoint stores the chosen pick-up point on the order.
// PUT /api/orders/:id/pickup-point
func (h *OrderHandler) SavePickupPoint(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var point models.PickupPointData
	if err := c.ShouldBindJSON(&point); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if err := h.orchestrator.SavePickupPoint(c.Request.Context(), id, point); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: point})
}

// GetServices quotes ad-hoc services for an explicit item, for the admin
// services dialog.
// POST /api/orders/:id/services
func (h *OrderHandler) GetServices(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var item services.ItemOverride
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	quotes, err := h.orchestrator.GetServices(c.Request.Context(), id, item)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: quotes})
}

// GetNotes returns the order's audit notes.
// GET /api/orders/:id/notes
func (h *OrderHandler) GetNotes(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	notes, err := h.orders.GetNotes(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: notes})
}
