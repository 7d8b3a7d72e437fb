package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/settings"
)

// Webhook outcomes, mapped to HTTP status codes by the transport layer.
var (
	// ErrWebhookNotFound covers unparseable payloads, missing credentials
	// and unresolvable orders (HTTP 404).
	ErrWebhookNotFound = errors.New("webhook target not found")
	// ErrWebhookSignature is a failed HMAC check (HTTP 400).
	ErrWebhookSignature = errors.New("webhook signature mismatch")
	// ErrWebhookUpstream is a carrier API failure after validation passed
	// (HTTP 502, so the sender retries). Nothing was written in that case.
	ErrWebhookUpstream = errors.New("webhook upstream call failed")
)

// labelEvent is the payload of the label-created and label-updated webhooks.
type labelEvent struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		HMAC string `json:"hmac"`
	} `json:"meta"`
}

type labelEventData struct {
	ShipmentID              string `json:"shipment_id"`
	EntityID                string `json:"entity_id"`
	TrackingNumber          string `json:"tracking_number"`
	Status                  string `json:"status"`
	ExternalOrderExternalID string `json:"external_order_external_id"`
}

// WebhookProcessor reconciles carrier-pushed label events into order
// metadata. Created and updated callbacks share one handler.
type WebhookProcessor struct {
	orders   repository.OrderRepository
	resolver *settings.Resolver
	clients  ClientFactory
	// skipSignature disables the HMAC check, for test harnesses only.
	skipSignature bool
	publisher     EventPublisher
	log           *logrus.Entry
}

// NewWebhookProcessor wires the processor. publisher may be nil.
func NewWebhookProcessor(
	orders repository.OrderRepository,
	resolver *settings.Resolver,
	clients ClientFactory,
	skipSignature bool,
	publisher EventPublisher,
	log *logrus.Entry,
) *WebhookProcessor {
	return &WebhookProcessor{
		orders:        orders,
		resolver:      resolver,
		clients:       clients,
		skipSignature: skipSignature,
		publisher:     publisher,
		log:           log,
	}
}

// HandleLabelEvent validates and applies one label webhook. A nil return
// means the update was fully persisted.
func (p *WebhookProcessor) HandleLabelEvent(ctx context.Context, rawBody []byte) error {
	var event labelEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || len(event.Data) == 0 {
		p.log.WithError(err).Warn("Discarding unparseable webhook payload")
		return fmt.Errorf("%w: unparseable payload", ErrWebhookNotFound)
	}

	var data labelEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		p.log.WithError(err).Warn("Discarding webhook payload with malformed data")
		return fmt.Errorf("%w: malformed data field", ErrWebhookNotFound)
	}

	cfg, err := p.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if !cfg.HasCredentials() {
		p.log.Warn("Webhook received but carrier credentials are not configured")
		return fmt.Errorf("%w: credentials not configured", ErrWebhookNotFound)
	}

	if !p.skipSignature {
		if !verifySignature(event.Data, event.Meta.HMAC, cfg.ClientID()+cfg.ClientSecret()) {
			p.log.WithField("shipment", data.ShipmentID).Warn("Webhook signature mismatch")
			return ErrWebhookSignature
		}
	}

	order, err := p.resolveOrder(ctx, data)
	if err != nil {
		return err
	}

	client := p.clients(cfg.ClientID(), cfg.ClientSecret(), cfg.TestMode())

	shipment, err := client.GetShipment(ctx, data.ShipmentID)
	if err != nil {
		p.log.WithError(err).WithField("shipment", data.ShipmentID).Error("Failed to fetch shipment for webhook")
		return fmt.Errorf("%w: %v", ErrWebhookUpstream, err)
	}

	// Prefer a fresh track-and-trace status over the webhook's own field;
	// fall back silently when the lookup fails.
	status := data.Status
	if data.EntityID != "" {
		if tt, err := client.GetTrackAndTrace(ctx, data.EntityID); err == nil {
			if active := tt.ActiveStatus(); active != nil {
				status = active.Status
			}
		}
	}

	labels := make([]models.LabelMeta, 0, len(shipment.Labels))
	for _, label := range shipment.Labels {
		labels = append(labels, models.LabelMeta{
			ID:                label.ID,
			Waybill:           label.Waybill,
			TrackAndTraceLink: label.TrackAndTraceLink,
		})
	}

	order, err = p.orders.UpdateMetadata(ctx, order.ID, func(meta models.OrderMetadata) error {
		if err := meta.PutShipment(models.ShipmentMeta{
			ID:       shipment.ID,
			Sequence: shipment.Sequence,
			Labels:   labels,
		}); err != nil {
			return err
		}
		if data.EntityID == "" {
			return nil
		}
		return meta.PutStatus(data.EntityID, models.StatusEntry{
			Status:         status,
			TrackingNumber: data.TrackingNumber,
		})
	})
	if err != nil {
		return err
	}

	if cfg.OrderStatusChangeOnWebhookEnabled() && order.Status != cfg.ShippedStatus() {
		if err := p.orders.UpdateStatus(ctx, order.ID, cfg.ShippedStatus()); err != nil {
			return err
		}
		note := fmt.Sprintf("Order marked %s after label webhook (tracking %s)", cfg.ShippedStatus(), data.TrackingNumber)
		if err := p.orders.AddNote(ctx, order.ID, note); err != nil {
			p.log.WithError(err).Warn("Failed to record webhook note")
		}
	}

	if p.publisher != nil {
		p.publisher.LabelUpdated(order, data.EntityID, status)
	}

	p.log.WithFields(logrus.Fields{
		"order":    order.Number,
		"shipment": shipment.ID,
		"label":    data.EntityID,
		"status":   status,
	}).Info("Label webhook processed")

	return nil
}

// resolveOrder prefers the exact external order reference and falls back to
// a fuzzy shipment-id search over order metadata.
func (p *WebhookProcessor) resolveOrder(ctx context.Context, data labelEventData) (*models.Order, error) {
	if data.ExternalOrderExternalID != "" {
		if id, err := uuid.Parse(data.ExternalOrderExternalID); err == nil {
			order, err := p.orders.GetByID(ctx, id)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, repository.ErrOrderNotFound) {
				return nil, err
			}
		} else if order, err := p.orders.GetByNumber(ctx, data.ExternalOrderExternalID); err == nil {
			return order, nil
		} else if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
	}

	if data.ShipmentID != "" {
		order, err := p.orders.FindByShipmentID(ctx, data.ShipmentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
	}

	p.log.WithFields(logrus.Fields{
		"shipment":  data.ShipmentID,
		"reference": data.ExternalOrderExternalID,
	}).Warn("No order matches webhook payload")
	return nil, fmt.Errorf("%w: no matching order", ErrWebhookNotFound)
}

// verifySignature recomputes the payload HMAC over the compacted data JSON
// and compares constant-time against the supplied hex digest.
func verifySignature(data json.RawMessage, givenHex, key string) bool {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(compact.Bytes())
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(givenHex))
}
