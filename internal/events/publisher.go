package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/models"
)

// Shipping event subjects
const (
	SubjectShipmentCreated = "shipping.shipment_created"
	SubjectOrderSynced     = "shipping.order_synced"
	SubjectLabelUpdated    = "shipping.label_updated"

	streamName = "SHIPPING_EVENTS"
)

// ShippingEvent is the payload published for every lifecycle event.
type ShippingEvent struct {
	EventType      string    `json:"eventType"`
	Timestamp      time.Time `json:"timestamp"`
	OrderID        string    `json:"orderId,omitempty"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	ShipmentID     string    `json:"shipmentId,omitempty"`
	Sequence       string    `json:"sequence,omitempty"`
	PlatformOrder  string    `json:"platformOrderId,omitempty"`
	LabelID        string    `json:"labelId,omitempty"`
	Status         string    `json:"status,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
}

// Publisher publishes lifecycle events to NATS JetStream. All publishing is
// best-effort: failures are logged and never returned to the caller.
type Publisher struct {
	js     nats.JetStreamContext
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the shipping stream exists.
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("boekuwzending-connect"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}

	log := logger.WithField("component", "events.publisher")

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"shipping.>"},
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		log.WithError(err).Warn("Failed to ensure shipping event stream")
	}

	return &Publisher{js: js, conn: conn, logger: log}, nil
}

func (p *Publisher) publish(subject string, event ShippingEvent) {
	event.EventType = subject
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to marshal event")
		return
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
	}
}

// ShipmentCreated publishes a shipment-created event.
func (p *Publisher) ShipmentCreated(order *models.Order, shipment *buz.Shipment) {
	event := ShippingEvent{
		OrderID:     order.ID.String(),
		OrderNumber: order.Number,
		ShipmentID:  shipment.ID,
		Sequence:    shipment.Sequence,
	}
	if len(shipment.Labels) > 0 {
		event.TrackingNumber = shipment.Labels[0].Waybill
	}
	p.publish(SubjectShipmentCreated, event)
}

// OrderSynced publishes an order-synced event.
func (p *Publisher) OrderSynced(order *models.Order, platformOrder *buz.PlatformOrder) {
	p.publish(SubjectOrderSynced, ShippingEvent{
		OrderID:       order.ID.String(),
		OrderNumber:   order.Number,
		PlatformOrder: platformOrder.ID,
	})
}

// LabelUpdated publishes a label-updated event.
func (p *Publisher) LabelUpdated(order *models.Order, labelID, status string) {
	p.publish(SubjectLabelUpdated, ShippingEvent{
		OrderID:     order.ID.String(),
		OrderNumber: order.Number,
		LabelID:     labelID,
		Status:      status,
	})
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close closes the publisher connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
