package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/services"
)

// statusPollBatchSize caps how many orders one poll run touches.
const statusPollBatchSize = 200

// StatusPoller periodically refreshes track-and-trace statuses for every
// order that has at least one shipment. Webhooks are the primary status
// channel; this job catches installs where webhooks are not reachable.
type StatusPoller struct {
	orders       repository.OrderRepository
	orchestrator *services.ShipmentOrchestrator
	cron         *cron.Cron
	schedule     string
	log          *logrus.Entry
}

// NewStatusPoller creates a new status poller. An empty schedule disables it.
func NewStatusPoller(
	orders repository.OrderRepository,
	orchestrator *services.ShipmentOrchestrator,
	schedule string,
	logger *logrus.Logger,
) *StatusPoller {
	return &StatusPoller{
		orders:       orders,
		orchestrator: orchestrator,
		cron:         cron.New(),
		schedule:     schedule,
		log:          logger.WithField("component", "jobs.status_poller"),
	}
}

// Start registers the cron entry and starts the scheduler.
func (p *StatusPoller) Start() error {
	if p.schedule == "" {
		p.log.Info("Status polling disabled")
		return nil
	}
	if _, err := p.cron.AddFunc(p.schedule, p.Run); err != nil {
		return err
	}
	p.cron.Start()
	p.log.WithField("schedule", p.schedule).Info("Status polling started")
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish.
func (p *StatusPoller) Stop() {
	ctx := p.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		p.log.Warn("Timed out waiting for status poll to finish")
	}
}

// Run executes one poll pass. Exposed so it can also be triggered manually.
func (p *StatusPoller) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	orders, err := p.orders.ListWithShipments(ctx, statusPollBatchSize)
	if err != nil {
		p.log.WithError(err).Error("Failed to list orders for status poll")
		return
	}

	var updated int
	for _, order := range orders {
		if _, err := p.orchestrator.RetrieveStatus(ctx, order.ID); err != nil {
			p.log.WithError(err).WithField("order", order.Number).
				Warn("Status poll failed for order")
			continue
		}
		updated++
	}

	p.log.WithFields(logrus.Fields{
		"orders":  len(orders),
		"updated": updated,
	}).Info("Status poll completed")
}
