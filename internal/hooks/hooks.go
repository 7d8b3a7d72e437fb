// Package hooks carries the extension points external integrations can use
// to adjust drafts before they reach the carrier. Filters run in
// registration order as the last step before the carrier call; the address
// parser exposes its own filter point.
package hooks

import (
	"sync"

	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/models"
)

// ShipmentFilter adjusts a shipment draft before creation.
type ShipmentFilter func(draft buz.ShipmentDraft, order *models.Order) buz.ShipmentDraft

// OrderFilter adjusts a platform order draft before creation.
type OrderFilter func(draft buz.OrderDraft, order *models.Order) buz.OrderDraft

// Registry holds registered filters. Safe for concurrent use; registration
// normally happens once at startup.
type Registry struct {
	mu              sync.RWMutex
	shipmentFilters []ShipmentFilter
	orderFilters    []OrderFilter
}

// NewRegistry creates an empty filter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnCreateShipment registers a filter applied to every shipment draft.
func (r *Registry) OnCreateShipment(f ShipmentFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shipmentFilters = append(r.shipmentFilters, f)
}

// OnCreateOrder registers a filter applied to every platform order draft.
func (r *Registry) OnCreateOrder(f OrderFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderFilters = append(r.orderFilters, f)
}

// ApplyCreateShipment runs the shipment filters.
func (r *Registry) ApplyCreateShipment(draft buz.ShipmentDraft, order *models.Order) buz.ShipmentDraft {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.shipmentFilters {
		draft = f(draft, order)
	}
	return draft
}

// ApplyCreateOrder runs the order filters.
func (r *Registry) ApplyCreateOrder(draft buz.OrderDraft, order *models.Order) buz.OrderDraft {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.orderFilters {
		draft = f(draft, order)
	}
	return draft
}
