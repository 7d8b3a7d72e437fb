package settings

import (
	"context"
	"fmt"

	"boekuwzending-connect/internal/models"
)

// Store loads the persisted integration settings row.
type Store interface {
	Get(ctx context.Context) (*models.IntegrationSettings, error)
}

// Resolver resolves configuration with hardcoded fallbacks for anything the
// admin never set. Accessors are pure reads; nothing here mutates state.
type Resolver struct {
	store Store
}

// NewResolver creates a settings resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads the current settings snapshot.
func (r *Resolver) Resolve(ctx context.Context) (*Settings, error) {
	row, err := r.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration settings: %w", err)
	}
	return &Settings{row: row}, nil
}

// Settings is a read view over one settings row.
type Settings struct {
	row *models.IntegrationSettings
}

// ClientID returns the configured API client id.
func (s *Settings) ClientID() string { return s.row.ClientID }

// ClientSecret returns the configured API client secret.
func (s *Settings) ClientSecret() string { return s.row.ClientSecret }

// TestMode reports whether the staging API environment is configured.
func (s *Settings) TestMode() bool { return s.row.TestMode }

// HasCredentials reports whether both credential halves are present.
func (s *Settings) HasCredentials() bool {
	return s.row.ClientID != "" && s.row.ClientSecret != ""
}

// DefaultWeight returns the fallback item weight in kg.
func (s *Settings) DefaultWeight() float64 {
	if s.row.DefaultWeight > 0 {
		return s.row.DefaultWeight
	}
	return models.DefaultItemWeight
}

// DefaultLength returns the fallback item length in cm.
func (s *Settings) DefaultLength() float64 {
	if s.row.DefaultLength > 0 {
		return s.row.DefaultLength
	}
	return models.DefaultItemLength
}

// DefaultWidth returns the fallback item width in cm.
func (s *Settings) DefaultWidth() float64 {
	if s.row.DefaultWidth > 0 {
		return s.row.DefaultWidth
	}
	return models.DefaultItemWidth
}

// DefaultHeight returns the fallback item height in cm.
func (s *Settings) DefaultHeight() float64 {
	if s.row.DefaultHeight > 0 {
		return s.row.DefaultHeight
	}
	return models.DefaultItemHeight
}

// SyncOrdersEnabled reports whether orders are exported to the platform on
// status transitions.
func (s *Settings) SyncOrdersEnabled() bool { return s.row.SyncOrders }

// MatricesEnabled reports whether checkout rate matrices are configured.
func (s *Settings) MatricesEnabled() bool { return s.row.MatricesEnabled }

// CreateShipmentOnPaymentEnabled reports whether shipments are booked
// automatically on payment. Mutually exclusive with order syncing; syncing
// wins when both are on.
func (s *Settings) CreateShipmentOnPaymentEnabled() bool {
	if s.row.SyncOrders {
		return false
	}
	return s.row.ShipmentsOnPayment
}

// DebugEnabled reports whether debug logging is on.
func (s *Settings) DebugEnabled() bool { return s.row.Debug }

// AdminErrorMailEnabled reports whether carrier failures are mailed to the
// admin.
func (s *Settings) AdminErrorMailEnabled() bool {
	return s.row.AdminErrorMail && s.row.AdminEmail != ""
}

// AdminEmail returns the admin notification address.
func (s *Settings) AdminEmail() string { return s.row.AdminEmail }

// OrderStatusChangeOnWebhookEnabled reports whether a label webhook moves the
// order to the shipped status.
func (s *Settings) OrderStatusChangeOnWebhookEnabled() bool {
	return s.row.OrderStatusChangeOnWebhook
}

// SyncStatus returns the order status that triggers an export.
func (s *Settings) SyncStatus() string {
	if s.row.SyncStatus != "" {
		return s.row.SyncStatus
	}
	return models.DefaultSyncStatus
}

// ShippedStatus returns the order status applied after label creation.
func (s *Settings) ShippedStatus() string {
	if s.row.ShippedStatus != "" {
		return s.row.ShippedStatus
	}
	return models.DefaultShippedStatus
}

// IsUsingMatrices reports whether matrix-based rates apply to the given
// order: either the feature is on, or the order already carries carrier
// shipments booked through a carrier shipping method.
func (s *Settings) IsUsingMatrices(order *models.Order) bool {
	if s.row.MatricesEnabled {
		return true
	}
	if order == nil {
		return false
	}
	shipments, err := order.Metadata.Shipments()
	if err != nil {
		return false
	}
	return len(shipments) > 0 && order.CarrierShippingLine() != nil
}
