package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Metadata keys used on the order metadata document. The shapes behind them
// are the typed records below; everything else in the document is passed
// through untouched.
const (
	MetaKeyData      = "_boekuwzending_data"
	MetaKeyShipments = "_boekuwzending_shipments"
	MetaKeyStatus    = "_boekuwzending_status"
	MetaKeyOrders    = "_boekuwzending_orders"
)

// OrderMetadata is the order's key-value metadata document, stored as JSONB.
// Values stay raw until a typed accessor decodes them, so keys written by
// other integrations survive round-trips untouched.
type OrderMetadata map[string]json.RawMessage

// Value implements driver.Valuer.
func (m OrderMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *OrderMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = OrderMetadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	if len(data) == 0 {
		*m = OrderMetadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// LabelMeta is a label as persisted under a shipment's metadata entry.
type LabelMeta struct {
	ID                string `json:"id"`
	Waybill           string `json:"waybill"`
	TrackAndTraceLink string `json:"track_and_trace_link,omitempty"`
}

// ShipmentMeta is one booked shipment as persisted in the shipments map.
type ShipmentMeta struct {
	ID       string      `json:"id"`
	Sequence string      `json:"sequence"`
	Labels   []LabelMeta `json:"labels"`
}

// StatusEntry is the tracked state of one label.
type StatusEntry struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

// PlatformOrderRef references a platform order created for this host order.
type PlatformOrderRef struct {
	ID string `json:"id"`
}

// PickupPointData is the pick-up point chosen at checkout.
type PickupPointData struct {
	Identifier      string `json:"identifier"`
	DistributorCode string `json:"distributor_code"`
	Name            string `json:"name"`
	Country         string `json:"country"`
	Postcode        string `json:"postcode"`
	Street          string `json:"street"`
	Number          string `json:"number"`
	City            string `json:"city"`
}

// OrderData is the document under MetaKeyData.
type OrderData struct {
	PickUpPoint *PickupPointData `json:"pick_up_point,omitempty"`
}

var errMissingKey = errors.New("metadata key not set")

func (m OrderMetadata) get(key string, out interface{}) error {
	raw, ok := m[key]
	if !ok || len(raw) == 0 {
		return errMissingKey
	}
	return json.Unmarshal(raw, out)
}

func (m OrderMetadata) set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m[key] = raw
	return nil
}

// Shipments decodes the shipments map. Absent key yields an empty map.
func (m OrderMetadata) Shipments() (map[string]ShipmentMeta, error) {
	shipments := map[string]ShipmentMeta{}
	if err := m.get(MetaKeyShipments, &shipments); err != nil && !errors.Is(err, errMissingKey) {
		return nil, fmt.Errorf("failed to decode shipments metadata: %w", err)
	}
	return shipments, nil
}

// PutShipment upserts one shipment entry by id, leaving the rest of the map
// untouched.
func (m OrderMetadata) PutShipment(shipment ShipmentMeta) error {
	shipments, err := m.Shipments()
	if err != nil {
		return err
	}
	shipments[shipment.ID] = shipment
	return m.set(MetaKeyShipments, shipments)
}

// ShipmentIDs returns the stored shipment ids in stable order.
func (m OrderMetadata) ShipmentIDs() ([]string, error) {
	shipments, err := m.Shipments()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(shipments))
	for id := range shipments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FirstShipmentID returns the id an additional label should relate to, or
// empty when the order has no shipment yet.
func (m OrderMetadata) FirstShipmentID() (string, error) {
	ids, err := m.ShipmentIDs()
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// Statuses decodes the per-label status map. Absent key yields an empty map.
func (m OrderMetadata) Statuses() (map[string]StatusEntry, error) {
	statuses := map[string]StatusEntry{}
	if err := m.get(MetaKeyStatus, &statuses); err != nil && !errors.Is(err, errMissingKey) {
		return nil, fmt.Errorf("failed to decode status metadata: %w", err)
	}
	return statuses, nil
}

// PutStatus upserts one label's status entry.
func (m OrderMetadata) PutStatus(labelID string, entry StatusEntry) error {
	statuses, err := m.Statuses()
	if err != nil {
		return err
	}
	statuses[labelID] = entry
	return m.set(MetaKeyStatus, statuses)
}

// PlatformOrders decodes the synced platform order list.
func (m OrderMetadata) PlatformOrders() ([]PlatformOrderRef, error) {
	var refs []PlatformOrderRef
	if err := m.get(MetaKeyOrders, &refs); err != nil && !errors.Is(err, errMissingKey) {
		return nil, fmt.Errorf("failed to decode platform order metadata: %w", err)
	}
	return refs, nil
}

// AppendPlatformOrder appends a platform order reference.
func (m OrderMetadata) AppendPlatformOrder(ref PlatformOrderRef) error {
	refs, err := m.PlatformOrders()
	if err != nil {
		return err
	}
	return m.set(MetaKeyOrders, append(refs, ref))
}

// Data decodes the MetaKeyData document. Absent key yields a zero value.
func (m OrderMetadata) Data() (OrderData, error) {
	var data OrderData
	if err := m.get(MetaKeyData, &data); err != nil && !errors.Is(err, errMissingKey) {
		return OrderData{}, fmt.Errorf("failed to decode order data metadata: %w", err)
	}
	return data, nil
}

// SetPickUpPoint stores the chosen pick-up point, preserving sibling fields.
func (m OrderMetadata) SetPickUpPoint(point PickupPointData) error {
	data, err := m.Data()
	if err != nil {
		return err
	}
	data.PickUpPoint = &point
	return m.set(MetaKeyData, data)
}

// JSONMap is a generic JSONB object column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb column type %T", value)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}
