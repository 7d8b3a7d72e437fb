package buz

import "time"

// Transport types supported by the Boekuwzending platform. This integration
// only books road transport.
const (
	TransportTypeRoad = "road"
)

// Item types accepted on a shipment.
const (
	ItemTypePackage    = "package"
	ItemTypePalletEuro = "pallet-euro"
)

// Address is a shipment destination. Number and NumberAddition are parsed
// heuristically from free-text address lines and may legitimately be empty.
type Address struct {
	Street         string `json:"street,omitempty"`
	Number         string `json:"number,omitempty"`
	NumberAddition string `json:"numberAddition,omitempty"`
	Postcode       string `json:"postcode,omitempty"`
	City           string `json:"city,omitempty"`
	CountryCode    string `json:"countryCode,omitempty"`
	PrivateAddress bool   `json:"privateAddress"`
}

// Contact is the person or company a shipment is addressed to.
type Contact struct {
	Name         string `json:"name,omitempty"`
	Company      string `json:"company,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

// Item is one parcel or pallet within a shipment. Dimensions are in
// centimeters, weight in kilograms.
type Item struct {
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
	Quantity    int     `json:"quantity"`
	Weight      float64 `json:"weight"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Value       float64 `json:"value,omitempty"`
}

// DispatchInstruction tells the carrier when the shipment is ready for pickup.
type DispatchInstruction struct {
	Date string `json:"date,omitempty"`
}

// NewDispatchInstruction returns a dispatch instruction for the given date,
// keeping only the calendar day.
func NewDispatchInstruction(date time.Time) DispatchInstruction {
	return DispatchInstruction{Date: date.Format("2006-01-02")}
}

// PickupPoint is a third-party location the customer selected instead of home
// delivery.
type PickupPoint struct {
	Identifier      string `json:"identifier"`
	DistributorCode string `json:"distributorCode"`
	Name            string `json:"name"`
	Country         string `json:"country"`
	Postcode        string `json:"postcode"`
	Street          string `json:"street"`
	Number          string `json:"number"`
	City            string `json:"city"`
}

// ShipmentDraft is a shipment as submitted to the platform, either for a rate
// matrix lookup or for actual creation.
type ShipmentDraft struct {
	ShipToContact    Contact             `json:"shipToContact"`
	ShipToAddress    Address             `json:"shipToAddress"`
	Items            []Item              `json:"items"`
	TransportType    string              `json:"transportType"`
	Dispatch         DispatchInstruction `json:"dispatch"`
	InvoiceReference string              `json:"invoiceReference,omitempty"`
	Service          string              `json:"service,omitempty"`
	PickupPoint      *PickupPoint        `json:"pickupPoint,omitempty"`

	// Related holds the id of an earlier shipment on the same order when this
	// draft books an additional label for it.
	Related string `json:"related,omitempty"`
}

// Label is a printable waybill for one parcel within a shipment.
type Label struct {
	ID                string `json:"id"`
	Waybill           string `json:"waybill"`
	TrackAndTraceLink string `json:"trackAndTraceLink"`
}

// Shipment is a booked transport job as returned by the platform.
type Shipment struct {
	ID       string  `json:"id"`
	Sequence string  `json:"sequence"`
	Labels   []Label `json:"labels"`
}

// MatrixService describes one service option within a rate matrix.
type MatrixService struct {
	Key                   string `json:"key"`
	Name                  string `json:"name"`
	Code                  string `json:"code"`
	Description           string `json:"description"`
	DistributorIdentifier string `json:"distributorIdentifier"`
	PickupPoint           bool   `json:"pickupPoint"`
}

// MatrixRate is one row of a rate matrix: a service plus its price.
type MatrixRate struct {
	Service MatrixService `json:"service"`
	Price   float64       `json:"price"`
}

// Matrix is a carrier-computed price table for a shipment draft.
type Matrix struct {
	Rates []MatrixRate `json:"rates"`
}

// TrackAndTraceStatus is one status entry on a label's track-and-trace record.
type TrackAndTraceStatus struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

// TrackAndTrace is the tracking record for a single label.
type TrackAndTrace struct {
	ID       string                `json:"id"`
	Waybill  string                `json:"waybill"`
	Statuses []TrackAndTraceStatus `json:"statuses"`
}

// ActiveStatus returns the currently active status entry, or nil when the
// carrier has not reported one.
func (t *TrackAndTrace) ActiveStatus() *TrackAndTraceStatus {
	for i := range t.Statuses {
		if t.Statuses[i].Active {
			return &t.Statuses[i]
		}
	}
	return nil
}

// OrderLineDraft is one line of a platform order.
type OrderLineDraft struct {
	ExternalID  string  `json:"externalId"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Value       float64 `json:"value"`
	SkuNumber   string  `json:"skuNumber,omitempty"`
}

// OrderDraft is a host order as submitted to the platform for syncing.
type OrderDraft struct {
	ExternalID      string           `json:"externalId"`
	Reference       string           `json:"reference"`
	CreatedAtSource time.Time        `json:"createdAtSource"`
	ShipToContact   Contact          `json:"shipToContact"`
	ShipToAddress   Address          `json:"shipToAddress"`
	OrderLines      []OrderLineDraft `json:"orderLines"`
}

// PlatformOrder is the carrier-side representation of a synced host order.
type PlatformOrder struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

// Account identifies the authenticated API client, used for connectivity
// checks.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ServiceQuote is a single rate option returned by the ad-hoc rate request
// endpoint used from the admin services dialog.
type ServiceQuote struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}
