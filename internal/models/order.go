package models

import (
	"time"

	"github.com/google/uuid"
)

// Order mirrors a host (WooCommerce) order with the fields the integration
// needs: shipping destination, line items for draft construction, shipping
// lines holding the chosen rate, and the integration metadata document.
type Order struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Number   string    `json:"number" gorm:"type:varchar(100);not null;uniqueIndex"`
	Status   string    `json:"status" gorm:"type:varchar(50);not null;default:'pending';index"`
	Currency string    `json:"currency" gorm:"type:varchar(10);default:'EUR'"`

	// Shipping destination
	ShippingName     string `json:"shippingName" gorm:"type:varchar(255)"`
	ShippingCompany  string `json:"shippingCompany" gorm:"type:varchar(255)"`
	ShippingEmail    string `json:"shippingEmail" gorm:"type:varchar(255)"`
	ShippingPhone    string `json:"shippingPhone" gorm:"type:varchar(50)"`
	ShippingAddress  string `json:"shippingAddress" gorm:"type:varchar(500)"` // free-form line, parsed heuristically
	ShippingPostcode string `json:"shippingPostcode" gorm:"type:varchar(20)"`
	ShippingCity     string `json:"shippingCity" gorm:"type:varchar(100)"`
	ShippingCountry  string `json:"shippingCountry" gorm:"type:varchar(10)"` // ISO 2-letter code

	Lines         []OrderLine    `json:"lines,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippingLines []ShippingLine `json:"shippingLines,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	Metadata OrderMetadata `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// NeedsShipping reports whether any line item is a physical product.
func (o *Order) NeedsShipping() bool {
	for _, line := range o.Lines {
		if !line.Virtual {
			return true
		}
	}
	return false
}

// CarrierShippingLine returns the shipping line carrying the chosen carrier
// rate, identified by the method-id prefix, or nil when none was chosen.
func (o *Order) CarrierShippingLine() *ShippingLine {
	for i := range o.ShippingLines {
		if o.ShippingLines[i].IsCarrierMethod() {
			return &o.ShippingLines[i]
		}
	}
	return nil
}

// HasNonCarrierShippingLine reports whether the order already carries a
// shipping method from outside this integration.
func (o *Order) HasNonCarrierShippingLine() bool {
	for i := range o.ShippingLines {
		if !o.ShippingLines[i].IsCarrierMethod() {
			return true
		}
	}
	return false
}

// OrderLine is one product line on a host order. Dimensions are in
// centimeters, weight in kilograms; zero values fall back to configured
// defaults when a shipment draft is built.
type OrderLine struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrderID   uuid.UUID `json:"orderId" gorm:"type:uuid;not null;index"`
	ProductID string    `json:"productId" gorm:"type:varchar(100)"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	SKU       string    `json:"sku" gorm:"type:varchar(100)"`
	Quantity  int       `json:"quantity" gorm:"not null;default:1"`
	Total     float64   `json:"total" gorm:"type:decimal(12,2)"`
	Weight    float64   `json:"weight" gorm:"type:decimal(10,3)"`
	Length    float64   `json:"length" gorm:"type:decimal(10,2)"`
	Width     float64   `json:"width" gorm:"type:decimal(10,2)"`
	Height    float64   `json:"height" gorm:"type:decimal(10,2)"`
	Virtual   bool      `json:"virtual" gorm:"default:false"`
}

// Shipping method ids written by the checkout integration.
const (
	MethodIDPrefix      = "buz_wc_shipping_method"
	MethodIDDelivery    = "buz_wc_shipping_method_delivery"
	MethodIDPickupPoint = "buz_wc_shipping_method_pickuppoint"
)

// ShippingLine is a shipping method attached to an order, with the rate
// metadata persisted at selection time.
type ShippingLine struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrderID     uuid.UUID `json:"orderId" gorm:"type:uuid;not null;index"`
	MethodID    string    `json:"methodId" gorm:"type:varchar(100);not null"`
	MethodTitle string    `json:"methodTitle" gorm:"type:varchar(255)"`
	Total       float64   `json:"total" gorm:"type:decimal(12,2)"`
	Meta        JSONMap   `json:"meta" gorm:"type:jsonb;default:'{}'"`
}

// IsCarrierMethod reports whether this line was written by the integration.
func (l *ShippingLine) IsCarrierMethod() bool {
	return len(l.MethodID) >= len(MethodIDPrefix) && l.MethodID[:len(MethodIDPrefix)] == MethodIDPrefix
}

// IsPickupPoint reports whether the line is the pick-up-point method.
func (l *ShippingLine) IsPickupPoint() bool {
	return l.MethodID == MethodIDPickupPoint
}

// ServiceCode returns the stored carrier service code, empty when absent.
func (l *ShippingLine) ServiceCode() string {
	code, _ := l.Meta["_service_id"].(string)
	return code
}

// OrderNote is an audit note on an order, mirroring host order notes.
type OrderNote struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrderID   uuid.UUID `json:"orderId" gorm:"type:uuid;not null;index"`
	Note      string    `json:"note" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}
