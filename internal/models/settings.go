package models

import (
	"time"

	"github.com/google/uuid"
)

// Fallback values used when a setting was never configured.
const (
	DefaultItemWeight = 1.0  // kg
	DefaultItemLength = 10.0 // cm
	DefaultItemWidth  = 10.0 // cm
	DefaultItemHeight = 10.0 // cm

	DefaultSyncStatus    = "processing"
	DefaultShippedStatus = "completed"
)

// IntegrationSettings is the persisted configuration for one install. A
// single row exists per database; zero numeric and empty string fields fall
// back to the defaults above through the settings resolver.
type IntegrationSettings struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`

	// Carrier API credentials
	ClientID     string `json:"clientId" gorm:"type:varchar(255)"`
	ClientSecret string `json:"-" gorm:"type:varchar(255)"`
	TestMode     bool   `json:"testMode" gorm:"default:false"`

	// Feature toggles
	SyncOrders                 bool `json:"syncOrders" gorm:"default:false"`
	MatricesEnabled            bool `json:"matricesEnabled" gorm:"default:false"`
	ShipmentsOnPayment         bool `json:"shipmentsOnPayment" gorm:"default:false"`
	Debug                      bool `json:"debug" gorm:"default:false"`
	AdminErrorMail             bool `json:"adminErrorMail" gorm:"default:false"`
	OrderStatusChangeOnWebhook bool `json:"orderStatusChangeOnWebhook" gorm:"default:false"`

	AdminEmail string `json:"adminEmail" gorm:"type:varchar(255)"`

	// Item defaults applied when a product carries no dimensions
	DefaultWeight float64 `json:"defaultWeight" gorm:"type:decimal(10,3);default:0"`
	DefaultLength float64 `json:"defaultLength" gorm:"type:decimal(10,2);default:0"`
	DefaultWidth  float64 `json:"defaultWidth" gorm:"type:decimal(10,2);default:0"`
	DefaultHeight float64 `json:"defaultHeight" gorm:"type:decimal(10,2);default:0"`

	// Order status mapping
	SyncStatus    string `json:"syncStatus" gorm:"type:varchar(50)"`
	ShippedStatus string `json:"shippedStatus" gorm:"type:varchar(50)"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// NoticeLevel classifies admin notices.
type NoticeLevel string

const (
	NoticeLevelInfo    NoticeLevel = "info"
	NoticeLevelWarning NoticeLevel = "warning"
	NoticeLevelError   NoticeLevel = "error"
)

// AdminNotice is a dismissible message surfaced on the admin dashboard,
// typically recording a failed carrier call.
type AdminNotice struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Level     NoticeLevel `json:"level" gorm:"type:varchar(20);not null;default:'error'"`
	Message   string      `json:"message" gorm:"type:text;not null"`
	Dismissed bool        `json:"dismissed" gorm:"default:false;index"`
	CreatedAt time.Time   `json:"createdAt" gorm:"autoCreateTime"`
}
