package rates

import (
	"strings"

	"boekuwzending-connect/internal/buz"
)

// Metadata keys persisted on an order's shipping line so later stages can
// recognize and reconstruct the chosen rate. The underscore prefix marks them
// as internal to the integration.
const (
	MetaServiceID   = "_service_id"
	MetaBuz         = "_buz"
	MetaPickup      = "_pick_up"
	MetaAddress     = "_address"
	MetaDistributor = "_distributor"
)

// RateView is a matrix rate shaped for checkout display and shipping-line
// persistence. MetaData always carries MetaBuz=true so downstream code can
// tell carrier-originated shipping lines apart from unrelated methods.
type RateView struct {
	ID       string                 `json:"id"`
	Label    string                 `json:"label"`
	Cost     float64                `json:"cost"`
	MetaData map[string]interface{} `json:"meta_data"`
}

// IsPickup reports whether the view describes a pick-up-point rate.
func (v RateView) IsPickup() bool {
	pickup, _ := v.MetaData[MetaPickup].(bool)
	return pickup
}

// ToDeliveryRate maps a matrix rate to a home-delivery rate view.
func ToDeliveryRate(rate buz.MatrixRate) RateView {
	return RateView{
		ID:    rate.Service.Key,
		Label: rate.Service.Name,
		Cost:  rate.Price,
		MetaData: map[string]interface{}{
			MetaServiceID: rate.Service.Key,
			MetaBuz:       true,
			MetaPickup:    false,
		},
	}
}

// ToPickupRate maps a matrix rate to a pick-up-point rate view, embedding the
// destination the pick-up-point selector needs.
func ToPickupRate(rate buz.MatrixRate, postcode, country string) RateView {
	return RateView{
		ID:    rate.Service.Key,
		Label: rate.Service.Name,
		Cost:  rate.Price,
		MetaData: map[string]interface{}{
			MetaServiceID: rate.Service.Key,
			MetaBuz:       true,
			MetaPickup:    true,
			MetaAddress: map[string]string{
				"country":  country,
				"postcode": SanitizePostcode(postcode),
			},
			MetaDistributor: rate.Service.DistributorIdentifier,
		},
	}
}

// SanitizePostcode strips spaces, the format the carrier expects.
func SanitizePostcode(postcode string) string {
	return strings.ReplaceAll(postcode, " ", "")
}
