package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/address"
	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/hooks"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/notice"
	"boekuwzending-connect/internal/rates"
	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/settings"
)

// ErrValidation marks input problems detected before any carrier call.
var ErrValidation = errors.New("validation failed")

// MinimumItemWeight floors the computed shipment weight so zero-weight
// products still produce bookable shipments.
const MinimumItemWeight = 0.1

// CarrierClient is the slice of the platform API the orchestrator uses.
type CarrierClient interface {
	GetMatrix(ctx context.Context, draft buz.ShipmentDraft) (*buz.Matrix, error)
	RequestRates(ctx context.Context, draft buz.ShipmentDraft) ([]buz.ServiceQuote, error)
	CreateShipment(ctx context.Context, draft buz.ShipmentDraft) (*buz.Shipment, error)
	GetShipment(ctx context.Context, id string) (*buz.Shipment, error)
	DownloadShipmentLabels(ctx context.Context, id string) ([]byte, error)
	DownloadLabels(ctx context.Context, shipmentIDs []string) ([]byte, error)
	CreateOrder(ctx context.Context, draft buz.OrderDraft) (*buz.PlatformOrder, error)
	GetTrackAndTrace(ctx context.Context, labelID string) (*buz.TrackAndTrace, error)
}

// ClientFactory builds a carrier client for the stored credentials. Settings
// can change at runtime, so the orchestrator resolves a client per call.
type ClientFactory func(clientID, clientSecret string, testMode bool) CarrierClient

// EventPublisher broadcasts lifecycle events. Implementations must be
// best-effort; publishing never fails an operation.
type EventPublisher interface {
	ShipmentCreated(order *models.Order, shipment *buz.Shipment)
	OrderSynced(order *models.Order, platformOrder *buz.PlatformOrder)
	LabelUpdated(order *models.Order, labelID, status string)
}

// ItemOverride is explicit item data from the admin services dialog,
// replacing product-derived dimensions.
type ItemOverride struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Weight      float64 `json:"weight"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Value       float64 `json:"value"`
}

// RateItem is one cart line in a checkout rate request.
type RateItem struct {
	Quantity int     `json:"quantity"`
	Weight   float64 `json:"weight"`
	Length   float64 `json:"length"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Value    float64 `json:"value"`
}

// RateRequest describes a checkout destination plus cart contents.
type RateRequest struct {
	Address  string     `json:"address"`
	Postcode string     `json:"postcode"`
	City     string     `json:"city"`
	Country  string     `json:"country"`
	Items    []RateItem `json:"items"`
}

// ShipmentOrchestrator owns shipment and platform-order lifecycle against
// the carrier: draft construction, creation, status polling, label
// downloads, and what gets written back into order metadata.
type ShipmentOrchestrator struct {
	orders    repository.OrderRepository
	resolver  *settings.Resolver
	clients   ClientFactory
	parser    *address.Parser
	registry  *hooks.Registry
	notifier  *notice.Notifier
	publisher EventPublisher
	log       *logrus.Entry
}

// NewShipmentOrchestrator wires the orchestrator. publisher may be nil.
func NewShipmentOrchestrator(
	orders repository.OrderRepository,
	resolver *settings.Resolver,
	clients ClientFactory,
	parser *address.Parser,
	registry *hooks.Registry,
	notifier *notice.Notifier,
	publisher EventPublisher,
	log *logrus.Entry,
) *ShipmentOrchestrator {
	return &ShipmentOrchestrator{
		orders:    orders,
		resolver:  resolver,
		clients:   clients,
		parser:    parser,
		registry:  registry,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
	}
}

func (s *ShipmentOrchestrator) client(cfg *settings.Settings) (CarrierClient, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("%w: carrier API credentials are not configured", ErrValidation)
	}
	return s.clients(cfg.ClientID(), cfg.ClientSecret(), cfg.TestMode()), nil
}

// BuildShipmentDraft assembles the carrier draft for an order. When override
// is non-nil its single item replaces product-derived dimensions; when
// serviceCode is empty the order's chosen shipping method supplies service
// and pick-up point.
func (s *ShipmentOrchestrator) BuildShipmentDraft(ctx context.Context, order *models.Order, override *ItemOverride, serviceCode string) (buz.ShipmentDraft, error) {
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return buz.ShipmentDraft{}, err
	}

	parsed := s.parser.Parse(order.ShippingAddress)
	if parsed.Street == "" || order.ShippingCity == "" {
		return buz.ShipmentDraft{}, fmt.Errorf("%w: order %s is missing a shippable street or city", ErrValidation, order.Number)
	}

	draft := buz.ShipmentDraft{
		ShipToContact: buz.Contact{
			Name:         order.ShippingName,
			Company:      order.ShippingCompany,
			EmailAddress: order.ShippingEmail,
			PhoneNumber:  order.ShippingPhone,
		},
		ShipToAddress: buz.Address{
			Street:         parsed.Street,
			Number:         parsed.Number,
			NumberAddition: parsed.NumberAddition,
			Postcode:       rates.SanitizePostcode(order.ShippingPostcode),
			City:           order.ShippingCity,
			CountryCode:    order.ShippingCountry,
			PrivateAddress: order.ShippingCompany == "",
		},
		TransportType:    buz.TransportTypeRoad,
		Dispatch:         buz.NewDispatchInstruction(time.Now().AddDate(0, 0, 1)),
		InvoiceReference: order.Number,
	}

	if override != nil {
		draft.Items = []buz.Item{itemFromOverride(*override, cfg)}
	} else {
		draft.Items = []buz.Item{itemFromOrder(order, cfg)}
	}

	if serviceCode != "" {
		draft.Service = serviceCode
		return draft, nil
	}

	line := order.CarrierShippingLine()
	if line == nil {
		return draft, nil
	}
	draft.Service = line.ServiceCode()
	if line.IsPickupPoint() {
		data, err := order.Metadata.Data()
		if err != nil {
			return buz.ShipmentDraft{}, err
		}
		if data.PickUpPoint != nil {
			draft.PickupPoint = pickupPointResource(*data.PickUpPoint)
		}
	}

	return draft, nil
}

func itemFromOverride(override ItemOverride, cfg *settings.Settings) buz.Item {
	item := buz.Item{
		Description: override.Description,
		Type:        buz.ItemTypePackage,
		Quantity:    override.Quantity,
		Weight:      override.Weight,
		Length:      override.Length,
		Width:       override.Width,
		Height:      override.Height,
		Value:       override.Value,
	}
	if item.Description == "" {
		item.Description = "Item"
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	applyItemDefaults(&item, cfg)
	return item
}

// itemFromOrder derives one package from the first line item's dimensions,
// with the weight summed over every line.
func itemFromOrder(order *models.Order, cfg *settings.Settings) buz.Item {
	item := buz.Item{
		Description: "Item",
		Type:        buz.ItemTypePackage,
		Quantity:    1,
	}
	if len(order.Lines) > 0 {
		first := order.Lines[0]
		item.Length = first.Length
		item.Width = first.Width
		item.Height = first.Height
	}
	applyItemDefaults(&item, cfg)

	var weight float64
	for _, line := range order.Lines {
		lineWeight := line.Weight
		if lineWeight <= 0 {
			lineWeight = cfg.DefaultWeight()
		}
		weight += float64(line.Quantity) * lineWeight
	}
	if weight < MinimumItemWeight {
		weight = MinimumItemWeight
	}
	item.Weight = weight

	return item
}

func applyItemDefaults(item *buz.Item, cfg *settings.Settings) {
	if item.Weight <= 0 {
		item.Weight = cfg.DefaultWeight()
	}
	if item.Length <= 0 {
		item.Length = cfg.DefaultLength()
	}
	if item.Width <= 0 {
		item.Width = cfg.DefaultWidth()
	}
	if item.Height <= 0 {
		item.Height = cfg.DefaultHeight()
	}
}

func pickupPointResource(data models.PickupPointData) *buz.PickupPoint {
	return &buz.PickupPoint{
		Identifier:      data.Identifier,
		DistributorCode: data.DistributorCode,
		Name:            data.Name,
		Country:         data.Country,
		Postcode:        data.Postcode,
		Street:          data.Street,
		Number:          data.Number,
		City:            data.City,
	}
}

// CreateShipment books a shipment (or an additional label when the order
// already has one) and merges the result into the order's metadata.
//
// Carrier failures are reported through logs, an admin notice and optionally
// mail; the call then returns (nil, nil), meaning "not created, already
// reported". Validation errors return normally.
func (s *ShipmentOrchestrator) CreateShipment(ctx context.Context, orderID uuid.UUID, override *ItemOverride, serviceCode string) (*buz.Shipment, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	draft, err := s.BuildShipmentDraft(ctx, order, override, serviceCode)
	if err != nil {
		return nil, err
	}

	related, err := order.Metadata.FirstShipmentID()
	if err != nil {
		return nil, err
	}
	draft.Related = related

	draft = s.registry.ApplyCreateShipment(draft, order)

	shipment, err := client.CreateShipment(ctx, draft)
	if err != nil {
		if errors.Is(err, buz.ErrAuthorization) || errors.Is(err, buz.ErrRequest) {
			s.reportCarrierError(ctx, cfg, order, "create shipment", err)
			return nil, nil
		}
		return nil, err
	}

	labels := make([]models.LabelMeta, 0, len(shipment.Labels))
	for _, label := range shipment.Labels {
		labels = append(labels, models.LabelMeta{
			ID:                label.ID,
			Waybill:           label.Waybill,
			TrackAndTraceLink: label.TrackAndTraceLink,
		})
	}

	order, err = s.orders.UpdateMetadata(ctx, order.ID, func(meta models.OrderMetadata) error {
		return meta.PutShipment(models.ShipmentMeta{
			ID:       shipment.ID,
			Sequence: shipment.Sequence,
			Labels:   labels,
		})
	})
	if err != nil {
		return nil, err
	}

	note := fmt.Sprintf("Boekuwzending shipment created (%s)", shipment.Sequence)
	if related != "" {
		note = fmt.Sprintf("Boekuwzending additional label created (%s)", shipment.Sequence)
	}
	if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
		s.log.WithError(err).Warn("Failed to record shipment note")
	}

	if s.publisher != nil {
		s.publisher.ShipmentCreated(order, shipment)
	}

	s.log.WithFields(logrus.Fields{
		"order":    order.Number,
		"shipment": shipment.ID,
		"related":  related,
	}).Info("Shipment created")

	return shipment, nil
}

func (s *ShipmentOrchestrator) reportCarrierError(ctx context.Context, cfg *settings.Settings, order *models.Order, action string, cause error) {
	s.log.WithError(cause).WithField("order", order.Number).Errorf("Carrier call failed: %s", action)
	s.notifier.Error(ctx, fmt.Sprintf("Boekuwzending: failed to %s for order %s: %v", action, order.Number, cause))
	if cfg.AdminErrorMailEnabled() {
		s.notifier.MailAdminError(cfg.AdminEmail(), order.Number, cause)
	}
}

// RetrieveStatus polls track-and-trace for every stored label and merges the
// results into the status metadata. Best-effort: individual lookup failures
// are logged and skipped.
func (s *ShipmentOrchestrator) RetrieveStatus(ctx context.Context, orderID uuid.UUID) (map[string]models.StatusEntry, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	shipments, err := order.Metadata.Shipments()
	if err != nil {
		return nil, err
	}

	updates := map[string]models.StatusEntry{}
	for _, shipment := range shipments {
		for _, label := range shipment.Labels {
			tt, err := client.GetTrackAndTrace(ctx, label.ID)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"order": order.Number,
					"label": label.ID,
				}).Warn("Track-and-trace lookup failed")
				continue
			}
			entry := models.StatusEntry{TrackingNumber: label.Waybill}
			if tt.Waybill != "" {
				entry.TrackingNumber = tt.Waybill
			}
			if active := tt.ActiveStatus(); active != nil {
				entry.Status = active.Status
			}
			updates[label.ID] = entry
		}
	}

	if len(updates) == 0 {
		return updates, nil
	}

	_, err = s.orders.UpdateMetadata(ctx, order.ID, func(meta models.OrderMetadata) error {
		for labelID, entry := range updates {
			if err := meta.PutStatus(labelID, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updates, nil
}

// DownloadLabels streams the combined PDF for all of an order's shipments.
// Failures propagate: this is a direct user-initiated download.
func (s *ShipmentOrchestrator) DownloadLabels(ctx context.Context, orderID uuid.UUID) ([]byte, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	ids, err := order.Metadata.ShipmentIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: order %s has no shipments", ErrValidation, order.Number)
	}

	return client.DownloadLabels(ctx, ids)
}

// RetrieveLabels streams the PDF for a single shipment.
func (s *ShipmentOrchestrator) RetrieveLabels(ctx context.Context, shipmentID string) ([]byte, error) {
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}
	return client.DownloadShipmentLabels(ctx, shipmentID)
}

// CreateOrder exports the host order to the platform's order overview. On
// failure the error is reported and returned; callers decide how to surface
// it.
func (s *ShipmentOrchestrator) CreateOrder(ctx context.Context, orderID uuid.UUID) (*buz.PlatformOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	parsed := s.parser.Parse(order.ShippingAddress)
	draft := buz.OrderDraft{
		ExternalID:      order.ID.String(),
		Reference:       order.Number,
		CreatedAtSource: order.CreatedAt,
		ShipToContact: buz.Contact{
			Name:         order.ShippingName,
			Company:      order.ShippingCompany,
			EmailAddress: order.ShippingEmail,
			PhoneNumber:  order.ShippingPhone,
		},
		ShipToAddress: buz.Address{
			Street:         parsed.Street,
			Number:         parsed.Number,
			NumberAddition: parsed.NumberAddition,
			Postcode:       rates.SanitizePostcode(order.ShippingPostcode),
			City:           order.ShippingCity,
			CountryCode:    order.ShippingCountry,
			PrivateAddress: order.ShippingCompany == "",
		},
	}
	for _, line := range order.Lines {
		draft.OrderLines = append(draft.OrderLines, buz.OrderLineDraft{
			ExternalID:  line.ID.String(),
			Description: line.Name,
			Quantity:    line.Quantity,
			Value:       line.Total,
			SkuNumber:   line.SKU,
		})
	}

	draft = s.registry.ApplyCreateOrder(draft, order)

	platformOrder, err := client.CreateOrder(ctx, draft)
	if err != nil {
		s.reportCarrierError(ctx, cfg, order, "sync order", err)
		return nil, err
	}

	order, err = s.orders.UpdateMetadata(ctx, order.ID, func(meta models.OrderMetadata) error {
		return meta.AppendPlatformOrder(models.PlatformOrderRef{ID: platformOrder.ID})
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.AddNote(ctx, order.ID, fmt.Sprintf("Order synced to Boekuwzending (%s)", platformOrder.ID)); err != nil {
		s.log.WithError(err).Warn("Failed to record sync note")
	}

	if s.publisher != nil {
		s.publisher.OrderSynced(order, platformOrder)
	}

	return platformOrder, nil
}

// SyncOrder runs the automatic-export guard chain and exports the order when
// it passes. Skipped orders return nil.
func (s *ShipmentOrchestrator) SyncOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.NeedsShipping() {
		return nil
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if !cfg.SyncOrdersEnabled() {
		return nil
	}
	if order.Status != cfg.SyncStatus() {
		return nil
	}
	_, err = s.CreateOrder(ctx, orderID)
	return err
}

// CreateShipmentOnOrderPaid books a shipment when payment completes, if the
// feature is on and the order has none yet.
func (s *ShipmentOrchestrator) CreateShipmentOnOrderPaid(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if !cfg.CreateShipmentOnPaymentEnabled() {
		return nil
	}
	existing, err := order.Metadata.FirstShipmentID()
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	_, err = s.CreateShipment(ctx, orderID, nil, "")
	return err
}

// FetchRates prices a checkout destination against the rate matrices and
// returns both delivery and pick-up views.
func (s *ShipmentOrchestrator) FetchRates(ctx context.Context, req RateRequest) ([]rates.RateView, error) {
	matrix, err := s.fetchMatrix(ctx, req)
	if err != nil {
		return nil, err
	}
	views := make([]rates.RateView, 0, len(matrix.Rates))
	for _, rate := range matrix.Rates {
		if rate.Service.PickupPoint {
			views = append(views, rates.ToPickupRate(rate, req.Postcode, req.Country))
		} else {
			views = append(views, rates.ToDeliveryRate(rate))
		}
	}
	return views, nil
}

// FetchDeliveryRates returns only home-delivery rate views.
func (s *ShipmentOrchestrator) FetchDeliveryRates(ctx context.Context, req RateRequest) ([]rates.RateView, error) {
	return s.fetchFiltered(ctx, req, false)
}

// FetchPickupRates returns only pick-up-point rate views.
func (s *ShipmentOrchestrator) FetchPickupRates(ctx context.Context, req RateRequest) ([]rates.RateView, error) {
	return s.fetchFiltered(ctx, req, true)
}

func (s *ShipmentOrchestrator) fetchFiltered(ctx context.Context, req RateRequest, pickup bool) ([]rates.RateView, error) {
	all, err := s.FetchRates(ctx, req)
	if err != nil {
		return nil, err
	}
	views := make([]rates.RateView, 0, len(all))
	for _, view := range all {
		if view.IsPickup() == pickup {
			views = append(views, view)
		}
	}
	return views, nil
}

func (s *ShipmentOrchestrator) fetchMatrix(ctx context.Context, req RateRequest) (*buz.Matrix, error) {
	if req.Postcode == "" || req.Country == "" {
		return nil, fmt.Errorf("%w: postcode and country are required for a rate lookup", ErrValidation)
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	parsed := s.parser.Parse(req.Address)
	draft := buz.ShipmentDraft{
		ShipToContact: buz.Contact{Name: "Customer"},
		ShipToAddress: buz.Address{
			Street:         parsed.Street,
			Number:         parsed.Number,
			NumberAddition: parsed.NumberAddition,
			Postcode:       rates.SanitizePostcode(req.Postcode),
			City:           req.City,
			CountryCode:    req.Country,
			PrivateAddress: true,
		},
		TransportType: buz.TransportTypeRoad,
		Dispatch:      buz.NewDispatchInstruction(time.Now().AddDate(0, 0, 1)),
	}
	for _, cartItem := range req.Items {
		item := buz.Item{
			Description: "Item",
			Type:        buz.ItemTypePackage,
			Quantity:    cartItem.Quantity,
			Weight:      cartItem.Weight,
			Length:      cartItem.Length,
			Width:       cartItem.Width,
			Height:      cartItem.Height,
			Value:       cartItem.Value,
		}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		applyItemDefaults(&item, cfg)
		draft.Items = append(draft.Items, item)
	}

	return client.GetMatrix(ctx, draft)
}

// GetServices quotes ad-hoc services for one explicit item, for the admin
// services dialog.
func (s *ShipmentOrchestrator) GetServices(ctx context.Context, orderID uuid.UUID, item ItemOverride) ([]buz.ServiceQuote, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.client(cfg)
	if err != nil {
		return nil, err
	}

	draft, err := s.BuildShipmentDraft(ctx, order, &item, "")
	if err != nil {
		return nil, err
	}
	return client.RequestRates(ctx, draft)
}

// AttachShippingMethod persists a chosen rate as the order's carrier
// shipping line. When an unrelated shipping method already exists the cost
// is zeroed: the customer already paid shipping through that method.
func (s *ShipmentOrchestrator) AttachShippingMethod(ctx context.Context, orderID uuid.UUID, view rates.RateView) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	cost := view.Cost
	if order.HasNonCarrierShippingLine() {
		cost = 0
	}

	methodID := models.MethodIDDelivery
	if view.IsPickup() {
		methodID = models.MethodIDPickupPoint
	}

	return s.orders.ReplaceCarrierShippingLine(ctx, order.ID, models.ShippingLine{
		MethodID:    methodID,
		MethodTitle: view.Label,
		Total:       cost,
		Meta:        models.JSONMap(view.MetaData),
	})
}

// SaveDeliveryInformation replaces the rate stored on the order's carrier
// shipping line.
func (s *ShipmentOrchestrator) SaveDeliveryInformation(ctx context.Context, orderID uuid.UUID, view rates.RateView) error {
	return s.AttachShippingMethod(ctx, orderID, view)
}

// SavePickupPoint stores the chosen pick-up point on the order.
func (s *ShipmentOrchestrator) SavePickupPoint(ctx context.Context, orderID uuid.UUID, point models.PickupPointData) error {
	_, err := s.orders.UpdateMetadata(ctx, orderID, func(meta models.OrderMetadata) error {
		return meta.SetPickUpPoint(point)
	})
	return err
}
