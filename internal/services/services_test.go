package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"boekuwzending-connect/internal/address"
	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/hooks"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/notice"
	"boekuwzending-connect/internal/rates"
	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/settings"
)

// --- fakes ---

type memOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	notes  []models.OrderNote
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[uuid.UUID]*models.Order{}}
}

func (m *memOrders) put(order *models.Order) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Metadata == nil {
		order.Metadata = models.OrderMetadata{}
	}
	m.orders[order.ID] = order
}

func (m *memOrders) Create(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(order)
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (m *memOrders) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Number == number {
			return order, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrders) FindByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		raw, err := json.Marshal(order.Metadata)
		if err != nil {
			return nil, err
		}
		if strings.Contains(string(raw), shipmentID) {
			return order, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrders) ListWithShipments(ctx context.Context, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, order := range m.orders {
		shipments, err := order.Metadata.Shipments()
		if err != nil {
			return nil, err
		}
		if len(shipments) > 0 {
			out = append(out, order)
		}
	}
	return out, nil
}

func (m *memOrders) Save(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(order)
	return nil
}

func (m *memOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (m *memOrders) UpdateMetadata(ctx context.Context, id uuid.UUID, mutate func(models.OrderMetadata) error) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if order.Metadata == nil {
		order.Metadata = models.OrderMetadata{}
	}
	if err := mutate(order.Metadata); err != nil {
		return nil, err
	}
	return order, nil
}

func (m *memOrders) ReplaceCarrierShippingLine(ctx context.Context, orderID uuid.UUID, line models.ShippingLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	kept := order.ShippingLines[:0]
	for _, existing := range order.ShippingLines {
		if !existing.IsCarrierMethod() {
			kept = append(kept, existing)
		}
	}
	line.OrderID = orderID
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	order.ShippingLines = append(kept, line)
	return nil
}

func (m *memOrders) AddNote(ctx context.Context, orderID uuid.UUID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, models.OrderNote{OrderID: orderID, Note: note})
	return nil
}

func (m *memOrders) GetNotes(ctx context.Context, orderID uuid.UUID) ([]models.OrderNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderNote
	for _, n := range m.notes {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out, nil
}

type memNotices struct {
	created []models.AdminNotice
}

func (m *memNotices) Create(ctx context.Context, n *models.AdminNotice) error {
	m.created = append(m.created, *n)
	return nil
}

func (m *memNotices) ListActive(ctx context.Context) ([]models.AdminNotice, error) {
	return m.created, nil
}

func (m *memNotices) Dismiss(ctx context.Context, id uuid.UUID) error { return nil }

type settingsStore struct {
	row *models.IntegrationSettings
}

func (s *settingsStore) Get(ctx context.Context) (*models.IntegrationSettings, error) {
	return s.row, nil
}

type fakeClient struct {
	matrix        *buz.Matrix
	quotes        []buz.ServiceQuote
	createResult  *buz.Shipment
	createErr     error
	createdDrafts []buz.ShipmentDraft
	shipments     map[string]*buz.Shipment
	getShipErr    error
	orderResult   *buz.PlatformOrder
	orderErr      error
	orderDrafts   []buz.OrderDraft
	trackAndTrace map[string]*buz.TrackAndTrace
	labelsPDF     []byte
}

func (f *fakeClient) GetMatrix(ctx context.Context, draft buz.ShipmentDraft) (*buz.Matrix, error) {
	if f.matrix == nil {
		return &buz.Matrix{}, nil
	}
	return f.matrix, nil
}

func (f *fakeClient) RequestRates(ctx context.Context, draft buz.ShipmentDraft) ([]buz.ServiceQuote, error) {
	return f.quotes, nil
}

func (f *fakeClient) CreateShipment(ctx context.Context, draft buz.ShipmentDraft) (*buz.Shipment, error) {
	f.createdDrafts = append(f.createdDrafts, draft)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeClient) GetShipment(ctx context.Context, id string) (*buz.Shipment, error) {
	if f.getShipErr != nil {
		return nil, f.getShipErr
	}
	shipment, ok := f.shipments[id]
	if !ok {
		return nil, fmt.Errorf("%w: no shipment %s", buz.ErrRequest, id)
	}
	return shipment, nil
}

func (f *fakeClient) DownloadShipmentLabels(ctx context.Context, id string) ([]byte, error) {
	return f.labelsPDF, nil
}

func (f *fakeClient) DownloadLabels(ctx context.Context, shipmentIDs []string) ([]byte, error) {
	return f.labelsPDF, nil
}

func (f *fakeClient) CreateOrder(ctx context.Context, draft buz.OrderDraft) (*buz.PlatformOrder, error) {
	f.orderDrafts = append(f.orderDrafts, draft)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return f.orderResult, nil
}

func (f *fakeClient) GetTrackAndTrace(ctx context.Context, labelID string) (*buz.TrackAndTrace, error) {
	tt, ok := f.trackAndTrace[labelID]
	if !ok {
		return nil, fmt.Errorf("%w: no track and trace for %s", buz.ErrRequest, labelID)
	}
	return tt, nil
}

// --- harness ---

type harness struct {
	orders   *memOrders
	notices  *memNotices
	client   *fakeClient
	row      *models.IntegrationSettings
	svc      *ShipmentOrchestrator
	webhooks *WebhookProcessor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	h := &harness{
		orders:  newMemOrders(),
		notices: &memNotices{},
		client:  &fakeClient{},
		row: &models.IntegrationSettings{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		},
	}

	resolver := settings.NewResolver(&settingsStore{row: h.row})
	factory := func(clientID, clientSecret string, testMode bool) CarrierClient {
		return h.client
	}
	notifier := notice.NewNotifier(h.notices, nil, log)

	h.svc = NewShipmentOrchestrator(
		h.orders, resolver, factory, address.New(), hooks.NewRegistry(), notifier, nil, log,
	)
	h.webhooks = NewWebhookProcessor(h.orders, resolver, factory, false, nil, log)

	return h
}

func testOrder() *models.Order {
	id := uuid.New()
	return &models.Order{
		ID:               id,
		Number:           "1001",
		Status:           "processing",
		ShippingName:     "J. Jansen",
		ShippingEmail:    "jansen@example.com",
		ShippingAddress:  "Kerkstraat 12A",
		ShippingPostcode: "1234AB",
		ShippingCity:     "Amsterdam",
		ShippingCountry:  "NL",
		Lines: []models.OrderLine{{
			ID:       uuid.New(),
			OrderID:  id,
			Name:     "Widget",
			SKU:      "WID-1",
			Quantity: 2,
			Total:    30,
			Weight:   0.5,
		}},
		Metadata: models.OrderMetadata{},
	}
}

// --- orchestrator tests ---

func TestBuildShipmentDraftParsesAddress(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	draft, err := h.svc.BuildShipmentDraft(context.Background(), order, nil, "")
	require.NoError(t, err)

	require.Equal(t, "Kerkstraat", draft.ShipToAddress.Street)
	require.Equal(t, "12", draft.ShipToAddress.Number)
	require.Equal(t, "A", draft.ShipToAddress.NumberAddition)
	require.Equal(t, buz.TransportTypeRoad, draft.TransportType)
	require.Equal(t, "1001", draft.InvoiceReference)
	require.NotEmpty(t, draft.Dispatch.Date)
	require.Len(t, draft.Items, 1)
	require.Equal(t, 1.0, draft.Items[0].Weight, "2 x 0.5 kg")
}

func TestBuildShipmentDraftWeightFloor(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	order.Lines[0].Weight = 0
	order.Lines[0].Quantity = 0
	require.NoError(t, h.orders.Create(context.Background(), order))

	draft, err := h.svc.BuildShipmentDraft(context.Background(), order, nil, "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, draft.Items[0].Weight, MinimumItemWeight)
}

func TestBuildShipmentDraftAppliesDimensionDefaults(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	draft, err := h.svc.BuildShipmentDraft(context.Background(), order, nil, "")
	require.NoError(t, err)

	item := draft.Items[0]
	require.Equal(t, 10.0, item.Length)
	require.Equal(t, 10.0, item.Width)
	require.Equal(t, 10.0, item.Height)
}

func TestBuildShipmentDraftUsesChosenMethod(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	order.ShippingLines = []models.ShippingLine{{
		ID:       uuid.New(),
		MethodID: models.MethodIDPickupPoint,
		Meta:     models.JSONMap{"_service_id": "pup"},
	}}
	require.NoError(t, order.Metadata.SetPickUpPoint(models.PickupPointData{
		Identifier: "pp-1", DistributorCode: "dist1", Postcode: "1234AB",
	}))
	require.NoError(t, h.orders.Create(context.Background(), order))

	draft, err := h.svc.BuildShipmentDraft(context.Background(), order, nil, "")
	require.NoError(t, err)
	require.Equal(t, "pup", draft.Service)
	require.NotNil(t, draft.PickupPoint)
	require.Equal(t, "pp-1", draft.PickupPoint.Identifier)
}

func TestBuildShipmentDraftRequiresStreetAndCity(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	order.ShippingAddress = ""

	_, err := h.svc.BuildShipmentDraft(context.Background(), order, nil, "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateShipmentPersistsMetadata(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.createResult = &buz.Shipment{
		ID:       "ship-1",
		Sequence: "0001",
		Labels:   []buz.Label{{ID: "label-1", Waybill: "WB1"}},
	}

	shipment, err := h.svc.CreateShipment(context.Background(), order.ID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, shipment)

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, err := stored.Metadata.Shipments()
	require.NoError(t, err)
	require.Len(t, shipments, 1)
	require.Equal(t, "WB1", shipments["ship-1"].Labels[0].Waybill)

	require.Empty(t, h.client.createdDrafts[0].Related)
	notes, _ := h.orders.GetNotes(context.Background(), order.ID)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0].Note, "shipment created")
}

func TestCreateShipmentAdditionalLabelLinksRelated(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, order.Metadata.PutShipment(models.ShipmentMeta{
		ID:       "ship-1",
		Sequence: "0001",
		Labels:   []models.LabelMeta{{ID: "label-1", Waybill: "WB1"}},
	}))
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.createResult = &buz.Shipment{
		ID:       "ship-2",
		Sequence: "0002",
		Labels:   []buz.Label{{ID: "label-2", Waybill: "WB2"}},
	}

	_, err := h.svc.CreateShipment(context.Background(), order.ID, nil, "")
	require.NoError(t, err)

	require.Equal(t, "ship-1", h.client.createdDrafts[0].Related)

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, err := stored.Metadata.Shipments()
	require.NoError(t, err)
	require.Len(t, shipments, 2)
	require.Equal(t, "0001", shipments["ship-1"].Sequence, "first entry untouched")
	require.Equal(t, "WB1", shipments["ship-1"].Labels[0].Waybill)
	require.Equal(t, "0002", shipments["ship-2"].Sequence)

	notes, _ := h.orders.GetNotes(context.Background(), order.ID)
	require.Contains(t, notes[0].Note, "additional label")
}

func TestCreateShipmentCarrierFailureIsReported(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.createErr = fmt.Errorf("%w: boom", buz.ErrRequest)

	shipment, err := h.svc.CreateShipment(context.Background(), order.ID, nil, "")
	require.NoError(t, err, "carrier failures are reported, not returned")
	require.Nil(t, shipment)

	require.Len(t, h.notices.created, 1)
	require.Contains(t, h.notices.created[0].Message, "1001")

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, _ := stored.Metadata.Shipments()
	require.Empty(t, shipments, "no partial metadata write")
}

func TestFetchRatesTwoRateScenario(t *testing.T) {
	h := newHarness(t)
	h.client.matrix = &buz.Matrix{Rates: []buz.MatrixRate{
		{Service: buz.MatrixService{Key: "std", Name: "Standard"}, Price: 5.50},
		{Service: buz.MatrixService{Key: "pup", Name: "Pick-up", DistributorIdentifier: "dist1", PickupPoint: true}, Price: 4.00},
	}}

	views, err := h.svc.FetchRates(context.Background(), RateRequest{
		Address:  "Kerkstraat 12A",
		Postcode: "1234AB",
		City:     "Amsterdam",
		Country:  "NL",
		Items:    []RateItem{{Quantity: 1, Weight: 1}},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)

	require.Equal(t, "std", views[0].ID)
	require.Equal(t, 5.50, views[0].Cost)
	require.Equal(t, true, views[0].MetaData["_buz"])
	require.False(t, views[0].IsPickup())

	require.Equal(t, "pup", views[1].ID)
	require.Equal(t, 4.00, views[1].Cost)
	require.Equal(t, true, views[1].MetaData["_buz"])
	require.True(t, views[1].IsPickup())
}

func TestFetchRatesRequiresPostcodeAndCountry(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.FetchRates(context.Background(), RateRequest{City: "Amsterdam"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestFetchPickupRatesFilters(t *testing.T) {
	h := newHarness(t)
	h.client.matrix = &buz.Matrix{Rates: []buz.MatrixRate{
		{Service: buz.MatrixService{Key: "std"}, Price: 5.50},
		{Service: buz.MatrixService{Key: "pup", PickupPoint: true}, Price: 4.00},
	}}

	req := RateRequest{Postcode: "1234AB", Country: "NL"}

	pickup, err := h.svc.FetchPickupRates(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, pickup, 1)
	require.Equal(t, "pup", pickup[0].ID)

	delivery, err := h.svc.FetchDeliveryRates(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, delivery, 1)
	require.Equal(t, "std", delivery[0].ID)
}

func TestAttachShippingMethodZeroesCostWhenForeignMethodExists(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	order.ShippingLines = []models.ShippingLine{{
		ID:       uuid.New(),
		MethodID: "flat_rate",
		Total:    7.95,
	}}
	require.NoError(t, h.orders.Create(context.Background(), order))

	view := buildView("std", "Standard", 5.50, false)
	require.NoError(t, h.svc.AttachShippingMethod(context.Background(), order.ID, view))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	line := stored.CarrierShippingLine()
	require.NotNil(t, line)
	require.Equal(t, models.MethodIDDelivery, line.MethodID)
	require.Equal(t, 0.0, line.Total, "cost zeroed, shipping already paid")
}

func TestAttachShippingMethodPickup(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	view := buildView("pup", "Pick-up", 4.00, true)
	require.NoError(t, h.svc.AttachShippingMethod(context.Background(), order.ID, view))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	line := stored.CarrierShippingLine()
	require.NotNil(t, line)
	require.Equal(t, models.MethodIDPickupPoint, line.MethodID)
	require.Equal(t, 4.00, line.Total)
	require.Equal(t, "pup", line.ServiceCode())
}

func TestRetrieveStatusMergesActiveStatuses(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, order.Metadata.PutShipment(models.ShipmentMeta{
		ID:     "ship-1",
		Labels: []models.LabelMeta{{ID: "label-1", Waybill: "WB1"}, {ID: "label-2", Waybill: "WB2"}},
	}))
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.trackAndTrace = map[string]*buz.TrackAndTrace{
		"label-1": {Waybill: "WB1", Statuses: []buz.TrackAndTraceStatus{
			{Status: "created"},
			{Status: "in_transit", Active: true},
		}},
		// label-2 lookup fails; polling is best-effort
	}

	updates, err := h.svc.RetrieveStatus(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "in_transit", updates["label-1"].Status)

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	statuses, err := stored.Metadata.Statuses()
	require.NoError(t, err)
	require.Equal(t, "WB1", statuses["label-1"].TrackingNumber)
}

func TestCreateOrderSyncsAndRecordsReference(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.orderResult = &buz.PlatformOrder{ID: "po-1", Reference: "1001"}

	platformOrder, err := h.svc.CreateOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, "po-1", platformOrder.ID)

	require.Len(t, h.client.orderDrafts, 1)
	draft := h.client.orderDrafts[0]
	require.Equal(t, "1001", draft.Reference)
	require.Len(t, draft.OrderLines, 1)
	require.Equal(t, "WID-1", draft.OrderLines[0].SkuNumber)

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	refs, err := stored.Metadata.PlatformOrders()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "po-1", refs[0].ID)
}

func TestCreateOrderFailureReturnsError(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.orderErr = fmt.Errorf("%w: boom", buz.ErrRequest)

	_, err := h.svc.CreateOrder(context.Background(), order.ID)
	require.Error(t, err)
	require.Len(t, h.notices.created, 1)
}

func TestSyncOrderGuardChain(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))
	h.client.orderResult = &buz.PlatformOrder{ID: "po-1"}

	// Sync disabled: skip silently.
	require.NoError(t, h.svc.SyncOrder(context.Background(), order.ID))
	require.Empty(t, h.client.orderDrafts)

	// Enabled but wrong status: skip.
	h.row.SyncOrders = true
	order.Status = "on-hold"
	require.NoError(t, h.svc.SyncOrder(context.Background(), order.ID))
	require.Empty(t, h.client.orderDrafts)

	// Matching status: export.
	order.Status = "processing"
	require.NoError(t, h.svc.SyncOrder(context.Background(), order.ID))
	require.Len(t, h.client.orderDrafts, 1)

	// Virtual-only orders never sync.
	virtual := testOrder()
	virtual.Number = "1002"
	virtual.Lines[0].Virtual = true
	require.NoError(t, h.orders.Create(context.Background(), virtual))
	require.NoError(t, h.svc.SyncOrder(context.Background(), virtual.ID))
	require.Len(t, h.client.orderDrafts, 1)
}

func TestCreateShipmentOnOrderPaid(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))
	h.client.createResult = &buz.Shipment{ID: "ship-1", Sequence: "0001"}

	// Feature off: nothing happens.
	require.NoError(t, h.svc.CreateShipmentOnOrderPaid(context.Background(), order.ID))
	require.Empty(t, h.client.createdDrafts)

	h.row.ShipmentsOnPayment = true
	require.NoError(t, h.svc.CreateShipmentOnOrderPaid(context.Background(), order.ID))
	require.Len(t, h.client.createdDrafts, 1)

	// Existing shipment: skip.
	require.NoError(t, h.svc.CreateShipmentOnOrderPaid(context.Background(), order.ID))
	require.Len(t, h.client.createdDrafts, 1)

	// Sync-orders mode wins over shipments-on-payment.
	h.row.SyncOrders = true
	fresh := testOrder()
	fresh.Number = "1003"
	require.NoError(t, h.orders.Create(context.Background(), fresh))
	require.NoError(t, h.svc.CreateShipmentOnOrderPaid(context.Background(), fresh.ID))
	require.Len(t, h.client.createdDrafts, 1)
}

func buildView(key, name string, cost float64, pickup bool) rates.RateView {
	meta := map[string]interface{}{
		"_service_id": key,
		"_buz":        true,
		"_pick_up":    pickup,
	}
	return rates.RateView{ID: key, Label: name, Cost: cost, MetaData: meta}
}

// --- webhook tests ---

func computeHMAC(data []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedPayload(t *testing.T, data map[string]interface{}, key string) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return signedPayloadRaw(t, raw, key)
}

func signedPayloadRaw(t *testing.T, data []byte, key string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"data": json.RawMessage(data),
		"meta": map[string]string{"hmac": computeHMAC(data, key)},
	})
	require.NoError(t, err)
	return body
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.shipments = map[string]*buz.Shipment{
		"ship-1": {ID: "ship-1", Sequence: "0001", Labels: []buz.Label{{ID: "label-1", Waybill: "WB1"}}},
	}

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"entity_id":                  "label-1",
		"tracking_number":            "WB1",
		"status":                     "label_created",
		"external_order_external_id": order.ID.String(),
	}, "client-idclient-secret")

	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, err := stored.Metadata.Shipments()
	require.NoError(t, err)
	require.Equal(t, "0001", shipments["ship-1"].Sequence)

	statuses, err := stored.Metadata.Statuses()
	require.NoError(t, err)
	require.Equal(t, "WB1", statuses["label-1"].TrackingNumber)
	require.Equal(t, "label_created", statuses["label-1"].Status)
}

func TestWebhookRejectsTamperedPayload(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	data, err := json.Marshal(map[string]interface{}{
		"shipment_id":                "ship-1",
		"external_order_external_id": order.ID.String(),
	})
	require.NoError(t, err)
	body := signedPayloadRaw(t, data, "client-idclient-secret")

	// Flip one byte inside the signed data.
	tampered := strings.Replace(string(body), "ship-1", "ship-2", 1)

	err = h.webhooks.HandleLabelEvent(context.Background(), []byte(tampered))
	require.ErrorIs(t, err, ErrWebhookSignature)
}

func TestWebhookRejectsWrongKey(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"external_order_external_id": order.ID.String(),
	}, "wrong-key")

	err := h.webhooks.HandleLabelEvent(context.Background(), payload)
	require.ErrorIs(t, err, ErrWebhookSignature)
}

func TestWebhookUnparseableBody(t *testing.T) {
	h := newHarness(t)
	err := h.webhooks.HandleLabelEvent(context.Background(), []byte("not json"))
	require.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestWebhookMissingCredentials(t *testing.T) {
	h := newHarness(t)
	h.row.ClientID = ""

	payload := signedPayload(t, map[string]interface{}{"shipment_id": "ship-1"}, "key")
	err := h.webhooks.HandleLabelEvent(context.Background(), payload)
	require.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestWebhookResolvesOrderByShipmentSearch(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, order.Metadata.PutShipment(models.ShipmentMeta{ID: "ship-1", Sequence: "0001"}))
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.shipments = map[string]*buz.Shipment{
		"ship-1": {ID: "ship-1", Sequence: "0001", Labels: []buz.Label{{ID: "label-1", Waybill: "WB1"}}},
	}

	// No external order reference: fall back to shipment-id search.
	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":     "ship-1",
		"entity_id":       "label-1",
		"tracking_number": "WB1",
		"status":          "printed",
	}, "client-idclient-secret")

	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	statuses, err := stored.Metadata.Statuses()
	require.NoError(t, err)
	require.Equal(t, "printed", statuses["label-1"].Status)
}

func TestWebhookNoMatchingOrder(t *testing.T) {
	h := newHarness(t)

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id": "ship-unknown",
	}, "client-idclient-secret")

	err := h.webhooks.HandleLabelEvent(context.Background(), payload)
	require.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestWebhookUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.getShipErr = fmt.Errorf("%w: carrier down", buz.ErrRequest)

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"external_order_external_id": order.ID.String(),
	}, "client-idclient-secret")

	err := h.webhooks.HandleLabelEvent(context.Background(), payload)
	require.ErrorIs(t, err, ErrWebhookUpstream)

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, _ := stored.Metadata.Shipments()
	require.Empty(t, shipments, "no partial write on upstream failure")
}

func TestWebhookPrefersFreshTrackAndTrace(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.shipments = map[string]*buz.Shipment{
		"ship-1": {ID: "ship-1", Labels: []buz.Label{{ID: "label-1", Waybill: "WB1"}}},
	}
	h.client.trackAndTrace = map[string]*buz.TrackAndTrace{
		"label-1": {Waybill: "WB1", Statuses: []buz.TrackAndTraceStatus{
			{Status: "delivered", Active: true},
		}},
	}

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"entity_id":                  "label-1",
		"tracking_number":            "WB1",
		"status":                     "label_created",
		"external_order_external_id": order.ID.String(),
	}, "client-idclient-secret")

	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	statuses, err := stored.Metadata.Statuses()
	require.NoError(t, err)
	require.Equal(t, "delivered", statuses["label-1"].Status)
}

func TestWebhookIdempotent(t *testing.T) {
	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.shipments = map[string]*buz.Shipment{
		"ship-1": {ID: "ship-1", Sequence: "0001", Labels: []buz.Label{{ID: "label-1", Waybill: "WB1"}}},
	}

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"entity_id":                  "label-1",
		"tracking_number":            "WB1",
		"status":                     "printed",
		"external_order_external_id": order.ID.String(),
	}, "client-idclient-secret")

	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))
	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	shipments, err := stored.Metadata.Shipments()
	require.NoError(t, err)
	require.Len(t, shipments, 1)

	statuses, err := stored.Metadata.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, models.StatusEntry{Status: "printed", TrackingNumber: "WB1"}, statuses["label-1"])
}

func TestWebhookStatusTransition(t *testing.T) {
	h := newHarness(t)
	h.row.OrderStatusChangeOnWebhook = true
	order := testOrder()
	order.Status = "processing"
	require.NoError(t, h.orders.Create(context.Background(), order))

	h.client.shipments = map[string]*buz.Shipment{
		"ship-1": {ID: "ship-1", Labels: []buz.Label{{ID: "label-1", Waybill: "WB1"}}},
	}

	payload := signedPayload(t, map[string]interface{}{
		"shipment_id":                "ship-1",
		"entity_id":                  "label-1",
		"tracking_number":            "WB1",
		"status":                     "printed",
		"external_order_external_id": order.ID.String(),
	}, "client-idclient-secret")

	require.NoError(t, h.webhooks.HandleLabelEvent(context.Background(), payload))

	stored, _ := h.orders.GetByID(context.Background(), order.ID)
	require.Equal(t, "completed", stored.Status)

	notes, _ := h.orders.GetNotes(context.Background(), order.ID)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0].Note, "WB1")
}

func TestWebhookSkipSignatureOverride(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	h := newHarness(t)
	order := testOrder()
	require.NoError(t, h.orders.Create(context.Background(), order))
	h.client.shipments = map[string]*buz.Shipment{"ship-1": {ID: "ship-1"}}

	resolver := settings.NewResolver(&settingsStore{row: h.row})
	factory := func(clientID, clientSecret string, testMode bool) CarrierClient { return h.client }
	unsafe := NewWebhookProcessor(h.orders, resolver, factory, true, nil, log)

	body, err := json.Marshal(map[string]interface{}{
		"data": map[string]string{
			"shipment_id":                "ship-1",
			"external_order_external_id": order.ID.String(),
		},
		"meta": map[string]string{"hmac": "nonsense"},
	})
	require.NoError(t, err)

	require.NoError(t, unsafe.HandleLabelEvent(context.Background(), body))
}
