package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"boekuwzending-connect/internal/models"
)

// ErrOrderNotFound is returned when no order matches the lookup.
var ErrOrderNotFound = errors.New("order not found")

// OrderCacheTTL bounds how long a cached order read may serve.
const OrderCacheTTL = 5 * time.Minute

// OrderRepository handles database operations for mirrored host orders.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	// FindByShipmentID locates the order whose shipments metadata mentions
	// the given carrier shipment id. Fuzzy by design: webhook payloads do
	// not always carry the order reference.
	FindByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error)
	// ListWithShipments returns orders that have at least one booked
	// shipment, for the status-polling job.
	ListWithShipments(ctx context.Context, limit int) ([]*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// UpdateMetadata re-reads the order's metadata under a row lock, applies
	// the mutation and persists the result, so concurrent writers merge
	// instead of overwriting each other.
	UpdateMetadata(ctx context.Context, id uuid.UUID, mutate func(models.OrderMetadata) error) (*models.Order, error)
	ReplaceCarrierShippingLine(ctx context.Context, orderID uuid.UUID, line models.ShippingLine) error
	AddNote(ctx context.Context, orderID uuid.UUID, note string) error
	GetNotes(ctx context.Context, orderID uuid.UUID) ([]models.OrderNote, error)
}

type orderRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewOrderRepository creates a new order repository. redisClient may be nil;
// reads then always hit the database.
func NewOrderRepository(db *gorm.DB, redisClient *redis.Client) OrderRepository {
	return &orderRepository{db: db, redis: redisClient}
}

func orderCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("buzconnect:order:%s", id)
}

func (r *orderRepository) cacheGet(ctx context.Context, key string) *models.Order {
	if r.redis == nil {
		return nil
	}
	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil
	}
	return &order
}

func (r *orderRepository) cacheSet(ctx context.Context, order *models.Order) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(order)
	if err != nil {
		return
	}
	_ = r.redis.Set(ctx, orderCacheKey(order.ID), data, OrderCacheTTL).Err()
}

func (r *orderRepository) cacheInvalidate(ctx context.Context, id uuid.UUID) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, orderCacheKey(id)).Err()
}

// Create inserts a new order with its lines.
func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Metadata == nil {
		order.Metadata = models.OrderMetadata{}
	}
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID retrieves an order with lines and shipping lines.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if cached := r.cacheGet(ctx, orderCacheKey(id)); cached != nil {
		return cached, nil
	}

	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("ShippingLines").
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, &order)
	return &order, nil
}

// GetByNumber retrieves an order by its host order number.
func (r *orderRepository) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("ShippingLines").
		First(&order, "number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByShipmentID does a LIKE search over the metadata document.
func (r *orderRepository) FindByShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("ShippingLines").
		Where("metadata::text LIKE ?", "%"+shipmentID+"%").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListWithShipments returns orders carrying shipment metadata, oldest first.
func (r *orderRepository) ListWithShipments(ctx context.Context, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Where("metadata ->> ? IS NOT NULL", models.MetaKeyShipments).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Save persists the full order row.
func (r *orderRepository) Save(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		return err
	}
	r.cacheInvalidate(ctx, order.ID)
	return nil
}

// UpdateStatus transitions the order status.
func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	r.cacheInvalidate(ctx, id)
	return nil
}

// UpdateMetadata runs the mutation against freshly read metadata inside a
// transaction holding the order row lock.
func (r *orderRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, mutate func(models.OrderMetadata) error) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.Metadata == nil {
			order.Metadata = models.OrderMetadata{}
		}
		if err := mutate(order.Metadata); err != nil {
			return err
		}
		return tx.Model(&models.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"metadata":   order.Metadata,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	r.cacheInvalidate(ctx, id)
	return &order, nil
}

// ReplaceCarrierShippingLine removes any existing carrier shipping line and
// attaches the given one.
func (r *orderRepository) ReplaceCarrierShippingLine(ctx context.Context, orderID uuid.UUID, line models.ShippingLine) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ? AND method_id LIKE ?", orderID, models.MethodIDPrefix+"%").
			Delete(&models.ShippingLine{}).Error; err != nil {
			return err
		}
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.OrderID = orderID
		return tx.Create(&line).Error
	})
	if err != nil {
		return err
	}
	r.cacheInvalidate(ctx, orderID)
	return nil
}

// AddNote appends an audit note to the order.
func (r *orderRepository) AddNote(ctx context.Context, orderID uuid.UUID, note string) error {
	return r.db.WithContext(ctx).Create(&models.OrderNote{
		ID:      uuid.New(),
		OrderID: orderID,
		Note:    note,
	}).Error
}

// GetNotes returns the order's notes, newest first.
func (r *orderRepository) GetNotes(ctx context.Context, orderID uuid.UUID) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}
