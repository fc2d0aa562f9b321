package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// CreateOrder persists the order with its items and the initial status event
// and decrements product stock, all in one transaction.
func (r *GormRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range order.Items {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND count >= ?", order.Items[i].ProductID, order.Items[i].Quantity).
				Update("count", gorm.Expr("count - ?", order.Items[i].Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInsufficientStock
			}
		}

		if err := tx.Create(order).Error; err != nil {
			return err
		}

		event := models.OrderStatusEvent{
			OrderID: order.ID,
			Status:  order.Status,
			At:      time.Now().UTC(),
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *GormRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.DB.WithContext(ctx).
		Preload("Items").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("at ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormRepo) ListOrders(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.DB.WithContext(ctx).Model(&models.Order{}).
		Where("user_id = ?", userID).
		Preload("Items").
		Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormRepo) ListAllOrders(ctx context.Context, offset, limit int) (int64, []models.Order, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	err := r.DB.WithContext(ctx).Model(&models.Order{}).
		Preload("Items").
		Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&orders).Error
	if err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}

// UpdateOrderStatus moves an order from one status to another with a single
// conditional update, so two concurrent transitions from the same status
// cannot both win. Appends the status-history event in the same transaction.
func (r *GormRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		event := models.OrderStatusEvent{
			OrderID: id,
			Status:  to,
			At:      time.Now().UTC(),
		}
		return tx.Create(&event).Error
	})
}
