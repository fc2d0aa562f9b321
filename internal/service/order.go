package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/events"
	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/roles"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/pkg/logging"
)

// statusTransitions is the order state machine. A status not listed as a
// target of the current one is rejected with ErrConflict.
var statusTransitions = map[string][]string{
	models.OrderStatusNew:       {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:      {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

func transitionAllowed(from, to string) bool {
	for _, t := range statusTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type OrderService struct {
	Repo   *repo.GormRepo
	Events *events.Producer
}

// CreateOrder snapshots unit prices from the catalog at order time and
// decrements stock atomically with the insert.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req transport.CreateOrderRequest) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.create_order", "user_id", userID)

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items required", ErrValidation)
	}

	var total int64
	items := make([]models.OrderItem, 0, len(req.Items))

	for i := range req.Items {
		if req.Items[i].ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: product_id required", ErrValidation)
		}
		if req.Items[i].Quantity == 0 {
			return nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
		}

		prod, err := s.Repo.GetProduct(ctx, req.Items[i].ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: product %s", ErrValidation, req.Items[i].ProductID)
			}
			return nil, err
		}

		lineTotal := int64(req.Items[i].Quantity) * prod.Price
		items = append(items, models.OrderItem{
			ProductID: prod.ID,
			Quantity:  req.Items[i].Quantity,
			UnitPrice: prod.Price,
			LineTotal: lineTotal,
		})
		total += lineTotal
	}

	order := &models.Order{
		UserID: userID,
		Status: models.OrderStatusNew,
		Total:  total,
		Items:  items,
	}

	created, err := s.Repo.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, repo.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: insufficient stock", ErrConflict)
		}
		return nil, err
	}

	if err := s.Events.Publish(ctx, events.TopicOrderCreated, created.ID.String(), created); err != nil {
		l.Error("event_publish_failed", "order_id", created.ID, "error", err)
	}

	l.Info("order_created", "order_id", created.ID, "total", created.Total)
	return created, nil
}

// GetOrder enforces ownership: a caller without orders:manage sees only
// their own orders.
func (s *OrderService) GetOrder(ctx context.Context, id, callerID uuid.UUID, callerRole string) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order", ErrNotFound)
		}
		return nil, err
	}

	if order.UserID != callerID && !roles.Allowed(callerRole, roles.PermOrdersManage) {
		return nil, fmt.Errorf("%w: not your order", ErrForbidden)
	}
	return order, nil
}

func (s *OrderService) ListOwnOrders(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Order, error) {
	return s.Repo.ListOrders(ctx, userID, offset, limit)
}

func (s *OrderService) ListAllOrders(ctx context.Context, offset, limit int) (int64, []models.Order, error) {
	return s.Repo.ListAllOrders(ctx, offset, limit)
}

func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, to string) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.update_status", "order_id", id)

	if _, ok := statusTransitions[to]; !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	order, err := s.Repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order", ErrNotFound)
		}
		return nil, err
	}

	if !transitionAllowed(order.Status, to) {
		return nil, fmt.Errorf("%w: cannot move %s order to %s", ErrConflict, order.Status, to)
	}

	// Conditional on the status we just read; a concurrent transition makes
	// this a no-op and we report the conflict instead of double-applying.
	if err := s.Repo.UpdateOrderStatus(ctx, id, order.Status, to); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order status changed concurrently", ErrConflict)
		}
		return nil, err
	}

	updated, err := s.Repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.Events.Publish(ctx, events.TopicOrderStatusChanged, id.String(), map[string]any{
		"id": id, "from": order.Status, "to": to,
	}); err != nil {
		l.Error("event_publish_failed", "error", err)
	}

	l.Info("order_status_updated", "from", order.Status, "to", to)
	return updated, nil
}
