package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/events"
	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/search"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/pkg/logging"
)

type CatalogService struct {
	Repo   *repo.GormRepo
	Search *search.Client
	Events *events.Producer
}

func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	prod, err := s.Repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product", ErrNotFound)
		}
		return nil, err
	}
	return prod, nil
}

func (s *CatalogService) GetProducts(ctx context.Context, offset, limit int) (int64, []models.Product, error) {
	return s.Repo.GetProducts(ctx, offset, limit)
}

func (s *CatalogService) CreateProduct(ctx context.Context, req transport.CreateProductRequest) (*models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.create_product")

	if req.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrValidation)
	}
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must be >= 0", ErrValidation)
	}

	prod := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Count:       req.Count,
	}

	created, err := s.Repo.CreateProduct(ctx, prod)
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, l, created)
	return created, nil
}

func (s *CatalogService) PatchProduct(ctx context.Context, req transport.PatchProductRequest, id uuid.UUID) (*models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.patch_product")

	if req.Price != nil && *req.Price < 0 {
		return nil, fmt.Errorf("%w: price must be >= 0", ErrValidation)
	}
	if req.Name != nil && *req.Name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}

	prod, err := s.Repo.PatchProduct(ctx, req, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product", ErrNotFound)
		}
		return nil, err
	}

	s.afterWrite(ctx, l, prod)
	return prod, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	l := logging.FromContext(ctx).With("svc", "catalog.delete_product")

	if err := s.Repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: product", ErrNotFound)
		}
		return err
	}

	if err := s.Search.DeleteProduct(ctx, id); err != nil {
		l.Error("search_delete_failed", "product_id", id, "error", err)
	}
	if err := s.Events.Publish(ctx, events.TopicProductChanged, id.String(), map[string]any{"id": id, "deleted": true}); err != nil {
		l.Error("event_publish_failed", "product_id", id, "error", err)
	}
	return nil
}

// SearchProducts queries elasticsearch and falls back to the database when
// the index is not configured.
func (s *CatalogService) SearchProducts(ctx context.Context, query string, offset, limit int) (int64, []models.Product, error) {
	if query == "" {
		return 0, nil, fmt.Errorf("%w: query required", ErrValidation)
	}

	total, items, err := s.Search.Search(ctx, query, offset, limit)
	if err == nil {
		return total, items, nil
	}
	if !errors.Is(err, search.ErrUnavailable) {
		return 0, nil, err
	}

	return s.Repo.SearchProducts(ctx, query, offset, limit)
}

// afterWrite keeps the search index and the event stream in step with the DB,
// best-effort. The DB row is the source of truth.
func (s *CatalogService) afterWrite(ctx context.Context, l *slog.Logger, prod *models.Product) {
	if err := s.Search.IndexProduct(ctx, prod); err != nil {
		l.Error("search_index_failed", "product_id", prod.ID, "error", err)
	}
	if err := s.Events.Publish(ctx, events.TopicProductChanged, prod.ID.String(), prod); err != nil {
		l.Error("event_publish_failed", "product_id", prod.ID, "error", err)
	}
}
