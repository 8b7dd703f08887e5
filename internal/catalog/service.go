package catalog

import (
	"context"
	"fmt"

	"concert-tickets/internal/catalog/db"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

// SnapshotCache is the storefront-listing cache. A nil-safe no-op
// implementation is fine for tests.
type SnapshotCache interface {
	GetCategories(ctx context.Context) ([]models.CategoryView, bool)
	SetCategories(ctx context.Context, views []models.CategoryView)
	InvalidateCategories(ctx context.Context)
}

type Service struct {
	DB     *db.DB
	Cache  SnapshotCache
	Logger *logger.Logger
}

func NewService(database *db.DB, cache SnapshotCache, log *logger.Logger) *Service {
	return &Service{DB: database, Cache: cache, Logger: log}
}

// ListCategories returns the storefront snapshot, cache-first.
func (s *Service) ListCategories(ctx context.Context) ([]models.CategoryView, error) {
	if s.Cache != nil {
		if views, ok := s.Cache.GetCategories(ctx); ok {
			return views, nil
		}
	}

	categories, err := s.DB.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	views := make([]models.CategoryView, len(categories))
	for i, category := range categories {
		views[i] = category.View()
	}

	if s.Cache != nil {
		s.Cache.SetCategories(ctx, views)
	}
	return views, nil
}

// UpdateCategory applies an admin edit and drops the cached snapshot.
func (s *Service) UpdateCategory(ctx context.Context, category models.TicketCategory) error {
	if _, err := s.DB.GetCategoryByID(ctx, category.ID); err != nil {
		return fmt.Errorf("category %s not found: %w", category.ID, err)
	}
	if category.Price.IsNegative() {
		return fmt.Errorf("category price cannot be negative")
	}
	if err := s.DB.UpdateCategory(ctx, category); err != nil {
		return fmt.Errorf("failed to update category %s: %w", category.ID, err)
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached listing. Issuance calls this after commit so
// availability reflects the new sold counts.
func (s *Service) Invalidate(ctx context.Context) {
	if s.Cache != nil {
		s.Cache.InvalidateCategories(ctx)
	}
}
