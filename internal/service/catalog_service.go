package service

import (
	"context"
	"encoding/json"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"go.uber.org/zap"
)

// CatalogCacheTTL is how long catalog listings stay cached
const CatalogCacheTTL = time.Hour

// CatalogCache is the byte-cache collaborator used by the catalog read paths
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// ProductPage is one page of a product listing
type ProductPage struct {
	Products []*domain.Product `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// CatalogService defines the interface for category and product management.
// Cache invalidation happens here, explicitly, after successful commits —
// never hidden inside repository save paths.
type CatalogService interface {
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, category *domain.Category) error
	UpdateCategory(ctx context.Context, category *domain.Category) error
	DeleteCategory(ctx context.Context, id int64) error

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter, page, pageSize int, sortBy string, sortOrder repository.SortOrder) (*ProductPage, error)
	CreateProduct(ctx context.Context, product *domain.Product) error
	UpdateProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}

type catalogService struct {
	categories repository.CategoryRepository
	products   repository.ProductRepository
	cache      CatalogCache
	logger     *zap.Logger
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(
	categories repository.CategoryRepository,
	products repository.ProductRepository,
	catalogCache CatalogCache,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		categories: categories,
		products:   products,
		cache:      catalogCache,
		logger:     logger,
	}
}

// ListCategories returns all categories, cache-aside with a 1h TTL
func (s *catalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	if data, ok := s.cache.Get(ctx, cache.KeyCategoriesList); ok {
		var categories []*domain.Category
		if err := json.Unmarshal(data, &categories); err == nil {
			return categories, nil
		}
		s.logger.Warn("Discarding undecodable cached category listing")
		s.cache.Delete(ctx, cache.KeyCategoriesList)
	}

	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(categories); err == nil {
		s.cache.Set(ctx, cache.KeyCategoriesList, data, CatalogCacheTTL)
	}

	return categories, nil
}

// CreateCategory persists a category and invalidates the cached listing
func (s *catalogService) CreateCategory(ctx context.Context, category *domain.Category) error {
	if err := s.categories.Create(ctx, category); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.KeyCategoriesList)
	return nil
}

// UpdateCategory updates a category and invalidates the cached listing
func (s *catalogService) UpdateCategory(ctx context.Context, category *domain.Category) error {
	if err := s.categories.Update(ctx, category); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.KeyCategoriesList)
	return nil
}

// DeleteCategory removes a category (cascading to its products) and
// invalidates both listings
func (s *catalogService) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.KeyCategoriesList, cache.KeyProductsList)
	return nil
}

// GetProduct returns one product, cache-aside with a 1h TTL
func (s *catalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	key := cache.ProductKey(id)

	if data, ok := s.cache.Get(ctx, key); ok {
		product := &domain.Product{}
		if err := json.Unmarshal(data, product); err == nil {
			return product, nil
		}
		s.logger.Warn("Discarding undecodable cached product", zap.Int64("product_id", id))
		s.cache.Delete(ctx, key)
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		s.cache.Set(ctx, key, data, CatalogCacheTTL)
	}

	return product, nil
}

// ListProducts returns one page of the catalog. Only the unfiltered default
// listing is cached; filtered and searched listings always hit the store so
// distinct queries never collide under one key.
func (s *catalogService) ListProducts(ctx context.Context, filter repository.ProductFilter, page, pageSize int, sortBy string, sortOrder repository.SortOrder) (*ProductPage, error) {
	cacheable := isDefaultListing(filter, page, sortBy, sortOrder)

	if cacheable {
		if data, ok := s.cache.Get(ctx, cache.KeyProductsList); ok {
			result := &ProductPage{}
			if err := json.Unmarshal(data, result); err == nil && result.PageSize == pageSize {
				return result, nil
			}
		}
	}

	products, total, err := s.products.List(ctx, filter, page, pageSize, sortBy, sortOrder)
	if err != nil {
		return nil, err
	}

	result := &ProductPage{
		Products: products,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}

	if cacheable {
		if data, err := json.Marshal(result); err == nil {
			s.cache.Set(ctx, cache.KeyProductsList, data, CatalogCacheTTL)
		}
	}

	return result, nil
}

// CreateProduct persists a product and invalidates the listing cache
func (s *catalogService) CreateProduct(ctx context.Context, product *domain.Product) error {
	if _, err := s.categories.FindByID(ctx, product.CategoryID); err != nil {
		return err
	}
	if err := s.products.Create(ctx, product); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.KeyProductsList)
	return nil
}

// UpdateProduct updates a product and invalidates its cache entries
func (s *catalogService) UpdateProduct(ctx context.Context, product *domain.Product) error {
	if err := s.products.Update(ctx, product); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.ProductKey(product.ID), cache.KeyProductsList)
	return nil
}

// DeleteProduct removes a product and invalidates its cache entries
func (s *catalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.ProductKey(id), cache.KeyProductsList)
	return nil
}

// isDefaultListing reports whether the request is the plain first-page
// listing that the products_list cache key stores
func isDefaultListing(filter repository.ProductFilter, page int, sortBy string, sortOrder repository.SortOrder) bool {
	if page != 1 {
		return false
	}
	if filter.CategoryID != nil || filter.MinPrice != nil || filter.MaxPrice != nil || filter.InStock != nil || filter.Search != "" {
		return false
	}
	return (sortBy == "" || sortBy == "created_at") && (sortOrder == "" || sortOrder == repository.SortOrderDesc)
}
