package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCategoryRepo keeps categories in memory and counts List calls so tests
// can tell cache hits from store reads
type fakeCategoryRepo struct {
	mu         sync.Mutex
	categories map[int64]*domain.Category
	nextID     int64
	listCalls  int
}

func newFakeCategoryRepo() *fakeCategoryRepo {
	return &fakeCategoryRepo{categories: make(map[int64]*domain.Category)}
}

func (r *fakeCategoryRepo) Create(_ context.Context, category *domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.categories {
		if existing.Name == category.Name {
			return repository.ErrCategoryAlreadyExists
		}
	}
	r.nextID++
	category.ID = r.nextID
	cp := *category
	r.categories[category.ID] = &cp
	return nil
}

func (r *fakeCategoryRepo) Update(_ context.Context, category *domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.categories[category.ID]; !ok {
		return repository.ErrCategoryNotFound
	}
	cp := *category
	r.categories[category.ID] = &cp
	return nil
}

func (r *fakeCategoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.categories[id]; !ok {
		return repository.ErrCategoryNotFound
	}
	delete(r.categories, id)
	return nil
}

func (r *fakeCategoryRepo) List(_ context.Context) ([]*domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listCalls++
	categories := []*domain.Category{}
	for id := int64(1); id <= r.nextID; id++ {
		if category, ok := r.categories[id]; ok {
			cp := *category
			categories = append(categories, &cp)
		}
	}
	return categories, nil
}

func (r *fakeCategoryRepo) FindByID(_ context.Context, id int64) (*domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	category, ok := r.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	cp := *category
	return &cp, nil
}

// countingProductRepo wraps the in-memory product repository and counts reads
type countingProductRepo struct {
	*memProductRepo
	mu        sync.Mutex
	findCalls int
	listCalls int
}

func (r *countingProductRepo) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	r.findCalls++
	r.mu.Unlock()
	return r.memProductRepo.FindByID(ctx, id)
}

func (r *countingProductRepo) List(ctx context.Context, filter repository.ProductFilter, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error) {
	r.mu.Lock()
	r.listCalls++
	r.mu.Unlock()
	return r.memProductRepo.List(ctx, filter, page, pageSize, sortBy, sortOrder)
}

func (r *countingProductRepo) WithTx(*sql.Tx) repository.ProductRepository { return r }

type catalogFixture struct {
	svc        CatalogService
	categories *fakeCategoryRepo
	products   *countingProductRepo
	store      *memStore
	redis      *miniredis.Miniredis
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := newMemStore()
	categories := newFakeCategoryRepo()
	products := &countingProductRepo{memProductRepo: &memProductRepo{store: store}}

	svc := NewCatalogService(categories, products, cache.New(client, zap.NewNop()), zap.NewNop())
	return &catalogFixture{
		svc:        svc,
		categories: categories,
		products:   products,
		store:      store,
		redis:      mr,
	}
}

func TestListCategoriesPopulatesCache(t *testing.T) {
	f := newCatalogFixture(t)
	require.NoError(t, f.svc.CreateCategory(context.Background(), &domain.Category{Name: "Coffee"}))

	first, err := f.svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, f.categories.listCalls)

	assert.True(t, f.redis.Exists(cache.KeyCategoriesList))
	ttl := f.redis.TTL(cache.KeyCategoriesList)
	assert.Equal(t, CatalogCacheTTL, ttl)

	// Second read is served from the cache
	second, err := f.svc.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, "Coffee", second[0].Name)
	assert.Equal(t, 1, f.categories.listCalls)
}

func TestCategoryMutationsInvalidateListing(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	category := &domain.Category{Name: "Coffee"}
	require.NoError(t, f.svc.CreateCategory(ctx, category))

	_, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.KeyCategoriesList))

	category.Description = "beans and gear"
	require.NoError(t, f.svc.UpdateCategory(ctx, category))
	assert.False(t, f.redis.Exists(cache.KeyCategoriesList), "update must drop the cached listing")

	_, err = f.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.KeyCategoriesList))

	require.NoError(t, f.svc.DeleteCategory(ctx, category.ID))
	assert.False(t, f.redis.Exists(cache.KeyCategoriesList))
	assert.False(t, f.redis.Exists(cache.KeyProductsList), "category delete cascades to products, so their listing drops too")
}

func TestListCategoriesRecoversFromCorruptEntry(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.CreateCategory(ctx, &domain.Category{Name: "Coffee"}))

	require.NoError(t, f.redis.Set(cache.KeyCategoriesList, "{not json"))

	categories, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 1)
	assert.Equal(t, 1, f.categories.listCalls, "corrupt entry must fall through to the store")
}

func TestGetProductCachesUnderOwnKey(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	productID := f.store.addProduct("Beans", "9.99", 5)

	product, err := f.svc.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, "Beans", product.Name)
	assert.Equal(t, 1, f.products.findCalls)
	assert.True(t, f.redis.Exists(cache.ProductKey(productID)))

	_, err = f.svc.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.products.findCalls, "second read must come from the cache")
}

func TestGetProductUnknown(t *testing.T) {
	f := newCatalogFixture(t)

	_, err := f.svc.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, repository.ErrProductNotFound)
	assert.False(t, f.redis.Exists(cache.ProductKey(404)))
}

func TestProductMutationsInvalidateEntries(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	productID := f.store.addProduct("Beans", "9.99", 5)

	product, err := f.svc.GetProduct(ctx, productID)
	require.NoError(t, err)
	_, err = f.svc.ListProducts(ctx, repository.ProductFilter{}, 1, 10, "", "")
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.ProductKey(productID)))
	require.True(t, f.redis.Exists(cache.KeyProductsList))

	product.Stock = 42
	require.NoError(t, f.svc.UpdateProduct(ctx, product))
	assert.False(t, f.redis.Exists(cache.ProductKey(productID)))
	assert.False(t, f.redis.Exists(cache.KeyProductsList))

	refreshed, err := f.svc.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 42, refreshed.Stock, "stale stock must not survive the update")

	require.NoError(t, f.svc.DeleteProduct(ctx, productID))
	assert.False(t, f.redis.Exists(cache.ProductKey(productID)))
}

func TestListProductsCachesOnlyDefaultListing(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.store.addProduct("Beans", "9.99", 5)

	_, err := f.svc.ListProducts(ctx, repository.ProductFilter{}, 1, 10, "", "")
	require.NoError(t, err)
	assert.True(t, f.redis.Exists(cache.KeyProductsList))
	assert.Equal(t, 1, f.products.listCalls)

	_, err = f.svc.ListProducts(ctx, repository.ProductFilter{}, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.products.listCalls, "default listing must come from the cache")

	// A filtered listing bypasses the cache in both directions
	search := repository.ProductFilter{Search: "beans"}
	_, err = f.svc.ListProducts(ctx, search, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.products.listCalls)
	_, err = f.svc.ListProducts(ctx, search, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.products.listCalls)

	// So does a later page
	_, err = f.svc.ListProducts(ctx, repository.ProductFilter{}, 2, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, 4, f.products.listCalls)
}

func TestCreateProductRequiresCategory(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	err := f.svc.CreateProduct(ctx, &domain.Product{Name: "Beans", CategoryID: 77})
	assert.ErrorIs(t, err, repository.ErrCategoryNotFound)

	category := &domain.Category{Name: "Coffee"}
	require.NoError(t, f.svc.CreateCategory(ctx, category))

	product := &domain.Product{Name: "Beans", CategoryID: category.ID}
	require.NoError(t, f.svc.CreateProduct(ctx, product))
	assert.NotZero(t, product.ID)
}
