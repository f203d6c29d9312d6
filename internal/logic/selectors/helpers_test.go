package selectors

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
)

// countingCatalog wraps an InMemoryCatalog and counts DAO calls.
type countingCatalog struct {
	*models.InMemoryCatalog

	mu            sync.Mutex
	contentCalls  int
	groupLookups  []string
	contentsErr   error
	groupsErr     error
	groupErrs     map[string]error
	missingGroups map[string]bool
}

func (c *countingCatalog) GetContents(ctx context.Context, marketplaceID string) ([]models.AdvertisementContent, error) {
	c.mu.Lock()
	c.contentCalls++
	err := c.contentsErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.InMemoryCatalog.GetContents(ctx, marketplaceID)
}

func (c *countingCatalog) GetTargetingGroups(ctx context.Context, contentID string) ([]models.TargetingGroup, error) {
	c.mu.Lock()
	c.groupLookups = append(c.groupLookups, contentID)
	err := c.groupsErr
	if contentErr, ok := c.groupErrs[contentID]; ok {
		err = contentErr
	}
	missing := c.missingGroups[contentID]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, models.ErrNotFound
	}
	return c.InMemoryCatalog.GetTargetingGroups(ctx, contentID)
}

func (c *countingCatalog) calls() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contentCalls, len(c.groupLookups)
}

// newTestCatalog builds a catalog from contents and groups or fails the test.
func newTestCatalog(t *testing.T, contents []models.AdvertisementContent, groups []models.TargetingGroup) *countingCatalog {
	t.Helper()
	cat := models.NewInMemoryCatalog()
	if err := cat.ReloadAll(contents, groups); err != nil {
		t.Fatalf("reload catalog: %v", err)
	}
	return &countingCatalog{InMemoryCatalog: cat}
}

func newTestPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	p := workerpool.New(4, 64, nil, nil)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func preds(results ...models.PredicateResult) []models.TargetingPredicate {
	out := make([]models.TargetingPredicate, len(results))
	for i, r := range results {
		out[i] = models.Constant(r)
	}
	return out
}

// setupTestRedis spins up an in-memory Redis and returns a store pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
	t.Cleanup(func() {
		_ = store.Client.Close()
		s.Close()
	})
	return s, store
}
