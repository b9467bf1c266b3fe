package prompt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

// SnapshotCache is the key/value store CachedStore keeps versions in.
type SnapshotCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStore serves published versions from a cache. Drafts are always read
// from the underlying store since their content can still change.
type CachedStore struct {
	store VersionStore
	cache SnapshotCache
	ttl   time.Duration
}

func NewCachedStore(store VersionStore, cache SnapshotCache, ttl time.Duration) *CachedStore {
	return &CachedStore{store: store, cache: cache, ttl: ttl}
}

func versionKey(projectID, versionID uuid.UUID) string {
	return fmt.Sprintf("version:%s:%s", projectID, versionID)
}

func (c *CachedStore) GetVersion(ctx context.Context, projectID, versionID uuid.UUID, _ LoadOptions) (*models.PromptVersion, error) {
	key := versionKey(projectID, versionID)

	var cached models.PromptVersion
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	v, err := c.store.GetVersion(ctx, projectID, versionID, FullLoad)
	if err != nil {
		return nil, err
	}
	if v.Published() {
		if err := c.cache.Set(ctx, key, v, c.ttl); err != nil {
			logging.FromContext(ctx).Warn("cache prompt version", "version_id", versionID, "error", err)
		}
	}
	return v, nil
}

// Invalidate drops a cached version after its status changed.
func (c *CachedStore) Invalidate(ctx context.Context, projectID, versionID uuid.UUID) error {
	return c.cache.Delete(ctx, versionKey(projectID, versionID))
}
