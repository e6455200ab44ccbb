package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/media-catalog-api/internal/models"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
)

type memoStoreStub struct {
	entries  map[string]models.ZipArtifact
	patterns []string
}

func (s *memoStoreStub) Get(ctx context.Context, key string, dest interface{}) error {
	artifact, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.ZipArtifact) = artifact
	return nil
}

func (s *memoStoreStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.entries == nil {
		s.entries = make(map[string]models.ZipArtifact)
	}
	s.entries[key] = *value.(*models.ZipArtifact)
	return nil
}

func (s *memoStoreStub) DeleteByPattern(ctx context.Context, pattern string) error {
	s.patterns = append(s.patterns, pattern)
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	store := &memoStoreStub{}
	memo := NewCacheService(store, nil, nil, time.Minute)

	memo.SetArtifact(context.Background(), &models.ZipArtifact{
		ID:                   7,
		FolderPathNormalized: "/Artists/Album",
		VersionKey:           "abc",
	})

	artifact, ok := memo.GetArtifact(context.Background(), "/Artists/Album", "abc")
	require.True(t, ok)
	assert.Equal(t, int64(7), artifact.ID)

	_, ok = memo.GetArtifact(context.Background(), "/Artists/Album", "other")
	assert.False(t, ok)
}

func TestCacheServiceInvalidateFolderPattern(t *testing.T) {
	store := &memoStoreStub{}
	memo := NewCacheService(store, nil, nil, time.Minute)

	memo.InvalidateFolder(context.Background(), "Artists//Album/")
	assert.Equal(t, []string{"zipartifact:lookup:/Artists/Album:*"}, store.patterns)
}

func TestCacheServiceNilSafe(t *testing.T) {
	var memo *CacheService
	_, ok := memo.GetArtifact(context.Background(), "/a", "k")
	assert.False(t, ok)
	memo.SetArtifact(context.Background(), &models.ZipArtifact{})
	memo.InvalidateFolder(context.Background(), "/a")

	disabled := NewCacheService(nil, nil, nil, 0)
	_, ok = disabled.GetArtifact(context.Background(), "/a", "k")
	assert.False(t, ok)
}
