package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikePrefixEscapesMetacharacters(t *testing.T) {
	assert.Equal(t, `/Artists/Album/%`, likePrefix("/Artists/Album/"))
	assert.Equal(t, `/Top\_40/%`, likePrefix("/Top_40/"))
	assert.Equal(t, `/100\% Hits/%`, likePrefix("/100% Hits/"))
	assert.Equal(t, `/a\\b/%`, likePrefix(`/a\b/`))
}

func TestTrendRepositoryHasRecentFileUnder(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewTrendRepository(db)

	since := time.Now().Add(-24 * time.Hour)
	// "/Top_40" must only match its own subtree, so the underscore is escaped
	// in the LIKE pattern.
	mock.ExpectQuery(`(?s)SELECT EXISTS.*FROM track_metadata.*path LIKE \$2 OR path LIKE \$3`).
		WithArgs(since, `/Top\_40/%`, `Top\_40/%`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	fresh, err := repo.HasRecentFileUnder(context.Background(), []string{"/Top_40/", "Top_40/"}, since)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrendRepositoryCountFolderDownloads(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewTrendRepository(db)

	since := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM download_events.*folder_path IN`).
		WithArgs(since, "/Artists/Album", "Artists/Album").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	count, err := repo.CountFolderDownloads(context.Background(), []string{"/Artists/Album", "Artists/Album"}, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
