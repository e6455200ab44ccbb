package repository

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/media-catalog-api/internal/models"
)

func newArtifactMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func artifactColumns() []string {
	return []string{
		"id", "folder_path_normalized", "version_key", "zip_name", "zip_size_bytes",
		"source_size_bytes", "tier", "status", "hit_count", "last_accessed_at",
		"expires_at", "last_error", "created_at", "updated_at",
	}
}

func artifactRow(id int64, folder, key string, tier models.ZipArtifactTier, status models.ZipArtifactStatus, hits int64) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		id, folder, key, "album-" + key + ".zip", int64(2048),
		int64(4096), string(tier), string(status), hits, now,
		now.Add(24 * time.Hour), nil, now, now,
	}
}

func TestZipArtifactRepositoryFindReady(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	rows := sqlmock.NewRows(artifactColumns()).
		AddRow(artifactRow(7, "/Artists/Album", "abc", models.TierWarm, models.StatusReady, 3)...)
	mock.ExpectQuery(`(?s)SELECT .* FROM zip_artifacts.*status = 'ready' AND expires_at >`).
		WithArgs("/Artists/Album", "abc", sqlmock.AnyArg()).
		WillReturnRows(rows)

	artifact, err := repo.FindReady(context.Background(), "/Artists/Album", "abc")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, int64(7), artifact.ID)
	assert.Equal(t, models.StatusReady, artifact.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryFindReadyNoRows(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)SELECT .* FROM zip_artifacts.*status = 'ready' AND expires_at >`).
		WithArgs("/Artists/Album", "abc", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(artifactColumns()))

	artifact, err := repo.FindReady(context.Background(), "/Artists/Album", "abc")
	require.NoError(t, err)
	assert.Nil(t, artifact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryTouchAccess(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)SELECT .* FROM zip_artifacts WHERE id =`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(artifactColumns()).
			AddRow(artifactRow(7, "/Artists/Album", "abc", models.TierWarm, models.StatusReady, 3)...))
	mock.ExpectQuery(`(?s)UPDATE zip_artifacts.*hit_count = hit_count \+ 1.*RETURNING`).
		WithArgs(int64(7), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(artifactColumns()).
			AddRow(artifactRow(7, "/Artists/Album", "abc", models.TierWarm, models.StatusReady, 4)...))

	artifact, err := repo.TouchAccess(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, int64(4), artifact.HitCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryTouchAccessGone(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)SELECT .* FROM zip_artifacts WHERE id =`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(artifactColumns()))

	artifact, err := repo.TouchAccess(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, artifact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryMarkBuilding(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)INSERT INTO zip_artifacts.*ON CONFLICT \(folder_path_normalized, version_key\) DO UPDATE.*status = 'building'.*RETURNING`).
		WithArgs("/Artists/Album", "abc", "album-abc.zip", int64(4096), models.TierWarm, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(artifactColumns()).
			AddRow(artifactRow(1, "/Artists/Album", "abc", models.TierWarm, models.StatusBuilding, 0)...))

	artifact, err := repo.MarkBuilding(context.Background(), UpsertZipArtifactParams{
		FolderPathNormalized: "/Artists/Album",
		VersionKey:           "abc",
		ZipName:              "album-abc.zip",
		SourceSizeBytes:      4096,
		Tier:                 models.TierWarm,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, artifact.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryMarkFailedTruncatesError(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	truncated := strings.Repeat("x", maxLastErrorLen)
	mock.ExpectQuery(`(?s)INSERT INTO zip_artifacts.*status = 'failed'.*RETURNING`).
		WithArgs("/Artists/Album", "abc", "album-abc.zip", int64(4096), models.TierWarm,
			sqlmock.AnyArg(), sqlmock.AnyArg(), truncated).
		WillReturnRows(sqlmock.NewRows(artifactColumns()).
			AddRow(artifactRow(1, "/Artists/Album", "abc", models.TierWarm, models.StatusFailed, 0)...))

	_, err := repo.MarkFailed(context.Background(), UpsertZipArtifactParams{
		FolderPathNormalized: "/Artists/Album",
		VersionKey:           "abc",
		ZipName:              "album-abc.zip",
		SourceSizeBytes:      4096,
		Tier:                 models.TierWarm,
	}, strings.Repeat("x", maxLastErrorLen+500))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryListExpired(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)SELECT id, folder_path_normalized, zip_name FROM zip_artifacts.*expires_at <=.*ORDER BY expires_at ASC`).
		WithArgs(sqlmock.AnyArg(), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "folder_path_normalized", "zip_name"}).
			AddRow(int64(1), "/Artists/A", "a.zip").
			AddRow(int64(2), "/Artists/B", "b.zip"))

	rows, err := repo.ListExpired(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.zip", rows[0].ZipName)
	assert.Equal(t, "/Artists/A", rows[0].FolderPathNormalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryListEvictionCandidates(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`(?s)SELECT id, folder_path_normalized, zip_name, zip_size_bytes FROM zip_artifacts.*ORDER BY last_accessed_at ASC, id ASC`).
		WithArgs(models.TierWarm, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "folder_path_normalized", "zip_name", "zip_size_bytes"}).
			AddRow(int64(3), "/Artists/Old", "old.zip", int64(512)))

	rows, err := repo.ListEvictionCandidates(context.Background(), models.TierWarm, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(512), rows[0].ZipSizeBytes)
	assert.Equal(t, "/Artists/Old", rows[0].FolderPathNormalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositorySumReadyZipBytes(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(zip_size_bytes\), 0\) FROM zip_artifacts WHERE status = 'ready'`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(123456)))

	total, err := repo.SumReadyZipBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryDeleteByID(t *testing.T) {
	db, mock, cleanup := newArtifactMock(t)
	defer cleanup()
	repo := NewZipArtifactRepository(db, 0, 0)

	mock.ExpectExec(`DELETE FROM zip_artifacts WHERE id =`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteByID(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZipArtifactRepositoryTTLFor(t *testing.T) {
	repo := NewZipArtifactRepository(nil, 0, 0)
	assert.Equal(t, 90*24*time.Hour, repo.TTLFor(models.TierHot))
	assert.Equal(t, 14*24*time.Hour, repo.TTLFor(models.TierWarm))
}
