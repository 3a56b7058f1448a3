package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
	"github.com/ineyio/llmgate/quota/quotatest"
	"github.com/ineyio/llmgate/quota/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	quotatest.RunContract(t, func(t *testing.T) llmgate.QuotaStore {
		return openTestStore(t)
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 42, Tier: "pro"}))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Get(ctx, "u1", "2024-06")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.Count)
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_QueryErrorsPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT count, tier, updated_at FROM usage").
		WithArgs("u1", "2024-06").
		WillReturnError(errors.New("disk I/O error"))

	s := sqlite.New(db)
	_, err = s.Get(context.Background(), "u1", "2024-06")
	require.Error(t, err)
	assert.NotErrorIs(t, err, llmgate.ErrRecordNotFound)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ZeroRowsMapToSentinels(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT OR IGNORE INTO usage").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE usage SET count").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := sqlite.New(db)
	ctx := context.Background()

	err = s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1, Tier: "free"})
	assert.ErrorIs(t, err, llmgate.ErrAlreadyExists)

	err = s.ConditionalUpdate(ctx, "u1", "2024-06", 1, 2, "free")
	assert.ErrorIs(t, err, llmgate.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExecErrorIsNotConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE usage SET count").
		WillReturnError(errors.New("database is locked"))

	s := sqlite.New(db)
	err = s.ConditionalUpdate(context.Background(), "u1", "2024-06", 1, 2, "free")
	require.Error(t, err)
	assert.False(t, llmgate.IsConflict(err))
}

func TestStore_NoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT count, tier, updated_at FROM usage").
		WillReturnRows(sqlmock.NewRows([]string{"count", "tier", "updated_at"}))

	_, err = sqlite.New(db).Get(context.Background(), "u1", "2024-06")
	assert.ErrorIs(t, err, llmgate.ErrRecordNotFound)
}
