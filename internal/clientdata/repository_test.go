package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupAnswer struct {
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, ok := database.SchemaFor(database.NameClientData)
	require.True(t, ok)
	require.NoError(t, database.ApplySchema(db, schema))
	return db
}

func newTestRepository(t *testing.T, now time.Time) *Repository {
	repo := NewRepository(setupTestDB(t))
	repo.now = func() time.Time { return now }
	return repo
}

func TestStoreAndGetIfFresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, now)

	err := repo.Store(TableSymbolLookups, "BRK B|stock", lookupAnswer{Symbol: "BRK.B", Confidence: 0.9}, time.Hour)
	require.NoError(t, err)

	raw, err := repo.GetIfFresh(TableSymbolLookups, "BRK B|stock")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var got lookupAnswer
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "BRK.B", got.Symbol)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestGetIfFresh_ExpiredReturnsNilButGetReturnsStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, now)

	require.NoError(t, repo.Store(TableSymbolLookups, "k", lookupAnswer{Symbol: "X"}, time.Hour))

	repo.now = func() time.Time { return now.Add(2 * time.Hour) }

	fresh, err := repo.GetIfFresh(TableSymbolLookups, "k")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	stale, err := repo.Get(TableSymbolLookups, "k")
	require.NoError(t, err)
	assert.NotNil(t, stale)
}

func TestGet_MissingKey(t *testing.T) {
	repo := newTestRepository(t, time.Now())

	data, err := repo.Get(TableSymbolLookups, "missing")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := newTestRepository(t, time.Now())

	assert.Error(t, repo.Store("users; DROP TABLE x", "k", 1, time.Hour))
	_, err := repo.Get("nope", "k")
	assert.Error(t, err)
	_, err = repo.DeleteExpired("nope")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo := newTestRepository(t, time.Now())

	require.NoError(t, repo.Store(TableSymbolLookups, "k", 1, time.Hour))
	require.NoError(t, repo.Delete(TableSymbolLookups, "k"))

	data, err := repo.Get(TableSymbolLookups, "k")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCleanupJob_RemovesOnlyExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, now)

	require.NoError(t, repo.Store(TableSymbolLookups, "old", 1, time.Minute))
	require.NoError(t, repo.Store(TableSymbolLookups, "new", 2, 48*time.Hour))
	require.NoError(t, repo.Store(TableIdentifierMappings, "US0378331005", 3, time.Minute))

	repo.now = func() time.Time { return now.Add(time.Hour) }

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "client_data_cleanup", job.Name())

	deleted, err := job.Run()
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	kept, err := repo.Get(TableSymbolLookups, "new")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
