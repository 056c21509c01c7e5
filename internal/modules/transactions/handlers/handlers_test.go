package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/portfolios"
	"github.com/aristath/tradeinbox/internal/modules/transactions"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T) (chi.Router, *domain.Transaction) {
	t.Helper()
	log := zerolog.Nop()
	ledger := testingpkg.NewMemoryDB(t, database.NameLedger)
	_, err := ledger.Exec(`INSERT INTO portfolios (id, name, currency, created_at) VALUES ('p1', 'TFSA', 'CAD', 0)`)
	require.NoError(t, err)

	repo := transactions.NewRepository(ledger, log)
	service := transactions.NewService(repo, nil, log)
	processed := transactions.NewProcessedEmailRepository(ledger, log)

	tx, err := service.CreateFromCandidate(context.Background(), domain.CreateTransactionRequest{
		PortfolioID: "p1",
		Candidate: domain.EmailCandidate{
			Symbol:          "XEQT",
			TransactionType: domain.TransactionTypeBuy,
			Quantity:        decimal.NewFromInt(25),
			Price:           decimal.RequireFromString("28.10"),
			TotalAmount:     decimal.RequireFromString("702.50"),
			Fees:            decimal.Zero,
			Currency:        "CAD",
			TransactionDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Confidence:      0.9,
		},
		Identification: domain.EmailIdentification{MessageID: "<qt-1>", ContentHash: "h1"},
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(service, processed, portfolios.NewRepository(ledger, log), log).RegisterRoutes(r)
	return r, tx
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleList(t *testing.T) {
	r, tx := setup(t)

	rec := get(r, "/transactions?from=2024-03-01&to=2024-03-04&portfolio_id=p1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	var body struct {
		Transactions []domain.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, tx.ID, body.Transactions[0].ID)

	// Outside the range
	rec = get(r, "/transactions?from=2024-03-05&to=2024-03-06")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestHandleList_BadInput(t *testing.T) {
	r, _ := setup(t)

	assert.Equal(t, http.StatusBadRequest, get(r, "/transactions?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/transactions?from=2024-03-05&to=2024-03-01").Code)
}

func TestHandleGet(t *testing.T) {
	r, tx := setup(t)

	rec := get(r, "/transactions/"+tx.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"XEQT"`)

	assert.Equal(t, http.StatusNotFound, get(r, "/transactions/missing").Code)
}

func TestHandlePortfoliosAndProcessed(t *testing.T) {
	r, _ := setup(t)

	rec := get(r, "/portfolios")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"TFSA"`)

	rec = get(r, "/processed-emails?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qt-1")

	assert.Equal(t, http.StatusBadRequest, get(r, "/processed-emails?limit=0").Code)
}
