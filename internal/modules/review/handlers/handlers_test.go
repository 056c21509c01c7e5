package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/review"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (http.Handler, *review.Queue) {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	repo := review.NewRepository(testingpkg.NewMemoryDB(t, database.NameInbox), logger)
	queue := review.NewQueue(repo, testingpkg.NewMockTransactionCreator(), nil, nil, logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		NewHandler(queue, 30, logger).RegisterRoutes(r)
	})
	return router, queue
}

func queueOne(t *testing.T, queue *review.Queue) *domain.ReviewQueueItem {
	t.Helper()
	item, err := queue.AddToQueue(context.Background(), review.AddRequest{
		Candidate: domain.EmailCandidate{
			Symbol:          "AAPL",
			TransactionType: domain.TransactionTypeBuy,
			Quantity:        decimal.NewFromInt(100),
			Price:           decimal.RequireFromString("150.25"),
			TotalAmount:     decimal.RequireFromString("15025"),
			Currency:        "USD",
			TransactionDate: time.Date(2024, 3, 1, 10, 32, 0, 0, time.UTC),
			Confidence:      0.9,
		},
		Identification:     domain.EmailIdentification{MessageID: "<h@mail>", ContentHash: "h"},
		DuplicateResult:    domain.NotDuplicate(),
		PortfolioID:        "p1",
		Source:             "wealthsimple.com",
		AutoInsertDisabled: true,
	})
	require.NoError(t, err)
	return item
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response should carry a data object")
	return data
}

func TestHandleList(t *testing.T) {
	router, queue := setupRouter(t)
	queueOne(t, queue)

	w := do(router, "GET", "/api/review?status=pending", "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["count"])

	w = do(router, "GET", "/api/review?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "GET", "/api/review?status=archived", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleApproveThenConflict(t *testing.T) {
	router, queue := setupRouter(t)
	item := queueOne(t, queue)

	w := do(router, "POST", "/api/review/"+item.ID+"/approve", `{"reviewer":"alice","notes":"ok"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "approved", data["status"])
	assert.Equal(t, "alice", data["reviewedBy"])

	w = do(router, "POST", "/api/review/"+item.ID+"/reject", `{"reviewer":"bob"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ConflictError")
}

func TestHandleReject_EmptyBody(t *testing.T) {
	router, queue := setupRouter(t)
	item := queueOne(t, queue)

	w := do(router, "POST", "/api/review/"+item.ID+"/reject", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", decodeData(t, w)["status"])
}

func TestHandleGet_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, "GET", "/api/review/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleUpdate(t *testing.T) {
	router, queue := setupRouter(t)
	item := queueOne(t, queue)

	body := `{"candidate":{"symbol":"MSFT","transactionType":"buy","quantity":"10","price":"400","totalAmount":"4000",
		"currency":"USD","transactionDate":"2024-03-01T10:32:00Z","confidence":0.9},"editor":"alice"}`
	w := do(router, "PUT", "/api/review/"+item.ID, body)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "alice", data["lastModifiedBy"])
	assert.Equal(t, "MSFT", data["candidate"].(map[string]interface{})["symbol"])

	w = do(router, "PUT", "/api/review/"+item.ID, `{"candidate":{"symbol":""},"editor":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "PUT", "/api/review/"+item.ID, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatsAndCleanup(t *testing.T) {
	router, queue := setupRouter(t)
	queueOne(t, queue)

	w := do(router, "GET", "/api/review/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["pending"])

	w = do(router, "POST", "/api/review/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, float64(0), data["deleted"])
	assert.Equal(t, float64(30), data["days"])

	w = do(router, "POST", "/api/review/cleanup?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterRoutes(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	handler := NewHandler(nil, 30, logger)

	router := chi.NewRouter()
	assert.NotPanics(t, func() {
		handler.RegisterRoutes(router)
	})
	assert.NotEmpty(t, router.Routes())
}
