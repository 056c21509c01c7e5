package work

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) (*chi.Mux, *Processor, *[]string) {
	t.Helper()
	registry := NewRegistry()
	var calls []string
	registry.Register(&WorkType{
		ID:           "maintenance:health",
		Priority:     PriorityMedium,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, subject string) error {
			calls = append(calls, "health")
			return nil
		},
	})
	registry.Register(&WorkType{
		ID:           "maintenance:backup",
		DependsOn:    []string{"maintenance:health"},
		Priority:     PriorityLow,
		FindSubjects: global,
		Execute: func(ctx context.Context, subject string) error {
			return errors.New("bucket unreachable")
		},
	})
	registry.Register(&WorkType{
		ID:           "ingest:spool",
		Priority:     PriorityHigh,
		FindSubjects: func() []string { return nil },
		Execute: func(ctx context.Context, subject string) error {
			calls = append(calls, subject)
			return nil
		},
	})

	completion := NewCompletionTracker()
	processor := NewProcessor(registry, completion, nil, zerolog.Nop())
	h := NewHandlers(processor, registry, completion, zerolog.Nop())

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, processor, &calls
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_ListWorkTypes(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Run one so it reports a completion time
	rec := serve(r, http.MethodPost, "/work/maintenance:health/execute")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/work/types")
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var types []workTypeView
	require.NoError(t, json.Unmarshal(env.Data, &types))

	require.Len(t, types, 3)
	assert.Equal(t, "ingest:spool", types[0].ID)
	assert.Equal(t, "High", types[0].Priority)
	assert.Empty(t, types[0].DependsOn)
	assert.Nil(t, types[0].LastCompleted)

	assert.Equal(t, "maintenance:health", types[1].ID)
	assert.Equal(t, "24h0m0s", types[1].Interval)
	assert.NotNil(t, types[1].LastCompleted)

	assert.Equal(t, []string{"maintenance:health"}, types[2].DependsOn)
}

func TestHandlers_Execute(t *testing.T) {
	r, _, calls := newTestRouter(t)

	rec := serve(r, http.MethodPost, "/work/maintenance:health/execute")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"executed"`)

	rec = serve(r, http.MethodPost, "/work/ingest:spool/fill.eml/execute")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"fill.eml"`)

	assert.Equal(t, []string{"health", "fill.eml"}, *calls)
}

func TestHandlers_ExecuteErrors(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := serve(r, http.MethodPost, "/work/unknown:type/execute")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown work type")

	rec = serve(r, http.MethodPost, "/work/maintenance:backup/execute")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket unreachable")
}

func TestHandlers_StatusAndTrigger(t *testing.T) {
	r, processor, _ := newTestRouter(t)
	processor.exhausted["maintenance:backup"] = time.Now()

	rec := serve(r, http.MethodGet, "/work/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var status Status
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, []string{"maintenance:backup"}, status.Exhausted)
	assert.Empty(t, status.InFlight)

	rec = serve(r, http.MethodPost, "/work/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "triggered")
}
