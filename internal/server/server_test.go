package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	cfg := &config.Config{
		DataDir:              t.TempDir(),
		Port:                 8010,
		DevMode:              true,
		BatchWorkers:         1,
		DefaultCurrency:      "USD",
		DefaultPortfolio:     "Default",
		DuplicateWindowHours: 24,
		DuplicateGate:        domain.DuplicateGateAdvisory,
		ReviewRetentionDays:  90,
		SpoolEnabled:         true,
	}
	container, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	return New(Config{Log: zerolog.Nop(), Config: cfg, Container: container}), container
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/system/status",
		"/api/system/databases",
		"/api/review/stats",
		"/api/review",
		"/api/sources",
		"/api/transactions",
		"/api/portfolios",
		"/api/processed-emails",
		"/api/work/types",
		"/api/work/status",
	} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSystemStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data SystemStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Data.Status)
	assert.Len(t, resp.Data.Databases, 3)
	require.NotNil(t, resp.Data.ReviewQueue)
	assert.Zero(t, resp.Data.ReviewQueue.Pending)
	assert.False(t, resp.Data.BackupsEnabled)
}

func TestEventStream_SSE(t *testing.T) {
	s, container := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=transaction_created", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			}
		}
	}

	assert.Contains(t, readData(), `"type":"connected"`)

	// Filtered out
	container.EventBus.EmitTyped("test", &events.SpoolFileData{File: "a.eml"})
	container.EventBus.EmitTyped("test", &events.TransactionCreatedData{TransactionID: "tx-1"})

	msg := readData()
	assert.Contains(t, msg, `"type":"TRANSACTION_CREATED"`)
	assert.Contains(t, msg, "tx-1")
}

func TestEventStream_WebSocket(t *testing.T) {
	s, container := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg streamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "connected", msg.Type)

	container.EventBus.EmitTyped("spool", &events.SpoolFileData{File: "fill.eml"})

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.SpoolFileArrived), msg.Type)
	assert.Equal(t, "fill.eml", msg.Data["file"])
}
