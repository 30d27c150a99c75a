package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/evidence"
	vtesting "github.com/veridict/veridict/internal/testing"
	"github.com/veridict/veridict/pipeline"
	"github.com/veridict/veridict/slot"
)

type testServer struct {
	server *Server
	mux    *http.ServeMux
	db     *sql.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	conn := vtesting.CreateTestDB(t)
	logger := zap.NewNop().Sugar()

	cfg := &am.Config{
		Server: am.ServerConfig{
			AllowedOrigins:      []string{"*"},
			SubmitRatePerMinute: 600,
			SubmitBurst:         100,
		},
		Stages: []am.StageConfig{
			{
				Name:                  "triage",
				TargetWorkers:         2,
				MinPartial:            2,
				PartialTimeoutSeconds: 60,
				MinimumAbsolute:       1,
				HardTimeoutSeconds:    120,
				MaxDwellRetries:       1,
				MaxDwellSeconds:       600,
				MaxWorkers:            2,
				SlotTTLSeconds:        30,
			},
		},
	}

	store := claim.NewStore(conn)
	registry := slot.NewRegistry(conn, cfg.Stages)
	collector := evidence.NewCollector(conn, registry, 30*time.Second)
	machine := pipeline.NewMachine(store, registry, collector, cfg.Stages, 0, logger)
	coordinator := pipeline.NewCoordinator(store, registry, collector, machine, logger)
	monitor := slot.NewMonitor(registry, slot.MonitorConfig{SweepInterval: time.Hour}, logger)
	ticker := pipeline.NewTicker(coordinator, time.Hour, logger)

	srv := New(conn, coordinator, registry, collector, monitor, ticker, cfg, logger)

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	return &testServer{server: srv, mux: mux, db: conn}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) submitClaim(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/claims", submitClaimRequest{
		Payload:  `{"text":"water boils at 100C"}`,
		Metadata: map[string]string{"source": "test"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c claim.Claim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c.ID
}

func TestSubmitClaim(t *testing.T) {
	ts := newTestServer(t)

	id := ts.submitClaim(t)
	assert.NotEmpty(t, id)

	// Empty payload is a 400
	rec := ts.do(t, http.MethodPost, "/api/claims", submitClaimRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitClaim(t)

	rec := ts.do(t, http.MethodGet, "/api/claims/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view pipeline.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.Claim.ID)
	assert.Equal(t, "triage", view.StageName)

	rec = ts.do(t, http.MethodGet, "/api/claims/CLM_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlotLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitClaim(t)

	rec := ts.do(t, http.MethodPost, "/api/slots", claimSlotRequest{
		ClaimID: id, Stage: 0, WorkerID: "w1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reserved slot.Slot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reserved))
	require.NotEmpty(t, reserved.Token)

	// Duplicate hold
	rec = ts.do(t, http.MethodPost, "/api/slots", claimSlotRequest{
		ClaimID: id, Stage: 0, WorkerID: "w1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Capacity (MaxWorkers: 2)
	rec = ts.do(t, http.MethodPost, "/api/slots", claimSlotRequest{
		ClaimID: id, Stage: 0, WorkerID: "w2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/slots", claimSlotRequest{
		ClaimID: id, Stage: 0, WorkerID: "w3",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Heartbeat, release, then heartbeat on a gone slot
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/slots/%s/heartbeat", reserved.Token), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/slots/"+reserved.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/slots/%s/heartbeat", reserved.Token), nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/slots/SLT_missing/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitEvidenceEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitClaim(t)

	// No such reservation
	rec := ts.do(t, http.MethodPost, "/api/evidence", submitEvidenceRequest{
		SlotToken: "slot_missing", Verdict: "support",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/slots", claimSlotRequest{
		ClaimID: id, Stage: 0, WorkerID: "w1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var reserved slot.Slot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reserved))

	rec = ts.do(t, http.MethodPost, "/api/evidence", submitEvidenceRequest{
		SlotToken: reserved.Token, Verdict: "support",
		Observations: []string{"matches reference data"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Evidence lands under the reservation's worker, not a caller-chosen one
	evs, err := ts.server.collector.Get(id, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "w1", evs[0].WorkerID)

	rec = ts.do(t, http.MethodPost, "/api/evidence", submitEvidenceRequest{
		SlotToken: reserved.Token, Verdict: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndStagesEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.submitClaim(t)

	rec := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Claims map[string]int `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Claims["pending"])

	rec = ts.do(t, http.MethodGet, "/api/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "triage")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRateLimit(t *testing.T) {
	ts := newTestServer(t)
	// Tight limit for the test
	ts.server.limiter = newIPLimiter(1, 2)

	limited := false
	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodPost, "/api/claims", submitClaimRequest{
			Payload: `{"text":"spam"}`,
		})
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of submissions was never limited")
}

func TestApplyConfigRetunesSubmitLimit(t *testing.T) {
	ts := newTestServer(t)

	// A visitor entry exists before the retune
	rec := ts.do(t, http.MethodPost, "/api/claims", submitClaimRequest{
		Payload: `{"text":"first"}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	cfg := *ts.server.config
	cfg.Server.SubmitRatePerMinute = 1
	cfg.Server.SubmitBurst = 1
	require.NoError(t, ts.server.ApplyConfig(&cfg))

	limited := false
	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodPost, "/api/claims", submitClaimRequest{
			Payload: `{"text":"spam"}`,
		})
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "retuned rate limit never applied")
}
