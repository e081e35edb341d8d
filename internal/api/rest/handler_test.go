// Package rest: API tests. HTTP handlers over an in-memory store; assert status and JSON shape.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/philmcc/dbdash-backend/internal/config"
	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/repository"
	"github.com/philmcc/dbdash-backend/internal/service"
	"github.com/philmcc/dbdash-backend/internal/telemetry"
	"github.com/philmcc/dbdash-backend/migrations"
)

type testServer struct {
	router  *mux.Router
	repo    *repository.SQLiteRepository
	source  *telemetry.StaticSource
	monitor *service.Monitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	migrationSQL, err := migrations.All()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	if err := repo.RunMigrations(migrationSQL); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{DefaultIntervalSec: 60, SourceTimeoutSec: 5}
	source := telemetry.NewStaticSource()
	monitor := service.NewMonitor(repo, source, cfg, log)
	t.Cleanup(func() { monitor.StopAll(context.Background()) })

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	SetupRoutes(api, NewHandler(monitor, service.NewQueryService(repo, log)))

	return &testServer{router: router, repo: repo, source: source, monitor: monitor}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestAPI_StartStopMonitoring(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/monitoring", `{"interval_seconds": 60}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST monitoring status = %d, want 201 body=%s", rec.Code, rec.Body.String())
	}
	var session models.MonitoringSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	if session.TargetID != "prod-db" || session.Status != models.SessionStatusRunning {
		t.Errorf("Unexpected session: %+v", session)
	}

	// A second start for the same target conflicts.
	rec = ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/monitoring", `{"interval_seconds": 60}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Duplicate start status = %d, want 409 body=%s", rec.Code, rec.Body.String())
	}
	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if apiErr.Code != string(models.ErrSessionStateConflict) {
		t.Errorf("Error code = %q, want SESSION_STATE_CONFLICT", apiErr.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/targets/prod-db/monitoring", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE monitoring status = %d, want 200 body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/targets/prod-db/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET sessions status = %d, want 200", rec.Code)
	}
	var sessions []models.MonitoringSession
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != models.SessionStatusStopped {
		t.Errorf("Unexpected sessions: %+v", sessions)
	}
}

func TestAPI_StopNeverMonitored(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/v1/targets/ghost/monitoring", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("DELETE status = %d, want 409 body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_StartRejectsPastEndTime(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/monitoring",
		`{"interval_seconds": 60, "end_time": "2020-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST status = %d, want 400 body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_CollectAndListQueries(t *testing.T) {
	ts := newTestServer(t)
	ts.source.SetSnapshot("prod-db", []models.StatementSnapshot{
		{
			RawText: "SELECT * FROM users WHERE id IN ($1,$2)",
			StatementStats: models.StatementStats{
				Calls: 5, TotalTimeMs: 200, MinTimeMs: 2, MaxTimeMs: 90, MeanTimeMs: 40,
			},
		},
		{
			RawText: "SELECT * FROM users WHERE id IN ($1)",
			StatementStats: models.StatementStats{
				Calls: 1, TotalTimeMs: 30, MinTimeMs: 30, MaxTimeMs: 30, MeanTimeMs: 30,
			},
		},
	})

	rec := ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/collect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST collect status = %d, want 200 body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/targets/prod-db/queries", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET queries status = %d, want 200", rec.Code)
	}
	var queries []models.CanonicalQuery
	if err := json.Unmarshal(rec.Body.Bytes(), &queries); err != nil {
		t.Fatalf("Failed to decode queries: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("Expected 1 canonical query, got %d", len(queries))
	}
	if queries[0].DistinctVariantCount != 2 || queries[0].InstanceCount != 2 {
		t.Errorf("Unexpected counters: %d/%d", queries[0].DistinctVariantCount, queries[0].InstanceCount)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/queries/"+queries[0].ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET query status = %d, want 200 body=%s", rec.Code, rec.Body.String())
	}
	var detail models.CanonicalQueryDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to decode detail: %v", err)
	}
	if len(detail.Samples) != 2 {
		t.Errorf("Expected 2 samples in detail, got %d", len(detail.Samples))
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/targets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET targets status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "prod-db") {
		t.Errorf("Targets list missing prod-db: %s", rec.Body.String())
	}
}

func TestAPI_CollectSourceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.source.SetError("prod-db", io.ErrUnexpectedEOF)

	rec := ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/collect", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("POST collect status = %d, want 503 body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_Classification(t *testing.T) {
	ts := newTestServer(t)
	ts.source.SetSnapshot("prod-db", []models.StatementSnapshot{
		{RawText: "DELETE FROM sessions WHERE expires_at < $1", StatementStats: models.StatementStats{Calls: 1}},
	})
	ts.do(t, http.MethodPost, "/api/v1/targets/prod-db/collect", "")

	rec := ts.do(t, http.MethodGet, "/api/v1/targets/prod-db/queries", "")
	var queries []models.CanonicalQuery
	if err := json.Unmarshal(rec.Body.Bytes(), &queries); err != nil {
		t.Fatalf("Failed to decode queries: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("Expected 1 query, got %d", len(queries))
	}
	id := queries[0].ID

	rec = ts.do(t, http.MethodPatch, "/api/v1/queries/"+id+"/classification",
		`{"is_known": true, "group_id": "cleanup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, want 200 body=%s", rec.Code, rec.Body.String())
	}

	// Filter by classification.
	rec = ts.do(t, http.MethodGet, "/api/v1/targets/prod-db/queries?known=true&group=cleanup", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &queries); err != nil {
		t.Fatalf("Failed to decode queries: %v", err)
	}
	if len(queries) != 1 || !queries[0].IsKnown {
		t.Errorf("Classified query missing from filtered list: %+v", queries)
	}

	// Empty update is rejected before it reaches the store.
	rec = ts.do(t, http.MethodPatch, "/api/v1/queries/"+id+"/classification", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Empty PATCH status = %d, want 400", rec.Code)
	}

	// Unknown id maps to 404.
	rec = ts.do(t, http.MethodPatch, "/api/v1/queries/nope/classification", `{"is_known": false}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown id PATCH status = %d, want 404 body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_GetQueryNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/queries/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET status = %d, want 404 body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_InvalidFilterTimestamp(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/targets/prod-db/queries?from=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET status = %d, want 400 body=%s", rec.Code, rec.Body.String())
	}
}
