package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-runhub/internal/run"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func asUser(id string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id != "" {
			c.Locals("user_id", id)
		}
		return c.Next()
	}
}

func newTestApp(m *Manager, userID string) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/tracking"), m, asUser(userID))
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 2000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// waitForDistance blocks until pushed samples have been applied.
func waitForDistance(t *testing.T, m *Manager, id string, meters float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := m.Live(id)
		if err == nil && rec.Current != nil && rec.Current.Metrics.TotalDistanceMeters >= meters {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never reached %.0f m", id, meters)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTrackingHandlersRunFlow(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, newFakePublisher(), pushFactory)
	app := newTestApp(m, "user-1")

	resp := do(t, app, http.MethodPost, "/tracking/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d", resp.StatusCode)
	}
	rec := decode[Record](t, resp)

	samples := `[{"type":"location","lat":0,"lng":0,"speed_mps":3},{"type":"pedometer","steps":10,"cadence_sps":2.5}]`
	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/samples", []byte(samples))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("samples status %d", resp.StatusCode)
	}
	if got := decode[map[string]int](t, resp); got["accepted"] != 2 {
		t.Fatalf("expected 2 accepted, got %v", got)
	}

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/samples", []byte(`{"type":"location","lat":0.001,"lng":0,"speed_mps":3}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("single sample status %d", resp.StatusCode)
	}

	waitForDistance(t, m, rec.ID, 100)

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status %d", resp.StatusCode)
	}
	if got := decode[Record](t, resp); got.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/samples", []byte(`{"type":"location"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("samples while paused: expected 409, got %d", resp.StatusCode)
	}

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status %d", resp.StatusCode)
	}

	resp = do(t, app, http.MethodGet, "/tracking/runs/"+rec.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live get status %d", resp.StatusCode)
	}
	if got := decode[Record](t, resp); got.Status != StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status %d", resp.StatusCode)
	}
	final := decode[Record](t, resp)
	if final.Status != StatusFinished || final.Summary == nil || final.Summary.TotalDistanceMeters < 100 {
		t.Fatalf("unexpected final record %+v", final)
	}

	resp = do(t, app, http.MethodGet, "/tracking/runs/"+rec.ID, nil)
	if got := decode[Record](t, resp); got.Status != StatusFinished {
		t.Fatalf("stored run should be finished, got %s", got.Status)
	}

	resp = do(t, app, http.MethodGet, "/tracking/runs/"+rec.ID+"/path", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("path status %d", resp.StatusCode)
	}
	if path := decode[[]run.PathPoint](t, resp); len(path) != 2 {
		t.Fatalf("expected 2 path points, got %d", len(path))
	}

	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/stop", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second stop: expected 404, got %d", resp.StatusCode)
	}
}

func TestTrackingHandlersRequireUser(t *testing.T) {
	m := newTestManager(newMemStore(), newFakePublisher(), pushFactory)
	app := newTestApp(m, "")

	resp := do(t, app, http.MethodPost, "/tracking/runs", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTrackingHandlersForbiddenForOtherUser(t *testing.T) {
	m := newTestManager(newMemStore(), newFakePublisher(), pushFactory)
	rec, err := m.Start(context.Background(), "owner")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background(), rec.ID)

	app := newTestApp(m, "intruder")
	for _, action := range []string{"pause", "resume", "stop", "samples"} {
		resp := do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/"+action, []byte(`{}`))
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", action, resp.StatusCode)
		}
	}
}

func TestTrackingHandlersBadSamples(t *testing.T) {
	m := newTestManager(newMemStore(), newFakePublisher(), pushFactory)
	app := newTestApp(m, "user-1")
	rec := decode[Record](t, do(t, app, http.MethodPost, "/tracking/runs", nil))
	defer m.Stop(context.Background(), rec.ID)

	resp := do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/samples", []byte("{"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", resp.StatusCode)
	}
	resp = do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/samples", []byte(`{"type":"heart_rate"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type: expected 400, got %d", resp.StatusCode)
	}
}

func TestTrackingHandlersUnknownRun(t *testing.T) {
	m := newTestManager(newMemStore(), newFakePublisher(), pushFactory)
	app := newTestApp(m, "user-1")

	for _, action := range []string{"pause", "resume", "stop"} {
		resp := do(t, app, http.MethodPost, "/tracking/runs/missing/"+action, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", action, resp.StatusCode)
		}
	}
	resp := do(t, app, http.MethodGet, "/tracking/runs/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get: expected 404, got %d", resp.StatusCode)
	}
}

func TestTrackingHandlersResumeFailure(t *testing.T) {
	src := &failingSource{}
	m := newTestManager(newMemStore(), newFakePublisher(), func(string) (run.SensorSource, error) { return src, nil })
	app := newTestApp(m, "user-1")
	rec := decode[Record](t, do(t, app, http.MethodPost, "/tracking/runs", nil))

	do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/pause", nil)
	src.mu.Lock()
	src.startErr = errDB
	src.mu.Unlock()

	resp := do(t, app, http.MethodPost, "/tracking/runs/"+rec.ID+"/resume", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestTrackingHandlersStoredRunFromPostgres(t *testing.T) {
	mock := newMock(t)
	started := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)

	mock.ExpectQuery(`SELECT id, user_id, status, started_at, ended_at`).
		WithArgs("run-9").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-9", "user-1", StatusFailed, started, &ended, 800.0, 300.0, 375.0, 150.0, 160.0, 320.0, 1.0, 2.0, 750, "gps lost"))
	mock.ExpectQuery(`SELECT lat, lng, recorded_at, pace_sec_per_km, zone`).
		WithArgs("run-9").
		WillReturnError(errDB)

	m := newTestManager(NewRepository(mock), newFakePublisher(), pushFactory)
	app := newTestApp(m, "user-1")

	resp := do(t, app, http.MethodGet, "/tracking/runs/run-9", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	got := decode[Record](t, resp)
	if got.Status != StatusFailed || got.Failure != "gps lost" || got.Summary.TotalSteps != 750 {
		t.Fatalf("unexpected record %+v", got)
	}

	resp = do(t, app, http.MethodGet, "/tracking/runs/run-9/path", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("path error: expected 500, got %d", resp.StatusCode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
