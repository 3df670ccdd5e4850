package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-install/internal/install"
	"github.com/any-hub/any-install/internal/logging"
)

type staticProgress struct{ snap install.Snapshot }

func (s staticProgress) Snapshot() install.Snapshot { return s.snap }

func newTestApp(t *testing.T, state *State) *fiber.App {
	t.Helper()
	app, err := NewApp(AppOptions{
		Logger:   logging.Discard(),
		State:    state,
		Progress: staticProgress{snap: install.Snapshot{Total: 10, Done: 4, Current: "bash.rpm"}},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func TestStatusReportsPhaseAndProgress(t *testing.T) {
	state := NewState()
	state.SetPhase("installing")
	app := newTestApp(t, state)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	var payload struct {
		Phase    string           `json:"phase"`
		Version  string           `json:"version"`
		Progress install.Snapshot `json:"progress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Phase != "installing" || payload.Progress.Done != 4 || payload.Progress.Current != "bash.rpm" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !strings.HasPrefix(payload.Version, "any-install") {
		t.Fatalf("unexpected version %q", payload.Version)
	}
}

func TestStatusIncludesLastError(t *testing.T) {
	state := NewState()
	state.SetError(io.ErrUnexpectedEOF)
	app := newTestApp(t, state)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unexpected EOF") {
		t.Fatalf("expected error in body, got %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, NewState())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "anyinstall_resolver_checks_total") {
		t.Fatalf("expected installer metrics, got %s", body)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{State: NewState()}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logging.Discard()}); err == nil {
		t.Fatalf("expected error without state")
	}
}
