package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	"github.com/drblury/gatebridge/internal/runtime/params"
)

func inspectorMux(t *testing.T, s *Session) http.Handler {
	t.Helper()
	s.StartInspector()
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	mux, ok := s.httpServers[s.Conf.InspectorPort]
	if !ok {
		t.Fatalf("no inspector mux on port %d", s.Conf.InspectorPort)
	}
	return mux
}

func TestInspectorDisabledRegistersNothing(t *testing.T) {
	lb := newLoopback(t, nil)
	lb.session.StartInspector()
	if len(lb.session.httpServers) != 0 {
		t.Fatalf("expected no HTTP handlers, got %d ports", len(lb.session.httpServers))
	}
}

func TestInspectorParameters(t *testing.T) {
	lb := newLoopback(t, &configpkg.Config{InspectorEnabled: true, InspectorCORSAllowedOrigins: []string{"*"}})
	if lb.session.Conf.InspectorPort != configpkg.DefaultInspectorPort {
		t.Fatalf("expected default inspector port, got %d", lb.session.Conf.InspectorPort)
	}
	if _, err := lb.session.BindLayout(params.GateLayout()...); err != nil {
		t.Fatalf("bind layout: %v", err)
	}
	mux := inspectorMux(t, lb.session)

	req := httptest.NewRequest(http.MethodGet, "/api/parameters", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content type, got %s", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be '*', got %s", got)
	}

	var payload []ParameterView
	if err := jsonpkg.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}
	if len(payload) != 15 {
		t.Fatalf("expected 15 parameters, got %d", len(payload))
	}
	for _, p := range payload {
		if p.ID == params.IDPattern {
			if p.Label != "Trance" || p.Kind != "choice" || p.Name != "Pattern" {
				t.Fatalf("unexpected pattern view: %+v", p)
			}
			return
		}
	}
	t.Fatal("pattern parameter missing from listing")
}

func TestInspectorVisualizerUsesBoundStepCount(t *testing.T) {
	lb := newLoopback(t, &configpkg.Config{InspectorEnabled: true, InspectorPort: 9911})
	steps, err := lb.session.Bind(params.Float(params.IDSteps, "Steps", 4, 16, 16))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	steps.SetValue(8)
	lb.push(t, configpkg.DefaultVisualizerTopic, `{"currentStep":2,"gateLevel":0.9,"outputLevel":0.5,"stepPattern":61166}`)

	mux := inspectorMux(t, lb.session)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visualizer", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec.Code)
	}

	var view VisualizerView
	if err := jsonpkg.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Mode != "hosted" || view.Snapshot.CurrentStep != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	active := 0
	for _, cell := range view.Steps {
		if cell.Active {
			active++
		}
	}
	if active != 8 {
		t.Fatalf("expected 8 active steps, got %d", active)
	}
	if !view.Steps[2].Current || view.Steps[2].Height != 0.9 {
		t.Fatalf("unexpected current cell: %+v", view.Steps[2])
	}
}

func TestVisualizerViewSnapsHostStepCount(t *testing.T) {
	lb := newLoopback(t, nil)
	var steps params.Descriptor
	for _, d := range params.GateLayout() {
		if d.ID == params.IDSteps {
			steps = d
		}
	}
	if _, err := lb.session.Bind(steps); err != nil {
		t.Fatalf("bind: %v", err)
	}
	// 4 + 0.33*12 is 7.96, which the host holds as 8.
	lb.push(t, params.IDSteps, "0.33")

	active := 0
	for _, cell := range lb.session.VisualizerView().Steps {
		if cell.Active {
			active++
		}
	}
	if active != 8 {
		t.Fatalf("expected 8 active steps, got %d", active)
	}
}

func TestInspectorCORSAndMethods(t *testing.T) {
	lb := newLoopback(t, &configpkg.Config{
		InspectorEnabled:            true,
		InspectorCORSAllowedOrigins: []string{"https://editor.example"},
	})
	mux := inspectorMux(t, lb.session)

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://EDITOR.example")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://EDITOR.example" {
		t.Fatalf("expected echoed origin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for unknown origin, got %q", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parameters", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
