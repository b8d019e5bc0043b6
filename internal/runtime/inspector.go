package runtime

import (
	"math"
	"net/http"
	"strings"

	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	"github.com/drblury/gatebridge/internal/runtime/params"
	"github.com/drblury/gatebridge/internal/runtime/telemetry"
)

// ParameterView is one entry of the inspector parameter listing.
type ParameterView struct {
	params.State
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// VisualizerView is the inspector rendering of the latest telemetry frame.
type VisualizerView struct {
	Mode     string               `json:"mode"`
	Snapshot telemetry.Snapshot   `json:"snapshot"`
	Steps    []telemetry.StepCell `json:"steps"`
}

// StartInspector mounts the inspector API when it is enabled.
func (s *Session) StartInspector() {
	if !s.Conf.InspectorEnabled {
		return
	}

	port := s.Conf.InspectorPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/parameters", http.HandlerFunc(s.handleGetParameters))
	s.RegisterHTTPHandler(port, "/api/visualizer", http.HandlerFunc(s.handleGetVisualizer))
	s.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(s.handleGetStats))
}

// ParameterViews lists every bound parameter with its display label.
func (s *Session) ParameterViews() []ParameterView {
	states := s.States()
	views := make([]ParameterView, 0, len(states))
	for _, st := range states {
		b, ok := s.Binding(st.ID)
		if !ok {
			continue
		}
		desc := b.Descriptor()
		views = append(views, ParameterView{
			State: st,
			Name:  desc.Name,
			Kind:  desc.Kind.String(),
			Label: desc.Format(st.Value),
		})
	}
	return views
}

// VisualizerView renders the latest frame with the step count of the bound
// steps parameter, or all 16 steps when it is not bound.
func (s *Session) VisualizerView() VisualizerView {
	snap := s.visualizer.Snapshot()
	numSteps := telemetry.Steps
	if b, ok := s.Binding(params.IDSteps); ok {
		numSteps = int(math.Round(b.Read()))
	}
	return VisualizerView{
		Mode:     s.visualizer.Mode().String(),
		Snapshot: snap,
		Steps:    telemetry.StepView(snap, numSteps),
	}
}

func (s *Session) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	s.writeInspectorJSON(w, r, s.ParameterViews())
}

func (s *Session) handleGetVisualizer(w http.ResponseWriter, r *http.Request) {
	s.writeInspectorJSON(w, r, s.VisualizerView())
}

func (s *Session) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeInspectorJSON(w, r, s.metrics.GetSnapshot())
}

func (s *Session) writeInspectorJSON(w http.ResponseWriter, r *http.Request, body any) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.InspectorCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsonpkg.Encode(w, body); err != nil {
		s.Logger.Error("Failed to encode inspector response", err, loggingpkg.LogFields{"path": r.URL.Path})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Session) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.InspectorCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
