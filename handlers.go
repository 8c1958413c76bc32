package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kwv/meshfit/logging"
	"github.com/kwv/meshfit/mesh"
)

// maxRequestBody caps POST /fit payloads
const maxRequestBody = 8 << 20

// server holds what the HTTP handlers need
type server struct {
	solver   *mesh.Solver
	store    *mesh.ResultStore
	service  *mesh.FitService
	registry *prometheus.Registry
	logger   zerolog.Logger
}

// newRouter creates the HTTP router with all endpoints
func newRouter(a *App) http.Handler {
	s := &server{
		solver:   a.Solver,
		store:    a.Store,
		service:  a.Service,
		registry: a.Registry,
		logger:   a.Logger,
	}

	r := mux.NewRouter()
	r.Use(logging.Middleware(a.Logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/fit", s.handleFit).Methods(http.MethodPost)
	r.HandleFunc("/results", s.handleListResults).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}/geojson", s.handleGeoJSON).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}/plot.svg", s.handlePlotSVG).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}/plot.png", s.handlePlotPNG).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}/histogram.png", s.handleHistogram).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}/project", s.handleProject).Methods(http.MethodGet)

	if a.Registry != nil {
		r.Path("/metrics").Handler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encoding JSON response")
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status        string    `json:"status"`
		Timestamp     time.Time `json:"timestamp"`
		Results       int       `json:"results"`
		MQTTConnected bool      `json:"mqttConnected"`
	}{
		Status:        "ok",
		Timestamp:     time.Now(),
		Results:       s.store.Len(),
		MQTTConnected: s.service != nil && s.service.IsConnected(),
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleFit runs a fit on the posted correspondences and stores the outcome.
// A failed fit is still a 200 with ok=false; malformed input is a 400.
func (s *server) handleFit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	set, err := mesh.ParseCorrespondences(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := s.solver.Solve(*set)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := s.store.Put(outcome)
	outcome.RequestID = id

	w.Header().Set("Location", "/results/"+id)
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		IDs []string `json:"ids"`
	}{IDs: s.store.IDs()})
}

// lookup fetches the outcome named by the {id} route variable, writing a 404
// when it is unknown.
func (s *server) lookup(w http.ResponseWriter, r *http.Request) (mesh.FitOutcome, bool) {
	id := mux.Vars(r)["id"]
	o, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "No result for "+id, http.StatusNotFound)
	}
	return o, ok
}

func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if o, ok := s.lookup(w, r); ok {
		s.writeJSON(w, http.StatusOK, o)
	}
}

func (s *server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data, err := mesh.OutcomeToFeatureCollection(o).MarshalJSON()
	if err != nil {
		http.Error(w, "Error encoding GeoJSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("writing GeoJSON")
	}
}

// render writes an image produced by fn, answering 503 when the outcome has
// nothing to draw.
func (s *server) render(w http.ResponseWriter, r *http.Request, contentType string, fn func(mesh.FitOutcome, io.Writer) error) {
	o, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if len(o.Pairs) == 0 {
		http.Error(w, "No correspondences to draw", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := fn(o, w); err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("rendering image")
	}
}

func (s *server) handlePlotSVG(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "image/svg+xml", func(o mesh.FitOutcome, w io.Writer) error {
		return mesh.NewPlotRenderer(o).RenderToSVG(w)
	})
}

func (s *server) handlePlotPNG(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "image/png", func(o mesh.FitOutcome, w io.Writer) error {
		return mesh.NewPlotRenderer(o).RenderToPNG(w)
	})
}

func (s *server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "image/png", mesh.RenderResidualHistogram)
}

// handleProject maps ?x=&y= through the fitted transform, or through its
// inverse when inverse=true.
func (s *server) handleProject(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !o.OK {
		http.Error(w, "Fit failed: "+o.Reason, http.StatusConflict)
		return
	}

	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "x and y query parameters must be numbers", http.StatusBadRequest)
		return
	}

	m := o.Transform
	if q.Get("inverse") == "true" {
		inv, ok := mesh.InvertMatrix(m)
		if !ok {
			http.Error(w, "Transform is not invertible", http.StatusConflict)
			return
		}
		m = inv
	}
	s.writeJSON(w, http.StatusOK, mesh.TransformPoint(mesh.Point{X: x, Y: y}, m))
}
