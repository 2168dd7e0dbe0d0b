// Package httpapi serves a generated dataset and its feature tables over HTTP, and
// replays a meter's readings over a websocket.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/features"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/labels"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/lifecycle"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/pipeline"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
	"go.uber.org/zap"
)

// Server exposes one simulation run.
type Server struct {
	dataset        *simulation.Dataset
	features       *pipeline.Features
	metrics        *metrics.Metrics
	logger         *zap.Logger
	replayInterval time.Duration
	upgrader       websocket.Upgrader
	predictions    map[models.ModelKind]pipeline.Result
}

// Option configures a Server.
type Option func(*Server)

// WithReplayInterval paces websocket replays; zero sends readings back to back.
func WithReplayInterval(d time.Duration) Option {
	return func(s *Server) { s.replayInterval = d }
}

// WithLogger sets the access and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithPredictions serves the predictions of trained models on /predictions/{model}.
func WithPredictions(results []pipeline.Result) Option {
	return func(s *Server) {
		s.predictions = make(map[models.ModelKind]pipeline.Result, len(results))
		for _, res := range results {
			s.predictions[res.Kind] = res
		}
	}
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer serves ds and its features. f may be nil when features were not built.
func NewServer(ds *simulation.Dataset, f *pipeline.Features, opts ...Option) *Server {
	s := &Server{
		dataset:  ds,
		features: f,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router registers every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/dataset", s.summary).Methods(http.MethodGet)
	r.HandleFunc("/customers", s.customers).Methods(http.MethodGet)
	r.HandleFunc("/transformers", s.transformers).Methods(http.MethodGet)
	r.HandleFunc("/meters/{id:[0-9]+}/readings", s.meterReadings).Methods(http.MethodGet)
	r.HandleFunc("/features/{model}", s.featureTable).Methods(http.MethodGet)
	r.HandleFunc("/predictions/{model}", s.modelPredictions).Methods(http.MethodGet)
	r.HandleFunc("/forecast/series", s.forecastSeries).Methods(http.MethodGet)
	r.HandleFunc("/forecast/peaks", s.forecastPeaks).Methods(http.MethodGet)
	r.HandleFunc("/forecast/daily-profile", s.dailyProfile).Methods(http.MethodGet)
	r.HandleFunc("/ws/meters/{id:[0-9]+}/readings", s.streamReadings)

	return r
}

// Handler wraps the router with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	access := zap.NewStdLog(s.logger.Named("access")).Writer()
	return handlers.RecoveryHandler()(handlers.LoggingHandler(access, s.Router()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run_id": s.dataset.RunID})
}

type datasetSummary struct {
	RunID        string    `json:"run_id"`
	Seed         uint64    `json:"seed"`
	Start        time.Time `json:"start"`
	HorizonDays  int       `json:"horizon_days"`
	Meters       int       `json:"meters"`
	Customers    int       `json:"customers"`
	Transformers int       `json:"transformers"`
	Readings     int       `json:"readings"`
	AnomalyRate  float64   `json:"anomaly_rate"`
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	ds := s.dataset
	writeJSON(w, http.StatusOK, datasetSummary{
		RunID:        ds.RunID,
		Seed:         ds.Seed,
		Start:        ds.Start,
		HorizonDays:  ds.HorizonDays,
		Meters:       len(ds.Meters),
		Customers:    len(ds.Customers),
		Transformers: len(ds.Transformers),
		Readings:     len(ds.Readings),
		AnomalyRate:  ds.AnomalyRate(),
	})
}

func (s *Server) customers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dataset.Customers)
}

func (s *Server) transformers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dataset.Transformers)
}

func (s *Server) readingsFor(w http.ResponseWriter, r *http.Request) ([]models.Reading, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meter id")
		return nil, false
	}
	readings := s.dataset.ReadingsFor(id)
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "unknown meter")
		return nil, false
	}
	return readings, true
}

func (s *Server) meterReadings(w http.ResponseWriter, r *http.Request) {
	if readings, ok := s.readingsFor(w, r); ok {
		writeJSON(w, http.StatusOK, readings)
	}
}

func (s *Server) featureTable(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeError(w, http.StatusServiceUnavailable, "features not built")
		return
	}
	table := s.features.Table(models.ModelKind(mux.Vars(r)["model"]))
	if table == nil {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}
	writeJSON(w, http.StatusOK, table)
}

type predictionsResponse struct {
	Model       models.ModelKind               `json:"model"`
	ModelID     string                         `json:"model_id"`
	Algorithm   string                         `json:"algorithm"`
	LabelSource labels.Source                  `json:"label_source,omitempty"`
	Predictions []lifecycle.LabelledPrediction `json:"predictions"`
}

func (s *Server) modelPredictions(w http.ResponseWriter, r *http.Request) {
	res, ok := s.predictions[models.ModelKind(mux.Vars(r)["model"])]
	if !ok || res.State == nil {
		writeError(w, http.StatusNotFound, "no predictions for model")
		return
	}
	writeJSON(w, http.StatusOK, predictionsResponse{
		Model:       res.Kind,
		ModelID:     res.State.ID,
		Algorithm:   res.State.Algorithm,
		LabelSource: res.LabelSource,
		Predictions: lifecycle.Describe(res.Predictions),
	})
}

func (s *Server) series(w http.ResponseWriter) ([]models.SeriesPoint, bool) {
	if s.features == nil {
		writeError(w, http.StatusServiceUnavailable, "features not built")
		return nil, false
	}
	return s.features.Series, true
}

func (s *Server) forecastSeries(w http.ResponseWriter, _ *http.Request) {
	if points, ok := s.series(w); ok {
		writeJSON(w, http.StatusOK, points)
	}
}

func (s *Server) forecastPeaks(w http.ResponseWriter, r *http.Request) {
	points, ok := s.series(w)
	if !ok {
		return
	}
	q := features.DefaultPeakQuantile
	if raw := r.URL.Query().Get("q"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "q must be in [0, 1]")
			return
		}
		q = v
	}
	writeJSON(w, http.StatusOK, features.PeakHours(points, q))
}

func (s *Server) dailyProfile(w http.ResponseWriter, _ *http.Request) {
	if points, ok := s.series(w); ok {
		profile := features.DailyProfile(points)
		writeJSON(w, http.StatusOK, profile[:])
	}
}

// streamReadings sends a meter's readings one message at a time, then closes normally.
func (s *Server) streamReadings(w http.ResponseWriter, r *http.Request) {
	readings, ok := s.readingsFor(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var tick <-chan time.Time
	if s.replayInterval > 0 {
		ticker := time.NewTicker(s.replayInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for _, reading := range readings {
		if tick != nil {
			select {
			case <-tick:
			case <-r.Context().Done():
				return
			}
		}
		if err := conn.WriteJSON(reading); err != nil {
			s.logger.Debug("WebSocket client gone", zap.Error(err))
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
