package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/labels"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/lifecycle"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/pipeline"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
)

func newTestServer(t *testing.T, withFeatures bool) *httptest.Server {
	t.Helper()
	cfg := config.DefaultSimulation()
	cfg.Meters = 3
	cfg.Customers = 5
	cfg.Transformers = 2
	cfg.HorizonDays = 1
	cfg.Start = time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)
	m := metrics.New()
	g, err := simulation.NewGenerator(cfg, simulation.WithMetrics(m))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ds, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var f *pipeline.Features
	if withFeatures {
		f, err = pipeline.BuildFeatures(context.Background(), ds, pipeline.Options{Metrics: m})
		if err != nil {
			t.Fatalf("BuildFeatures: %v", err)
		}
	}
	srv := httptest.NewServer(NewServer(ds, f, WithMetrics(m)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestDatasetEndpoints(t *testing.T) {
	srv := newTestServer(t, true)

	var health map[string]string
	if code := get(t, srv.URL+"/health", &health); code != http.StatusOK || health["status"] != "ok" || health["run_id"] == "" {
		t.Fatalf("/health = %d %v", code, health)
	}

	var summary datasetSummary
	if code := get(t, srv.URL+"/dataset", &summary); code != http.StatusOK {
		t.Fatalf("/dataset = %d", code)
	}
	if summary.Meters != 3 || summary.Readings != 144 || summary.Customers != 5 {
		t.Fatalf("summary = %+v", summary)
	}

	var readings []models.Reading
	if code := get(t, srv.URL+"/meters/2/readings", &readings); code != http.StatusOK || len(readings) != 48 {
		t.Fatalf("/meters/2/readings = %d, %d readings", code, len(readings))
	}
	if readings[0].MeterID != 2 {
		t.Fatalf("readings of meter %d", readings[0].MeterID)
	}
	if code := get(t, srv.URL+"/meters/9/readings", nil); code != http.StatusNotFound {
		t.Fatalf("unknown meter = %d, want 404", code)
	}

	var transformers []models.Transformer
	if code := get(t, srv.URL+"/transformers", &transformers); code != http.StatusOK || len(transformers) != 2 {
		t.Fatalf("/transformers = %d %v", code, transformers)
	}
}

func TestFeatureEndpoints(t *testing.T) {
	srv := newTestServer(t, true)

	var table models.FeatureTable
	if code := get(t, srv.URL+"/features/segmentation", &table); code != http.StatusOK {
		t.Fatalf("/features/segmentation = %d", code)
	}
	if table.Len() != 3 || len(table.Columns) != 32 {
		t.Fatalf("segmentation table %d x %d", table.Len(), len(table.Columns))
	}
	if code := get(t, srv.URL+"/features/weather", nil); code != http.StatusNotFound {
		t.Fatalf("unknown model = %d, want 404", code)
	}

	var series []models.SeriesPoint
	if code := get(t, srv.URL+"/forecast/series", &series); code != http.StatusOK || len(series) != 24 {
		t.Fatalf("/forecast/series = %d, %d points", code, len(series))
	}
	var profile []float64
	if code := get(t, srv.URL+"/forecast/daily-profile", &profile); code != http.StatusOK || len(profile) != 24 {
		t.Fatalf("/forecast/daily-profile = %d %v", code, profile)
	}
	var peaks []models.SeriesPoint
	if code := get(t, srv.URL+"/forecast/peaks?q=0.5", &peaks); code != http.StatusOK || len(peaks) < 12 {
		t.Fatalf("/forecast/peaks = %d, %d points", code, len(peaks))
	}
	if code := get(t, srv.URL+"/forecast/peaks?q=2", nil); code != http.StatusBadRequest {
		t.Fatalf("bad quantile = %d, want 400", code)
	}
}

func TestFeaturesUnavailable(t *testing.T) {
	srv := newTestServer(t, false)
	if code := get(t, srv.URL+"/features/anomaly", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"simulator_readings_generated_total 144", "features_rows_total"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("/metrics missing %q", want)
		}
	}
}

func TestStreamReadings(t *testing.T) {
	srv := newTestServer(t, false)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/meters/1/readings"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := 0
	for {
		var r models.Reading
		err := conn.ReadJSON(&r)
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
				t.Fatalf("ReadJSON: %v", err)
			}
			break
		}
		if r.MeterID != 1 {
			t.Fatalf("streamed reading of meter %d", r.MeterID)
		}
		got++
	}
	if got != 48 {
		t.Fatalf("streamed %d readings, want 48", got)
	}
}

func TestPredictionsEndpoint(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultSimulation()
	cfg.Meters = 4
	cfg.Customers = 2
	cfg.Transformers = 3
	cfg.HorizonDays = 1
	cfg.Start = time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)
	g, err := simulation.NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ds, err := g.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f, err := pipeline.BuildFeatures(ctx, ds, pipeline.Options{})
	if err != nil {
		t.Fatalf("BuildFeatures: %v", err)
	}
	results, err := pipeline.Train(ctx, f, ds.Transformers, pipeline.TrainOptions{
		ModelDir:        t.TempDir(),
		SyntheticLabels: true,
		LabelSeed:       9,
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	// A nil logger must not break the access log wrapper.
	srv := httptest.NewServer(NewServer(ds, f, WithLogger(nil), WithPredictions(results)).Handler())
	defer srv.Close()

	var failure predictionsResponse
	if code := get(t, srv.URL+"/predictions/failure", &failure); code != http.StatusOK {
		t.Fatalf("/predictions/failure = %d", code)
	}
	if len(failure.Predictions) != 3 || failure.LabelSource != labels.SourceSynthetic || failure.ModelID == "" {
		t.Fatalf("failure predictions = %+v", failure)
	}
	levels := map[string]bool{lifecycle.RiskCritical: true, lifecycle.RiskHigh: true, lifecycle.RiskMedium: true, lifecycle.RiskLow: true}
	for _, p := range failure.Predictions {
		if !levels[p.Label] {
			t.Fatalf("unit %d has risk level %q", p.Key.EntityID, p.Label)
		}
	}

	var segments predictionsResponse
	if code := get(t, srv.URL+"/predictions/segmentation", &segments); code != http.StatusOK {
		t.Fatalf("/predictions/segmentation = %d", code)
	}
	if len(segments.Predictions) != 4 {
		t.Fatalf("%d segment predictions, want 4", len(segments.Predictions))
	}
	for _, p := range segments.Predictions {
		if p.Label != lifecycle.SegmentName(int(p.Values[lifecycle.ColumnCluster])) {
			t.Fatalf("meter %d labelled %q", p.Key.EntityID, p.Label)
		}
	}

	if code := get(t, srv.URL+"/predictions/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("/predictions/unknown = %d, want 404", code)
	}
}
