package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"go.uber.org/zap"
)

func TestRunReturnsConfigErrors(t *testing.T) {
	cfg := &config.Config{Simulation: config.DefaultSimulation()}
	cfg.Simulation.Meters = 0
	err := run(context.Background(), cfg, zap.NewNop())
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestRunTrainsAndRecordsArtifacts(t *testing.T) {
	dir := t.TempDir()
	sim := config.DefaultSimulation()
	sim.Meters = 4
	sim.Customers = 3
	sim.Transformers = 2
	sim.HorizonDays = 1
	sim.Start = time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)
	cfg := &config.Config{
		Simulation: sim,
		Store:      config.StoreConfig{Path: filepath.Join(dir, "catalog.db")},
		ModelDir:   filepath.Join(dir, "models"),
	}
	if err := run(context.Background(), cfg, zap.NewNop()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"anomaly.json", "segmentation.json", "failure.json", "forecast.json"} {
		if _, err := os.Stat(filepath.Join(cfg.ModelDir, name)); err != nil {
			t.Fatalf("%s not saved: %v", name, err)
		}
	}
}
