// Package store keeps the catalog of a simulation run in SQLite: the customer and
// transformer tables and the model artifacts trained from them. Readings are not stored
// here; they go to the time-series sinks.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Artifact records one saved model state.
type Artifact struct {
	ID        string
	RunID     string
	Model     models.ModelKind
	Algorithm string
	Path      string
	Rows      int
	TrainedAt time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// replaceAll empties table, then runs one prepared statement per item, inside a single
// transaction.
func replaceAll[T any](ctx context.Context, db *sql.DB, table, query string, items []T, args func(T) []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, args(item)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveCustomers replaces the customer catalog with customers.
func (s *Store) SaveCustomers(ctx context.Context, customers []models.Customer) error {
	err := replaceAll(ctx, s.db, "customers", `
		INSERT INTO customers
			(id, customer_hash, segment_id, tariff_type, solar_installed, ev_charging, demand_response_opted_in)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customers, func(c models.Customer) []any {
			return []any{c.ID, c.CustomerHash, string(c.Segment), string(c.Tariff), c.SolarInstalled, c.EVCharging, c.DemandResponseOptedIn}
		})
	if err != nil {
		return fmt.Errorf("save customers: %w", err)
	}
	return nil
}

// SaveTransformers replaces the transformer catalog with transformers.
func (s *Store) SaveTransformers(ctx context.Context, transformers []models.Transformer) error {
	err := replaceAll(ctx, s.db, "transformers", `
		INSERT INTO transformers
			(id, transformer_number, capacity_kva, age_years, status, failure_risk)
		VALUES (?, ?, ?, ?, ?, ?)`,
		transformers, func(t models.Transformer) []any {
			return []any{t.ID, t.Number, t.CapacityKVA, t.AgeYears, t.Status, t.FailureRisk}
		})
	if err != nil {
		return fmt.Errorf("save transformers: %w", err)
	}
	return nil
}

// Customers returns every customer ordered by id.
func (s *Store) Customers(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_hash, segment_id, tariff_type, solar_installed, ev_charging, demand_response_opted_in
		FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		var c models.Customer
		var segment, tariff string
		if err := rows.Scan(&c.ID, &c.CustomerHash, &segment, &tariff, &c.SolarInstalled, &c.EVCharging, &c.DemandResponseOptedIn); err != nil {
			return nil, err
		}
		c.Segment = models.Segment(segment)
		c.Tariff = models.Tariff(tariff)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Transformers returns every transformer ordered by id.
func (s *Store) Transformers(ctx context.Context) ([]models.Transformer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transformer_number, capacity_kva, age_years, status, failure_risk
		FROM transformers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query transformers: %w", err)
	}
	defer rows.Close()

	var out []models.Transformer
	for rows.Next() {
		var t models.Transformer
		if err := rows.Scan(&t.ID, &t.Number, &t.CapacityKVA, &t.AgeYears, &t.Status, &t.FailureRisk); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordArtifact stores one artifact row.
func (s *Store) RecordArtifact(ctx context.Context, a Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_artifacts (id, run_id, model, algorithm, path, row_count, trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, string(a.Model), a.Algorithm, a.Path, a.Rows, a.TrainedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record %s artifact: %w", a.Model, err)
	}
	return nil
}

// Artifacts returns the artifacts of one model, newest first.
func (s *Store) Artifacts(ctx context.Context, model models.ModelKind) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, model, algorithm, path, row_count, trained_at
		FROM model_artifacts WHERE model = ? ORDER BY trained_at DESC`, string(model))
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var kind string
		var trainedAt int64
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.Algorithm, &a.Path, &a.Rows, &trainedAt); err != nil {
			return nil, err
		}
		a.Model = models.ModelKind(kind)
		a.TrainedAt = time.Unix(0, trainedAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
