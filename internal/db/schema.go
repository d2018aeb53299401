package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		total_distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		elapsed_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_pace_sec_per_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_cadence_spm DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_cadence_spm DOUBLE PRECISION NOT NULL DEFAULT 0,
		fastest_pace_sec_per_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		fastest_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
		fastest_lng DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_steps INTEGER NOT NULL DEFAULT 0,
		failure TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS run_points (
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		pace_sec_per_km DOUBLE PRECISION NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,
}

// Migrate creates the run tables when they are missing.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
