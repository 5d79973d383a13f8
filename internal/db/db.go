// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package db is the optional aggregate stats store. It records daily
// counters only, never domains, snapshots, or any per-request data.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS daily_stats (
	day        date NOT NULL,
	platform   text NOT NULL DEFAULT '',
	diagnoses  bigint NOT NULL DEFAULT 0,
	completed  bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (day, platform)
)`

func Connect(databaseURL string) (*Database, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 2 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure stats schema: %w", err)
	}

	slog.Info("Database connected successfully")
	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
		slog.Info("Database connection closed")
	}
}

func (d *Database) HealthCheck(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// RecordDiagnosis bumps the daily counters for a platform. Failures are
// logged, not surfaced; stats must never affect a diagnosis response.
func (d *Database) RecordDiagnosis(ctx context.Context, platform string, completed bool) {
	completedInc := 0
	if completed {
		completedInc = 1
	}
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO daily_stats (day, platform, diagnoses, completed)
		VALUES (CURRENT_DATE, $1, 1, $2)
		ON CONFLICT (day, platform)
		DO UPDATE SET diagnoses = daily_stats.diagnoses + 1,
		              completed = daily_stats.completed + $2`,
		platform, completedInc)
	if err != nil {
		slog.Warn("Failed to record diagnosis stats", "error", err)
	}
}

// DailyStat is one aggregate row.
type DailyStat struct {
	Day       time.Time `json:"day"`
	Platform  string    `json:"platform"`
	Diagnoses int64     `json:"diagnoses"`
	Completed int64     `json:"completed"`
}

// GetStats returns the last n days of counters, newest first.
func (d *Database) GetStats(ctx context.Context, days int) ([]DailyStat, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT day, platform, diagnoses, completed
		FROM daily_stats
		WHERE day >= CURRENT_DATE - $1::int
		ORDER BY day DESC, platform`, days)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.Day, &s.Platform, &s.Diagnoses, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
