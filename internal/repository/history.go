package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

// RunRecord is one persisted resolution run.
type RunRecord struct {
	RunID    string    `json:"runId"`
	MatchID  string    `json:"matchId"`
	Seed     int64     `json:"seed"`
	Drained  int       `json:"drained"`
	Executed int       `json:"executed"`
	Skipped  int       `json:"skipped"`
	Order    []string  `json:"order"`
	Started  time.Time `json:"started"`
	Duration int64     `json:"durationMs"`
}

// HistoryRepository stores resolution run summaries.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a repository backed by the given database.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// SaveRun records the summary of a completed resolution run.
func (r *HistoryRepository) SaveRun(ctx context.Context, matchID string, report resolve.RunReport) error {
	order := make([]string, 0, len(report.Order))
	for _, s := range report.Order {
		order = append(order, s.ActionID)
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO resolution_runs
			(run_id, match_id, seed, drained, executed, skipped, run_order, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, matchID, report.Seed,
		report.Drained, report.Executed, report.Skipped,
		order, report.Started, report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", report.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs for a match, newest first.
func (r *HistoryRepository) RecentRuns(ctx context.Context, matchID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT run_id, match_id, seed, drained, executed, skipped, run_order, started_at, duration_ms
		FROM resolution_runs
		WHERE match_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		matchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs for match %s: %w", matchID, err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.RunID, &rec.MatchID, &rec.Seed,
			&rec.Drained, &rec.Executed, &rec.Skipped,
			&rec.Order, &rec.Started, &rec.Duration,
		); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading run records: %w", err)
	}

	return records, nil
}

// RunCount returns the number of stored runs for a match.
func (r *HistoryRepository) RunCount(ctx context.Context, matchID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM resolution_runs WHERE match_id = $1`, matchID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting runs for match %s: %w", matchID, err)
	}
	return count, nil
}
