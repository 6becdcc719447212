package database

import (
	"database/sql"
)

const runColumns = `id, input, output_dir, granularity, state, started_at, finished_at, error,
	records_scored, records_skipped, entities`

// InsertRun records the start of a run.
func (db *DB) InsertRun(r Run) error {
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, input, output_dir, granularity, state)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Input, r.OutputDir, r.Granularity, r.State,
	)
	return err
}

// UpdateRunState moves a run to a new state.
func (db *DB) UpdateRunState(id, state string) error {
	_, err := db.conn.Exec("UPDATE runs SET state = ? WHERE id = ?", state, id)
	return err
}

// FinishRun stores the final state and counters of a run.
func (db *DB) FinishRun(id, state string, scored, skipped, entities int, errMsg *string) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET state = ?, records_scored = ?, records_skipped = ?, entities = ?,
		error = ?, finished_at = datetime('now') WHERE id = ?`,
		state, scored, skipped, entities, errMsg, id,
	)
	return err
}

// GetRun returns a run by ID, or nil if unknown.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate run statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.TotalRuns},
		{"SELECT COUNT(*) FROM runs WHERE state = 'done'", &s.CompletedRuns},
		{"SELECT COUNT(*) FROM runs WHERE state = 'failed'", &s.FailedRuns},
		{"SELECT COALESCE(SUM(records_scored), 0) FROM runs", &s.RecordsScored},
		{"SELECT COUNT(*) FROM checkpoints WHERE next_offset < total", &s.OpenCheckpoint},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	if err := s.Scan(&r.ID, &r.Input, &r.OutputDir, &r.Granularity, &r.State,
		&r.StartedAt, &r.FinishedAt, &r.Error,
		&r.RecordsScored, &r.RecordsSkipped, &r.Entities); err != nil {
		return nil, err
	}
	return &r, nil
}
