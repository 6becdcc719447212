package database

import (
	"database/sql"
)

// SaveCheckpoint inserts or replaces the checkpoint of one output table.
func (db *DB) SaveCheckpoint(c Checkpoint) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO checkpoints
		(granularity, output_path, artifact_key, next_offset, total, rows_written, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		c.Granularity, c.OutputPath, c.ArtifactKey, c.NextOffset, c.Total, c.RowsWritten, c.RunID,
	)
	return err
}

// GetCheckpoint returns the checkpoint of an output table, or nil if none.
func (db *DB) GetCheckpoint(granularity, outputPath string) (*Checkpoint, error) {
	row := db.conn.QueryRow(
		`SELECT granularity, output_path, artifact_key, next_offset, total, rows_written, run_id, updated_at
		FROM checkpoints WHERE granularity = ? AND output_path = ?`, granularity, outputPath,
	)

	var c Checkpoint
	if err := row.Scan(&c.Granularity, &c.OutputPath, &c.ArtifactKey,
		&c.NextOffset, &c.Total, &c.RowsWritten, &c.RunID, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListCheckpoints returns all checkpoints ordered by output path.
func (db *DB) ListCheckpoints() ([]Checkpoint, error) {
	rows, err := db.conn.Query(
		`SELECT granularity, output_path, artifact_key, next_offset, total, rows_written, run_id, updated_at
		FROM checkpoints ORDER BY output_path`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Granularity, &c.OutputPath, &c.ArtifactKey,
			&c.NextOffset, &c.Total, &c.RowsWritten, &c.RunID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearCheckpoint forgets the progress of an output table.
func (db *DB) ClearCheckpoint(granularity, outputPath string) error {
	_, err := db.conn.Exec(
		"DELETE FROM checkpoints WHERE granularity = ? AND output_path = ?", granularity, outputPath,
	)
	return err
}
