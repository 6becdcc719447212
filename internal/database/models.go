package database

// Run is one invocation of the scoring pipeline.
type Run struct {
	ID             string
	Input          string
	OutputDir      string
	Granularity    string
	State          string
	StartedAt      *string
	FinishedAt     *string
	Error          *string
	RecordsScored  int
	RecordsSkipped int
	Entities       int
}

// Checkpoint marks how far one output table has progressed through the
// long table identified by ArtifactKey.
type Checkpoint struct {
	Granularity string
	OutputPath  string
	ArtifactKey string
	NextOffset  int
	Total       int
	// RowsWritten is the number of data rows in the output when the
	// checkpoint was saved, or -1 if unknown.
	RowsWritten int
	RunID       *string
	UpdatedAt   *string
}

// Done reports whether every record has been written.
func (c *Checkpoint) Done() bool {
	return c.NextOffset >= c.Total
}

// Stats contains aggregate run statistics.
type Stats struct {
	TotalRuns      int
	CompletedRuns  int
	FailedRuns     int
	RecordsScored  int
	OpenCheckpoint int
}
