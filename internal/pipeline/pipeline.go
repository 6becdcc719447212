// Package pipeline orchestrates reshaping, scoring, bucketing and chunked
// output for one survey dataset.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/TobiSchelling/surveysentiment/internal/artifact"
	"github.com/TobiSchelling/surveysentiment/internal/bucket"
	"github.com/TobiSchelling/surveysentiment/internal/database"
	"github.com/TobiSchelling/surveysentiment/internal/metrics"
	"github.com/TobiSchelling/surveysentiment/internal/reshape"
	"github.com/TobiSchelling/surveysentiment/internal/sentiment"
	"github.com/TobiSchelling/surveysentiment/internal/source"
)

// IntermediateFile is the long table written by the reshape step.
const IntermediateFile = "pivoted_data.csv"

// DefaultChunkSize is the number of long records scored between commits.
const DefaultChunkSize = 50

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a pipeline run.
type Result struct {
	RunID    string
	State    State
	Steps    []StepResult
	Records  int
	Scored   int
	Skipped  int
	Entities int
	Outputs  []string
}

// Options configures one run.
type Options struct {
	Granularity Granularity
	ChunkSize   int
	// Resume continues each pass from its checkpoint and reuses the
	// intermediate artifact. Without it outputs are truncated.
	Resume    bool
	OutputDir string
	Format    string
	Reshape   reshape.Options
	// Input describes the input reference in run records.
	Input string
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) intermediatePath() string {
	return filepath.Join(o.OutputDir, IntermediateFile)
}

// RecordError reports the record whose scoring aborted a chunk.
type RecordError struct {
	Granularity Granularity
	Chunk       int
	Offset      int
	ID          string
	Question    string
	Err         error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s chunk %d: record %d (id %s, question %q): %v",
		e.Granularity, e.Chunk, e.Offset, e.ID, e.Question, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Pipeline runs the reshape and scoring passes.
type Pipeline struct {
	client  *sentiment.Client
	scheme  *bucket.Scheme
	db      *database.DB
	metrics *metrics.Metrics
}

// New creates a pipeline. db and m may be nil, which disables run records,
// checkpoints and metrics. A nil scheme means the default five buckets.
func New(client *sentiment.Client, scheme *bucket.Scheme, db *database.DB, m *metrics.Metrics) *Pipeline {
	if scheme == nil {
		scheme = bucket.Default()
	}
	return &Pipeline{client: client, scheme: scheme, db: db, metrics: m}
}

// run carries the mutable state of one Run call.
type run struct {
	id     string
	sm     *machine
	result *Result
}

// Run reshapes the input (or reuses the intermediate artifact when resuming)
// and performs each requested scoring pass.
func (p *Pipeline) Run(ctx context.Context, reader source.Reader, opts Options) (*Result, error) {
	if err := artifact.ValidateFormat(opts.Format); err != nil {
		return nil, err
	}
	r := &run{id: uuid.NewString(), result: &Result{}}
	r.result.RunID = r.id
	r.sm = &machine{onEnter: func(s State) {
		r.result.State = s
		p.recordState(r.id, s)
	}}

	if opts.Granularity == None {
		slog.Info("no granularity requested, nothing to do")
		r.sm.to(StateDone)
		r.result.Steps = append(r.result.Steps, StepResult{Name: "Score", Summary: "No granularity requested"})
		return r.result, nil
	}

	if p.db != nil {
		err := p.db.InsertRun(database.Run{
			ID:          r.id,
			Input:       opts.Input,
			OutputDir:   opts.OutputDir,
			Granularity: opts.Granularity.String(),
			State:       StateIdle.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}

	err := p.execute(ctx, r, reader, opts)
	if err != nil {
		r.sm.fail()
	} else if err = r.sm.to(StateDone); err != nil {
		r.sm.fail()
	}
	p.finish(r, err)
	return r.result, err
}

func (p *Pipeline) execute(ctx context.Context, r *run, reader source.Reader, opts Options) error {
	if err := r.sm.to(StateReshaping); err != nil {
		return err
	}
	long, step, err := p.loadOrReshape(ctx, reader, opts)
	r.result.Steps = append(r.result.Steps, step)
	if err != nil {
		return err
	}
	r.result.Records = len(long.Records)
	key := fingerprint(long)

	for _, g := range opts.Granularity.Passes() {
		step, err := p.scorePass(ctx, r, g, long, key, opts)
		r.result.Steps = append(r.result.Steps, step)
		if err != nil {
			return err
		}
	}
	return nil
}

// Reshape melts the input and writes the intermediate artifact.
func (p *Pipeline) Reshape(ctx context.Context, reader source.Reader, opts Options) (*artifact.LongTable, StepResult, error) {
	step := StepResult{Name: "Reshape"}
	if reader == nil {
		step.Err = errors.New("no input configured")
		return nil, step, step.Err
	}

	table, err := reader.Read(ctx)
	if err != nil {
		step.Err = fmt.Errorf("reading input: %w", err)
		return nil, step, step.Err
	}
	records, err := reshape.Melt(table, opts.Reshape)
	if err != nil {
		step.Err = err
		return nil, step, err
	}

	long := &artifact.LongTable{
		IDColumn:   opts.Reshape.IDColumn,
		KeyColumns: opts.Reshape.KeyColumns,
		Records:    records,
	}
	if err := artifact.WriteLong(opts.intermediatePath(), long); err != nil {
		step.Err = fmt.Errorf("writing long table: %w", err)
		return nil, step, step.Err
	}

	slog.Info("reshaped input", "rows", len(table.Rows), "records", len(records), "path", opts.intermediatePath())
	step.Summary = fmt.Sprintf("Reshaped %d rows into %d records", len(table.Rows), len(records))
	return long, step, nil
}

func (p *Pipeline) loadOrReshape(ctx context.Context, reader source.Reader, opts Options) (*artifact.LongTable, StepResult, error) {
	path := opts.intermediatePath()
	if (opts.Resume || reader == nil) && artifact.Exists(path) {
		long, err := artifact.ReadLong(path)
		if err != nil {
			return nil, StepResult{Name: "Reshape", Err: err}, err
		}
		slog.Info("reusing long table", "path", path, "records", len(long.Records))
		return long, StepResult{
			Name:    "Reshape",
			Summary: fmt.Sprintf("Reused %d records from %s", len(long.Records), IntermediateFile),
		}, nil
	}
	return p.Reshape(ctx, reader, opts)
}

// scored is one long record after the scoring phase.
type scored struct {
	offset   int
	record   reshape.LongRecord
	overall  sentiment.Sentiment
	entities []sentiment.Entity
}

func (p *Pipeline) scorePass(ctx context.Context, r *run, g Granularity, long *artifact.LongTable, key string, opts Options) (StepResult, error) {
	step := StepResult{Name: "Score " + g.String()}

	sink, err := artifact.NewSink(filepath.Join(opts.OutputDir, g.outputBase()), opts.Format)
	if err != nil {
		step.Err = err
		return step, err
	}
	header := artifact.ResponseHeader(long)
	if g == Entity {
		header = artifact.EntityHeader(long)
	}
	r.result.Outputs = append(r.result.Outputs, sink.Path())

	total := len(long.Records)
	start, rowsWritten, err := p.startOffset(g, sink, key, total, opts.Resume)
	if err != nil {
		step.Err = err
		return step, err
	}
	if start >= total && start > 0 {
		step.Summary = fmt.Sprintf("Already complete (%d records)", total)
		return step, nil
	}
	if start == 0 {
		if err := sink.Reset(header); err != nil {
			step.Err = fmt.Errorf("starting %s: %w", sink.Path(), err)
			return step, step.Err
		}
		rowsWritten = 0
	}

	size := opts.chunkSize()
	written, skipped := 0, 0
	for offset := start; offset < total; offset += size {
		if err := ctx.Err(); err != nil {
			step.Err = err
			return step, err
		}
		end := min(offset+size, total)
		chunk := offset / size

		if err := r.sm.to(g.scoringState()); err != nil {
			return step, err
		}
		items, n, err := p.scoreChunk(ctx, g, chunk, offset, long.Records[offset:end])
		skipped += n
		if err != nil {
			step.Err = err
			step.Summary = fmt.Sprintf("Wrote %d rows before failing in chunk %d", written, chunk)
			return step, err
		}

		if err := r.sm.to(StateBucketing); err != nil {
			return step, err
		}
		rows, err := p.bucketRows(g, items)
		if err != nil {
			step.Err = err
			return step, err
		}

		if err := r.sm.to(StateWriting); err != nil {
			return step, err
		}
		if err := sink.Append(header, rows); err != nil {
			step.Err = fmt.Errorf("writing chunk %d: %w", chunk, err)
			return step, step.Err
		}
		written += len(rows)
		rowsWritten += len(rows)
		r.result.Scored += len(items)
		for _, it := range items {
			r.result.Entities += len(it.entities)
		}
		p.metrics.ChunkCompleted(g.String())
		if err := p.saveCheckpoint(r.id, g, sink, key, end, total, rowsWritten); err != nil {
			step.Err = err
			return step, err
		}
		slog.Info("chunk written", "granularity", g, "chunk", chunk, "rows", len(rows), "next_offset", end, "total", total)
	}
	if start == 0 && total == 0 {
		if err := p.saveCheckpoint(r.id, g, sink, key, 0, 0, 0); err != nil {
			step.Err = err
			return step, err
		}
	}

	r.result.Skipped += skipped
	step.Summary = fmt.Sprintf("Wrote %d rows to %s (%d records skipped)", written, filepath.Base(sink.Path()), skipped)
	return step, nil
}

// scoreChunk calls the client for each record. Empty responses are skipped;
// a service error aborts the chunk.
func (p *Pipeline) scoreChunk(ctx context.Context, g Granularity, chunk, offset int, records []reshape.LongRecord) ([]scored, int, error) {
	items := make([]scored, 0, len(records))
	skipped := 0
	for i, rec := range records {
		item := scored{offset: offset + i, record: rec}
		var err error
		if g == Entity {
			item.entities, err = p.client.ScoreEntities(ctx, rec.Response)
		} else {
			item.overall, err = p.client.ScoreWholeText(ctx, rec.Response)
		}

		switch {
		case errors.Is(err, sentiment.ErrEmptyInput):
			slog.Warn("skipping empty response", "granularity", g, "id", rec.ID, "question", rec.Question)
			p.metrics.RecordOutcome(g.String(), "skipped")
			skipped++
			continue
		case err != nil:
			p.metrics.RecordOutcome(g.String(), "failed")
			return nil, skipped, &RecordError{
				Granularity: g,
				Chunk:       chunk,
				Offset:      item.offset,
				ID:          rec.ID,
				Question:    rec.Question,
				Err:         err,
			}
		}
		p.metrics.RecordOutcome(g.String(), "scored")
		items = append(items, item)
	}
	return items, skipped, nil
}

func (p *Pipeline) bucketRows(g Granularity, items []scored) ([][]string, error) {
	var rows [][]string
	for _, it := range items {
		base := append([]string{it.record.ID}, it.record.Keys...)
		base = append(base, it.record.Question, it.record.Response)

		if g == Overall {
			label, err := p.scheme.Label(it.overall.Score)
			if err != nil {
				return nil, fmt.Errorf("bucketing record %d: %w", it.offset, err)
			}
			p.metrics.BucketAssigned(g.String(), label)
			rows = append(rows, append(base, formatFloat(it.overall.Score), formatFloat(it.overall.Magnitude), label))
			continue
		}

		for _, e := range it.entities {
			label, err := p.scheme.Label(e.Score)
			if err != nil {
				return nil, fmt.Errorf("bucketing entity %q of record %d: %w", e.Name, it.offset, err)
			}
			p.metrics.BucketAssigned(g.String(), label)
			row := append(append([]string(nil), base...),
				e.Name, e.Type, formatFloat(e.Salience), formatFloat(e.Score), formatFloat(e.Magnitude), label)
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// startOffset returns where a pass begins and how many rows the output holds
// at that point. A checkpoint is honoured only when resuming, for the same
// long table and with the output still present. Rows appended after the
// checkpoint was saved are cut off so the resumed chunk is not written twice.
func (p *Pipeline) startOffset(g Granularity, sink artifact.Sink, key string, total int, resume bool) (int, int, error) {
	if p.db == nil {
		return 0, 0, nil
	}
	if !resume {
		if err := p.db.ClearCheckpoint(g.String(), sink.Path()); err != nil {
			return 0, 0, fmt.Errorf("clearing checkpoint: %w", err)
		}
		return 0, 0, nil
	}

	cp, err := p.db.GetCheckpoint(g.String(), sink.Path())
	if err != nil {
		return 0, 0, fmt.Errorf("reading checkpoint: %w", err)
	}
	switch {
	case cp == nil:
		return 0, 0, nil
	case cp.ArtifactKey != key || cp.Total != total:
		slog.Warn("checkpoint belongs to a different long table, starting over", "granularity", g, "output", sink.Path())
		return 0, 0, nil
	case !artifact.Exists(sink.Path()):
		slog.Warn("output missing, starting over", "granularity", g, "output", sink.Path())
		return 0, 0, nil
	}

	committed := cp.RowsWritten
	if committed >= 0 {
		dropped, err := artifact.TruncateRows(sink, committed)
		if err != nil {
			slog.Warn("output does not match checkpoint, starting over", "granularity", g, "output", sink.Path(), "error", err)
			return 0, 0, nil
		}
		if dropped > 0 {
			slog.Warn("discarded rows written after the last checkpoint", "granularity", g, "rows", dropped)
		}
	} else {
		// Checkpoints from older state databases carry no row count.
		_, rows, err := artifact.ReadTable(sink.Path())
		if err != nil {
			slog.Warn("unreadable output, starting over", "granularity", g, "output", sink.Path(), "error", err)
			return 0, 0, nil
		}
		committed = len(rows)
	}

	if cp.Done() && total > 0 {
		slog.Info("pass already complete", "granularity", g, "records", total)
		return total, committed, nil
	}
	slog.Info("resuming", "granularity", g, "next_offset", cp.NextOffset, "total", total)
	return cp.NextOffset, committed, nil
}

func (p *Pipeline) saveCheckpoint(runID string, g Granularity, sink artifact.Sink, key string, next, total, rows int) error {
	if p.db == nil {
		return nil
	}
	err := p.db.SaveCheckpoint(database.Checkpoint{
		Granularity: g.String(),
		OutputPath:  sink.Path(),
		ArtifactKey: key,
		NextOffset:  next,
		Total:       total,
		RowsWritten: rows,
		RunID:       &runID,
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (p *Pipeline) recordState(runID string, s State) {
	if p.db == nil {
		return
	}
	if err := p.db.UpdateRunState(runID, s.String()); err != nil {
		slog.Warn("failed to record run state", "run", runID, "state", s, "error", err)
	}
}

func (p *Pipeline) finish(r *run, runErr error) {
	if p.db == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	res := r.result
	if err := p.db.FinishRun(r.id, res.State.String(), res.Scored, res.Skipped, res.Entities, msg); err != nil {
		slog.Warn("failed to record run result", "run", r.id, "error", err)
	}
}

// fingerprint identifies a long table so checkpoints are not applied to a
// different dataset.
func fingerprint(long *artifact.LongTable) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	for _, c := range long.Header() {
		write(c)
	}
	for _, rec := range long.Records {
		write(rec.ID)
		for _, k := range rec.Keys {
			write(k)
		}
		write(rec.Question)
		write(rec.Response)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
