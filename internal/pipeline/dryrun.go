package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/TobiSchelling/surveysentiment/internal/artifact"
	"github.com/TobiSchelling/surveysentiment/internal/reshape"
	"github.com/TobiSchelling/surveysentiment/internal/source"
)

// DryRun shows what a run would do without calling the sentiment service or
// writing any artifact.
func (p *Pipeline) DryRun(ctx context.Context, reader source.Reader, opts Options) (*Result, error) {
	if err := artifact.ValidateFormat(opts.Format); err != nil {
		return nil, err
	}
	r := &Result{State: StateIdle}

	if opts.Granularity == None {
		r.Steps = append(r.Steps, StepResult{Name: "Score", Summary: "[dry-run] No granularity requested"})
		return r, nil
	}

	var long *artifact.LongTable
	path := opts.intermediatePath()
	if (opts.Resume || reader == nil) && artifact.Exists(path) {
		var err error
		if long, err = artifact.ReadLong(path); err != nil {
			return nil, err
		}
		r.Steps = append(r.Steps, StepResult{
			Name:    "Reshape",
			Summary: fmt.Sprintf("[dry-run] Would reuse %d records from %s", len(long.Records), IntermediateFile),
		})
	} else {
		if reader == nil {
			return nil, fmt.Errorf("no input configured and no %s in %s", IntermediateFile, opts.OutputDir)
		}
		table, err := reader.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		records, err := reshape.Melt(table, opts.Reshape)
		if err != nil {
			return nil, err
		}
		long = &artifact.LongTable{IDColumn: opts.Reshape.IDColumn, KeyColumns: opts.Reshape.KeyColumns, Records: records}
		r.Steps = append(r.Steps, StepResult{
			Name:    "Reshape",
			Summary: fmt.Sprintf("[dry-run] Would reshape %d rows into %d records", len(table.Rows), len(records)),
		})
	}
	r.Records = len(long.Records)

	key := fingerprint(long)
	size := opts.chunkSize()
	for _, g := range opts.Granularity.Passes() {
		sink, err := artifact.NewSink(filepath.Join(opts.OutputDir, g.outputBase()), opts.Format)
		if err != nil {
			return nil, err
		}
		start := 0
		if opts.Resume && p.db != nil {
			cp, err := p.db.GetCheckpoint(g.String(), sink.Path())
			if err != nil {
				return nil, fmt.Errorf("reading checkpoint: %w", err)
			}
			if cp != nil && cp.ArtifactKey == key && cp.Total == r.Records && artifact.Exists(sink.Path()) {
				start = cp.NextOffset
			}
		}
		pending := r.Records - start
		chunks := (pending + size - 1) / size
		r.Steps = append(r.Steps, StepResult{
			Name:    "Score " + g.String(),
			Summary: fmt.Sprintf("[dry-run] %d records pending from offset %d in %d chunks -> %s", pending, start, chunks, sink.Path()),
		})
		r.Outputs = append(r.Outputs, sink.Path())
	}
	return r, nil
}
