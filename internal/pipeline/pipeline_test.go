package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/surveysentiment/internal/artifact"
	"github.com/TobiSchelling/surveysentiment/internal/bucket"
	"github.com/TobiSchelling/surveysentiment/internal/database"
	"github.com/TobiSchelling/surveysentiment/internal/reshape"
	"github.com/TobiSchelling/surveysentiment/internal/sentiment"
)

const (
	u1Q1 = "My favourite food is ice cream!"
	u2Q1 = "I love ice cream, but I hate cauliflower!"
)

// mockAnalyzer returns canned results keyed by text and fails on failOn.
type mockAnalyzer struct {
	sentiments map[string]sentiment.Sentiment
	entities   map[string][]sentiment.Entity
	failOn     string
	calls      int
}

func (m *mockAnalyzer) AnalyzeSentiment(_ context.Context, text string) (sentiment.Sentiment, error) {
	m.calls++
	if text == m.failOn {
		return sentiment.Sentiment{}, errors.New("quota exceeded")
	}
	return m.sentiments[text], nil
}

func (m *mockAnalyzer) AnalyzeEntitySentiment(_ context.Context, text string) ([]sentiment.Entity, error) {
	m.calls++
	if text == m.failOn {
		return nil, errors.New("quota exceeded")
	}
	return m.entities[text], nil
}

// tableReader serves a fixed wide table.
type tableReader struct {
	table *reshape.WideTable
	err   error
	reads int
}

func (r *tableReader) Read(_ context.Context) (*reshape.WideTable, error) {
	r.reads++
	return r.table, r.err
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func surveyTable() *reshape.WideTable {
	return &reshape.WideTable{
		Columns: []string{"uID", "Q1", "Q2"},
		Rows: [][]string{
			{"u1", u1Q1, ""},
			{"u2", u2Q1, ""},
		},
	}
}

func surveyAnalyzer() *mockAnalyzer {
	return &mockAnalyzer{
		sentiments: map[string]sentiment.Sentiment{
			u1Q1: {Score: 0.9, Magnitude: 0.9},
			u2Q1: {Score: 0.1, Magnitude: 1.2},
		},
		entities: map[string][]sentiment.Entity{
			u1Q1: {{Name: "ice cream", Type: "CONSUMER_GOOD", Salience: 1, Score: 0.9, Magnitude: 0.9}},
			u2Q1: {
				{Name: "ice cream", Type: "CONSUMER_GOOD", Salience: 0.93, Score: 0.3, Magnitude: 0.6},
				{Name: "cauliflower", Type: "", Salience: 0.07, Score: -0.2, Magnitude: 0.2},
			},
		},
	}
}

func baseOptions(t *testing.T, g Granularity) Options {
	return Options{
		Granularity: g,
		OutputDir:   t.TempDir(),
		Reshape: reshape.Options{
			IDColumn:  "uID",
			Questions: reshape.Selector{All: true},
		},
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	_, rows, err := artifact.ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable(%s): %v", path, err)
	}
	return rows
}

func TestRunEndToEnd(t *testing.T) {
	db := openTestDB(t)
	analyzer := surveyAnalyzer()
	p := New(sentiment.NewClient(analyzer, nil), bucket.Default(), db, nil)
	opts := baseOptions(t, Both)

	result, err := p.Run(context.Background(), &tableReader{table: surveyTable()}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if result.Records != 2 {
		t.Errorf("expected 2 long records (u1/Q2 skipped), got %d", result.Records)
	}
	if result.Entities != 3 {
		t.Errorf("expected 3 entities, got %d", result.Entities)
	}

	long, err := artifact.ReadLong(filepath.Join(opts.OutputDir, IntermediateFile))
	if err != nil {
		t.Fatalf("ReadLong: %v", err)
	}
	if len(long.Records) != 2 {
		t.Errorf("expected 2 records in intermediate artifact, got %d", len(long.Records))
	}

	responses := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))
	if len(responses) != 2 {
		t.Fatalf("expected 2 response rows, got %d", len(responses))
	}
	if responses[0][0] != "u1" || responses[0][5] != "Very Positive" {
		t.Errorf("unexpected u1 row %q", responses[0])
	}
	if responses[1][5] != "Neutral" {
		t.Errorf("expected Neutral for u2, got %q", responses[1][5])
	}

	entities := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_entity.csv"))
	if len(entities) != 3 {
		t.Fatalf("expected 3 entity rows, got %d", len(entities))
	}
	var u2 [][]string
	for _, row := range entities {
		if row[0] == "u2" {
			u2 = append(u2, row)
		}
	}
	if len(u2) != 2 {
		t.Fatalf("expected 2 entity rows for u2, got %d", len(u2))
	}
	if u2[0][3] != "ice cream" || u2[0][8] != "Positive" {
		t.Errorf("unexpected ice cream row %q", u2[0])
	}
	if u2[1][3] != "cauliflower" || u2[1][4] != sentiment.EntityOther || u2[1][8] != "Negative" {
		t.Errorf("unexpected cauliflower row %q", u2[1])
	}

	run, _ := db.GetRun(result.RunID)
	if run == nil || run.State != "done" || run.RecordsScored != 4 {
		t.Errorf("unexpected run record %+v", run)
	}
}

func TestRunServiceErrorKeepsPriorChunks(t *testing.T) {
	db := openTestDB(t)
	table := &reshape.WideTable{
		Columns: []string{"uID", "Q1"},
		Rows:    [][]string{{"a", "one"}, {"b", "two"}, {"c", "three"}, {"d", "four"}, {"e", "five"}},
	}
	analyzer := &mockAnalyzer{
		sentiments: map[string]sentiment.Sentiment{
			"one": {Score: 0.7}, "two": {Score: 0.3}, "three": {Score: 0}, "four": {Score: -0.5},
		},
		failOn: "four",
	}
	p := New(sentiment.NewClient(analyzer, nil), nil, db, nil)
	opts := baseOptions(t, Overall)
	opts.ChunkSize = 2

	result, err := p.Run(context.Background(), &tableReader{table: table}, opts)
	var recErr *RecordError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected RecordError, got %v", err)
	}
	if recErr.Chunk != 1 || recErr.Offset != 3 || recErr.ID != "d" || recErr.Question != "Q1" {
		t.Errorf("unexpected record error %+v", recErr)
	}
	if !sentiment.IsServiceError(err) {
		t.Error("expected wrapped ServiceError")
	}
	if result.State != StateFailed {
		t.Errorf("expected failed state, got %s", result.State)
	}

	rows := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))
	if len(rows) != 2 {
		t.Fatalf("expected only the first chunk's 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row[0] == "c" || row[0] == "d" {
			t.Errorf("row from failing chunk written: %q", row)
		}
	}

	cp, _ := db.GetCheckpoint("overall", filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))
	if cp == nil || cp.NextOffset != 2 || cp.Total != 5 {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
	run, _ := db.GetRun(result.RunID)
	if run == nil || run.State != "failed" || run.Error == nil {
		t.Errorf("expected failed run with error, got %+v", run)
	}
}

func TestRunResumeContinuesAfterLastChunk(t *testing.T) {
	db := openTestDB(t)
	table := &reshape.WideTable{
		Columns: []string{"uID", "Q1"},
		Rows:    [][]string{{"a", "one"}, {"b", "two"}, {"c", "three"}, {"d", "four"}, {"e", "five"}},
	}
	analyzer := &mockAnalyzer{
		sentiments: map[string]sentiment.Sentiment{
			"one": {Score: 0.7}, "two": {Score: 0.3}, "three": {Score: 0}, "four": {Score: -0.5}, "five": {Score: -1},
		},
		failOn: "four",
	}
	p := New(sentiment.NewClient(analyzer, nil), nil, db, nil)
	opts := baseOptions(t, Overall)
	opts.ChunkSize = 2

	if _, err := p.Run(context.Background(), &tableReader{table: table}, opts); err == nil {
		t.Fatal("expected first run to fail")
	}

	analyzer.failOn = ""
	analyzer.calls = 0
	reader := &tableReader{table: table}
	opts.Resume = true
	result, err := p.Run(context.Background(), reader, opts)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if reader.reads != 0 {
		t.Error("expected resume to reuse the intermediate artifact")
	}
	if analyzer.calls != 3 {
		t.Errorf("expected 3 calls for the remaining records, got %d", analyzer.calls)
	}
	if result.Scored != 3 {
		t.Errorf("expected 3 scored, got %d", result.Scored)
	}

	rows := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows after resume, got %d", len(rows))
	}
	want := []string{"a", "b", "c", "d", "e"}
	for i, row := range rows {
		if row[0] != want[i] {
			t.Errorf("row %d: expected %s, got %s", i, want[i], row[0])
		}
	}
	if rows[4][5] != "Very Negative" {
		t.Errorf("expected Very Negative for -1, got %q", rows[4][5])
	}

	analyzer.calls = 0
	result, err = p.Run(context.Background(), reader, opts)
	if err != nil {
		t.Fatalf("second resume failed: %v", err)
	}
	if analyzer.calls != 0 {
		t.Errorf("expected no calls for a complete pass, got %d", analyzer.calls)
	}
	if len(readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))) != 5 {
		t.Error("expected complete output to be left untouched")
	}
}

func TestRunWithoutResumeStartsFresh(t *testing.T) {
	db := openTestDB(t)
	p := New(sentiment.NewClient(surveyAnalyzer(), nil), nil, db, nil)
	opts := baseOptions(t, Overall)

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), &tableReader{table: surveyTable()}, opts); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	rows := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.csv"))
	if len(rows) != 2 {
		t.Errorf("expected output truncated between runs, got %d rows", len(rows))
	}
}

func TestRunNoGranularityIsNoop(t *testing.T) {
	analyzer := surveyAnalyzer()
	reader := &tableReader{table: surveyTable()}
	p := New(sentiment.NewClient(analyzer, nil), nil, nil, nil)
	opts := baseOptions(t, None)

	result, err := p.Run(context.Background(), reader, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if analyzer.calls != 0 || reader.reads != 0 {
		t.Error("expected no input read and no service calls")
	}
	entries, _ := os.ReadDir(opts.OutputDir)
	if len(entries) != 0 {
		t.Errorf("expected no artifacts, found %d", len(entries))
	}
}

func TestRunSkipsEmptyResponses(t *testing.T) {
	dir := t.TempDir()
	long := &artifact.LongTable{
		IDColumn: "uID",
		Records: []reshape.LongRecord{
			{ID: "u1", Question: "Q1", Response: u1Q1},
			{ID: "u2", Question: "Q1", Response: "   "},
		},
	}
	if err := artifact.WriteLong(filepath.Join(dir, IntermediateFile), long); err != nil {
		t.Fatalf("WriteLong: %v", err)
	}

	analyzer := surveyAnalyzer()
	p := New(sentiment.NewClient(analyzer, nil), nil, nil, nil)
	result, err := p.Run(context.Background(), nil, Options{Granularity: Overall, OutputDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Scored != 1 {
		t.Errorf("expected 1 scored and 1 skipped, got %d/%d", result.Scored, result.Skipped)
	}
	if analyzer.calls != 1 {
		t.Errorf("expected 1 remote call, got %d", analyzer.calls)
	}
}

func TestRunSchemaErrorBeforeAnyCall(t *testing.T) {
	analyzer := surveyAnalyzer()
	p := New(sentiment.NewClient(analyzer, nil), nil, nil, nil)
	opts := baseOptions(t, Overall)
	opts.Reshape.IDColumn = "respondent"

	result, err := p.Run(context.Background(), &tableReader{table: surveyTable()}, opts)
	var schemaErr *reshape.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if analyzer.calls != 0 {
		t.Error("expected no service calls")
	}
	if result.State != StateFailed {
		t.Errorf("expected failed, got %s", result.State)
	}
}

func TestRunXLSXOutput(t *testing.T) {
	p := New(sentiment.NewClient(surveyAnalyzer(), nil), bucket.Coarse(), nil, nil)
	opts := baseOptions(t, Overall)
	opts.Format = artifact.FormatXLSX

	if _, err := p.Run(context.Background(), &tableReader{table: surveyTable()}, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := readRows(t, filepath.Join(opts.OutputDir, "sentiment_by_response.xlsx"))
	if len(rows) != 2 || rows[0][5] != "Positive" || rows[1][5] != "Neutral" {
		t.Errorf("unexpected coarse rows %q", rows)
	}
}

func TestDryRun(t *testing.T) {
	analyzer := surveyAnalyzer()
	p := New(sentiment.NewClient(analyzer, nil), nil, nil, nil)
	opts := baseOptions(t, Both)

	result, err := p.DryRun(context.Background(), &tableReader{table: surveyTable()}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Records != 2 || len(result.Steps) != 3 {
		t.Errorf("unexpected dry run %+v", result)
	}
	if analyzer.calls != 0 {
		t.Error("expected no service calls in dry run")
	}
	entries, _ := os.ReadDir(opts.OutputDir)
	if len(entries) != 0 {
		t.Errorf("expected no artifacts written, found %d", len(entries))
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in   string
		want Granularity
	}{
		{"overall", Overall},
		{"entity", Entity},
		{"overall,entity", Both},
		{"both", Both},
		{"", None},
		{"none", None},
	}
	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		if err != nil {
			t.Errorf("ParseGranularity(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGranularity(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseGranularity("sentence"); err == nil {
		t.Error("expected error for unknown granularity")
	}
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	m := &machine{}
	if err := m.to(StateWriting); err == nil {
		t.Error("expected idle -> writing to be rejected")
	}
	if err := m.to(StateReshaping); err != nil {
		t.Fatalf("idle -> reshaping: %v", err)
	}
	m.fail()
	if m.state != StateFailed {
		t.Errorf("expected failed, got %s", m.state)
	}
	if err := m.to(StateReshaping); err == nil {
		t.Error("expected no transition out of failed")
	}
}

func TestRunResumeDropsRowsWrittenAfterCheckpoint(t *testing.T) {
	db := openTestDB(t)
	table := &reshape.WideTable{
		Columns: []string{"uID", "Q1"},
		Rows:    [][]string{{"a", "one"}, {"b", "two"}, {"c", "three"}, {"d", "four"}},
	}
	analyzer := &mockAnalyzer{
		sentiments: map[string]sentiment.Sentiment{
			"one": {Score: 0.7}, "two": {Score: 0.3}, "three": {Score: 0}, "four": {Score: -0.5},
		},
		failOn: "three",
	}
	p := New(sentiment.NewClient(analyzer, nil), nil, db, nil)
	opts := baseOptions(t, Overall)
	opts.ChunkSize = 2

	if _, err := p.Run(context.Background(), &tableReader{table: table}, opts); err == nil {
		t.Fatal("expected first run to fail")
	}

	// The second chunk reached the output but its checkpoint was never saved.
	out := filepath.Join(opts.OutputDir, "sentiment_by_response.csv")
	sink, err := artifact.NewSink(filepath.Join(opts.OutputDir, "sentiment_by_response"), "csv")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	header, _, err := artifact.ReadTable(out)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if err := sink.Append(header, [][]string{{"c", "Q1", "three", "0", "0", "Neutral"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	analyzer.failOn = ""
	opts.Resume = true
	if _, err := p.Run(context.Background(), &tableReader{table: table}, opts); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	rows := readRows(t, out)
	want := []string{"a", "b", "c", "d"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows without duplicates, got %d: %q", len(want), len(rows), rows)
	}
	for i, row := range rows {
		if row[0] != want[i] {
			t.Errorf("row %d: expected %s, got %s", i, want[i], row[0])
		}
	}

	cp, err := db.GetCheckpoint("overall", out)
	if err != nil || cp == nil {
		t.Fatalf("GetCheckpoint: %v %v", cp, err)
	}
	if cp.RowsWritten != 4 || !cp.Done() {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
}

func TestRunRejectsUnknownFormatBeforeReading(t *testing.T) {
	db := openTestDB(t)
	analyzer := surveyAnalyzer()
	p := New(sentiment.NewClient(analyzer, nil), nil, db, nil)
	opts := baseOptions(t, Overall)
	opts.Format = "parquet"

	reader := &tableReader{table: surveyTable()}
	if _, err := p.Run(context.Background(), reader, opts); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if reader.reads != 0 || analyzer.calls != 0 {
		t.Errorf("expected no reads or calls, got reads=%d calls=%d", reader.reads, analyzer.calls)
	}
	if artifact.Exists(filepath.Join(opts.OutputDir, IntermediateFile)) {
		t.Error("expected no intermediate artifact")
	}
	runs, err := db.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no run recorded, got %d", len(runs))
	}
}
