// Package report summarises scored output tables as markdown and HTML.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/surveysentiment/internal/artifact"
	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

//go:embed templates/report.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

const (
	responseBase = "sentiment_by_response"
	entityBase   = "sentiment_by_entity"

	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// QuestionSummary is the bucket distribution of one question.
type QuestionSummary struct {
	Question      string
	Responses     int
	MeanSentiment float64
	Counts        map[string]int
}

// EntitySummary aggregates the mentions of one entity.
type EntitySummary struct {
	Name          string
	Type          string
	Mentions      int
	MeanSentiment float64
}

// Report is the summary of one output directory.
type Report struct {
	GeneratedAt time.Time
	Labels      []string
	Questions   []QuestionSummary
	Entities    []EntitySummary
	Sources     []string
}

// Build reads the output tables found in dir. labels orders the bucket
// columns; labels found in the data but not listed are appended.
func Build(dir string, labels []string, topEntities int) (*Report, error) {
	var paths []string
	for _, base := range []string{responseBase, entityBase} {
		if path := artifact.Find(filepath.Join(dir, base)); path != "" {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scored output found in %s", dir)
	}
	return BuildFrom(paths, labels, topEntities)
}

// BuildFrom reads exactly the given output tables, telling per-response and
// per-entity tables apart by file name.
func BuildFrom(paths []string, labels []string, topEntities int) (*Report, error) {
	r := &Report{GeneratedAt: time.Now(), Labels: append([]string(nil), labels...)}

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		var err error
		switch name {
		case responseBase:
			err = r.addResponses(path)
		case entityBase:
			err = r.addEntities(path, topEntities)
		default:
			return nil, fmt.Errorf("%s is not a scored output table", path)
		}
		if err != nil {
			return nil, err
		}
		r.Sources = append(r.Sources, filepath.Base(path))
	}
	if len(r.Sources) == 0 {
		return nil, fmt.Errorf("no scored output to report on")
	}
	return r, nil
}

func (r *Report) addResponses(path string) error {
	header, rows, err := artifact.ReadTable(path)
	if err != nil {
		return err
	}
	cols, err := columns(header, reshape.QuestionColumn, artifact.ColumnSentiment, artifact.ColumnBucket)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	qi, si, bi := cols[0], cols[1], cols[2]

	byQuestion := map[string]*QuestionSummary{}
	var order []string
	sums := map[string]float64{}
	for _, row := range rows {
		q := cell(row, qi)
		s, ok := byQuestion[q]
		if !ok {
			s = &QuestionSummary{Question: q, Counts: map[string]int{}}
			byQuestion[q] = s
			order = append(order, q)
		}
		label := cell(row, bi)
		r.noteLabel(label)
		s.Counts[label]++
		s.Responses++
		score, _ := strconv.ParseFloat(cell(row, si), 64)
		sums[q] += score
	}

	for _, q := range order {
		s := byQuestion[q]
		s.MeanSentiment = sums[q] / float64(s.Responses)
		r.Questions = append(r.Questions, *s)
	}
	return nil
}

func (r *Report) addEntities(path string, top int) error {
	header, rows, err := artifact.ReadTable(path)
	if err != nil {
		return err
	}
	cols, err := columns(header, artifact.ColumnEntity, artifact.ColumnType, artifact.ColumnSentiment)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	ni, ti, si := cols[0], cols[1], cols[2]

	type agg struct {
		summary EntitySummary
		sum     float64
		types   map[string]int
	}
	byName := map[string]*agg{}
	for _, row := range rows {
		name := strings.TrimSpace(cell(row, ni))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		a, ok := byName[key]
		if !ok {
			a = &agg{summary: EntitySummary{Name: name}, types: map[string]int{}}
			byName[key] = a
		}
		a.summary.Mentions++
		a.types[cell(row, ti)]++
		score, _ := strconv.ParseFloat(cell(row, si), 64)
		a.sum += score
	}

	for _, a := range byName {
		a.summary.MeanSentiment = a.sum / float64(a.summary.Mentions)
		a.summary.Type = majority(a.types)
		r.Entities = append(r.Entities, a.summary)
	}
	sort.Slice(r.Entities, func(i, j int) bool {
		if r.Entities[i].Mentions != r.Entities[j].Mentions {
			return r.Entities[i].Mentions > r.Entities[j].Mentions
		}
		return r.Entities[i].Name < r.Entities[j].Name
	})
	if top > 0 && len(r.Entities) > top {
		r.Entities = r.Entities[:top]
	}
	return nil
}

func (r *Report) noteLabel(label string) {
	for _, l := range r.Labels {
		if l == label {
			return
		}
	}
	r.Labels = append(r.Labels, label)
}

// Markdown renders the report as GitHub-flavoured markdown.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Survey sentiment report\n\n")
	fmt.Fprintf(&b, "Generated %s from %s.\n", r.GeneratedAt.Format("2006-01-02 15:04"), strings.Join(r.Sources, ", "))

	if len(r.Questions) > 0 {
		b.WriteString("\n## Sentiment by question\n\n")
		b.WriteString("| Question | Responses | Mean |")
		for _, l := range r.Labels {
			fmt.Fprintf(&b, " %s |", escape(l))
		}
		b.WriteString("\n|---|---:|---:|")
		for range r.Labels {
			b.WriteString("---:|")
		}
		b.WriteString("\n")
		for _, q := range r.Questions {
			fmt.Fprintf(&b, "| %s | %d | %.2f |", escape(q.Question), q.Responses, q.MeanSentiment)
			for _, l := range r.Labels {
				fmt.Fprintf(&b, " %d |", q.Counts[l])
			}
			b.WriteString("\n")
		}
	}

	if len(r.Entities) > 0 {
		b.WriteString("\n## Most mentioned entities\n\n")
		b.WriteString("| Entity | Type | Mentions | Mean sentiment |\n|---|---|---:|---:|\n")
		for _, e := range r.Entities {
			fmt.Fprintf(&b, "| %s | %s | %d | %.2f |\n", escape(e.Name), escape(e.Type), e.Mentions, e.MeanSentiment)
		}
	}
	return b.String()
}

// HTML renders the markdown into the standalone page template.
func (r *Report) HTML(w io.Writer) error {
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	tmpl, err := template.ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return fmt.Errorf("parsing report template: %w", err)
	}
	return tmpl.Execute(w, map[string]any{
		"Title": "Survey sentiment report",
		"Body":  template.HTML(body.String()),
	})
}

// Write stores report.md and report.html in dir.
func (r *Report) Write(dir string) (string, string, error) {
	mdPath := filepath.Join(dir, MarkdownFile)
	htmlPath := filepath.Join(dir, HTMLFile)

	if err := artifact.WriteAtomic(mdPath, func(w io.Writer) error {
		_, err := io.WriteString(w, r.Markdown())
		return err
	}); err != nil {
		return "", "", err
	}
	if err := artifact.WriteAtomic(htmlPath, r.HTML); err != nil {
		return "", "", err
	}
	slog.Info("report written", "markdown", mdPath, "html", htmlPath)
	return mdPath, htmlPath, nil
}

func columns(header []string, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = -1
		for j, h := range header {
			if h == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, &reshape.SchemaError{Column: name, Reason: "column not found in output table"}
		}
	}
	return idx, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func majority(counts map[string]int) string {
	best, n := "", -1
	for k, c := range counts {
		if c > n || (c == n && k < best) {
			best, n = k, c
		}
	}
	return best
}

func escape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
