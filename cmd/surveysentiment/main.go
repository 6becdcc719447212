package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/surveysentiment/internal/artifact"
	"github.com/TobiSchelling/surveysentiment/internal/bucket"
	"github.com/TobiSchelling/surveysentiment/internal/config"
	"github.com/TobiSchelling/surveysentiment/internal/database"
	"github.com/TobiSchelling/surveysentiment/internal/logging"
	"github.com/TobiSchelling/surveysentiment/internal/metrics"
	"github.com/TobiSchelling/surveysentiment/internal/pipeline"
	"github.com/TobiSchelling/surveysentiment/internal/report"
	"github.com/TobiSchelling/surveysentiment/internal/sentiment"
	"github.com/TobiSchelling/surveysentiment/internal/source"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "surveysentiment",
	Short:   "Sentiment scoring for free-text survey responses",
	Long:    "surveysentiment reshapes wide survey exports into one row per answer, scores each answer with a sentiment service and buckets the scores into labels.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		logging.Init(os.Stderr, level, false)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if level, err = logging.ParseLevel(cfg.Logging.Level); err != nil {
			return err
		}
		if verbose {
			level = slog.LevelDebug
		}
		logging.Init(os.Stderr, level, false)
		slog.Debug("loaded config", "path", path)

		return cfg.LoadEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(reshapeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("surveysentiment", version)
	},
}

var initHere bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/surveysentiment/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if initHere {
			target = "config.yaml"
		}
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the input file, question columns and sentiment provider.")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initHere, "here", false, "Write config.yaml to the current directory")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("State: %s\n\n", db.Path())
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.TotalRuns)
		fmt.Printf("  Completed: %d\n", stats.CompletedRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Printf("  Records scored: %d\n", stats.RecordsScored)

		runs, err := db.RecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				started := ""
				if r.StartedAt != nil {
					started = *r.StartedAt
				}
				fmt.Printf("  %s  %s  %-8s %-15s scored=%d skipped=%d entities=%d\n",
					r.ID[:8], started, r.State, r.Granularity, r.RecordsScored, r.RecordsSkipped, r.Entities)
				if r.Error != nil {
					fmt.Printf("    error: %s\n", *r.Error)
				}
			}
		}

		checkpoints, err := db.ListCheckpoints()
		if err != nil {
			return err
		}
		if len(checkpoints) > 0 {
			fmt.Println("\nCheckpoints:")
			for _, c := range checkpoints {
				mark := "complete"
				if !c.Done() {
					mark = "resumable"
				}
				fmt.Printf("  %-8s %d/%d  %s (%s)\n", c.Granularity, c.NextOffset, c.Total, c.OutputPath, mark)
			}
		}
		return nil
	},
}

// --- reshape command ---

var inputOverride string

var reshapeCmd = &cobra.Command{
	Use:   "reshape",
	Short: "Convert the wide survey export into the long table only",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ReshapeOptions().Validate(); err != nil {
			return err
		}
		reader, err := openInput(cmd.Context())
		if err != nil {
			return err
		}

		pipe := pipeline.New(nil, nil, nil, nil)
		_, step, err := pipe.Reshape(cmd.Context(), reader, runOptions())
		if err != nil {
			return err
		}
		fmt.Println(step.Summary)
		return nil
	},
}

func init() {
	reshapeCmd.Flags().StringVarP(&inputOverride, "input", "i", "", "Input reference (overrides input.path)")
	reshapeCmd.Flags().IntVar(&limit, "limit", 0, "Cap the number of long records")
}

// --- run command ---

var (
	dryRun     bool
	resume     bool
	overall    bool
	entity     bool
	chunkSize  int
	schemeName string
	limit      int
	format     string
	outputDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: reshape -> score -> bucket -> write",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("scheme") {
			cfg.Buckets.Scheme = schemeName
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		scheme, err := cfg.BucketScheme()
		if err != nil {
			return err
		}

		opts := runOptions()
		opts.Resume = resume
		if err := artifact.ValidateFormat(opts.Format); err != nil {
			return err
		}
		if opts.Granularity, err = granularity(cmd); err != nil {
			return err
		}

		reader, err := openInput(ctx)
		if err != nil {
			if !resume {
				return err
			}
			// A resumed run can work from the long table alone.
			slog.Warn("input unavailable, relying on the existing long table", "error", err)
			reader = nil
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		m := metrics.New()
		var client *sentiment.Client
		if !dryRun && opts.Granularity != pipeline.None {
			analyzer, err := sentiment.NewAnalyzer(ctx, cfg.SentimentSettings())
			if err != nil {
				return fmt.Errorf("creating sentiment analyzer: %w", err)
			}
			if c, ok := analyzer.(io.Closer); ok {
				defer c.Close()
			}
			client = sentiment.NewClient(analyzer, m)
		}
		pipe := pipeline.New(client, scheme, db, m)

		var result *pipeline.Result
		var runErr error
		if dryRun {
			result, runErr = pipe.DryRun(ctx, reader, opts)
		} else {
			result, runErr = pipe.Run(ctx, reader, opts)
		}
		if result != nil {
			printSteps(result)
		}

		if !dryRun && result != nil && cfg.Metrics.PushgatewayURL != "" {
			if err := m.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, result.RunID); err != nil {
				slog.Warn("failed to push metrics", "error", err)
			}
		}
		if runErr != nil {
			if !dryRun {
				fmt.Println("\nRun failed. Fix the cause and re-run with --resume to continue from the last completed chunk.")
			}
			return runErr
		}

		if !dryRun && cfg.Report.Enabled && opts.Granularity != pipeline.None {
			if err := writeReport(opts.OutputDir, scheme, result.Outputs); err != nil {
				return err
			}
		}
		if !dryRun {
			fmt.Printf("\nRun %s complete: %d records, %d scored, %d skipped.\n", result.RunID, result.Records, result.Scored, result.Skipped)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&inputOverride, "input", "i", "", "Input reference (overrides input.path)")
	f.BoolVar(&overall, "overall", false, "Score whole responses")
	f.BoolVar(&entity, "entity", false, "Score entities within responses")
	f.BoolVar(&resume, "resume", false, "Continue from the last completed chunk")
	f.BoolVar(&dryRun, "dry-run", false, "Show what would be done without calling the service")
	f.IntVar(&chunkSize, "chunk-size", 0, "Records per committed chunk (overrides pipeline.chunk_size)")
	f.StringVar(&schemeName, "scheme", "", "Bucket scheme: default, coarse or custom")
	f.IntVar(&limit, "limit", 0, "Cap the number of long records")
	f.StringVar(&format, "format", "", "Output format: csv or xlsx")
	f.StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.dir)")
}

// --- report command ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise existing output tables as report.md and report.html",
	RunE: func(cmd *cobra.Command, args []string) error {
		scheme, err := cfg.BucketScheme()
		if err != nil {
			return err
		}
		dir := cfg.Output.Dir
		if outputDir != "" {
			dir = outputDir
		}
		return writeReport(dir, scheme, nil)
	},
}

func init() {
	reportCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.dir)")
}

// writeReport summarises outputs, or whatever scored tables dir holds when
// outputs is nil.
func writeReport(dir string, scheme *bucket.Scheme, outputs []string) error {
	var r *report.Report
	var err error
	if outputs == nil {
		r, err = report.Build(dir, scheme.Labels(), cfg.Report.TopEntities)
	} else {
		var present []string
		for _, out := range outputs {
			if artifact.Exists(out) {
				present = append(present, out)
			}
		}
		r, err = report.BuildFrom(present, scheme.Labels(), cfg.Report.TopEntities)
	}
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}
	mdPath, htmlPath, err := r.Write(dir)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Printf("Report: %s, %s\n", mdPath, htmlPath)
	return nil
}

// granularity takes --overall/--entity when either is given, else the config.
func granularity(cmd *cobra.Command) (pipeline.Granularity, error) {
	if cmd.Flags().Changed("overall") || cmd.Flags().Changed("entity") {
		g := pipeline.None
		if overall {
			g |= pipeline.Overall
		}
		if entity {
			g |= pipeline.Entity
		}
		return g, nil
	}
	return pipeline.ParseGranularity(cfg.Pipeline.Granularity)
}

func runOptions() pipeline.Options {
	opts := pipeline.Options{
		ChunkSize: cfg.Pipeline.ChunkSize,
		OutputDir: cfg.Output.Dir,
		Format:    cfg.Output.Format,
		Reshape:   cfg.ReshapeOptions(),
		Input:     inputRef(),
	}
	if chunkSize > 0 {
		opts.ChunkSize = chunkSize
	}
	if limit > 0 {
		opts.Reshape.Limit = limit
	}
	if format != "" {
		opts.Format = format
	}
	if outputDir != "" {
		opts.OutputDir = outputDir
	}
	return opts
}

func inputRef() string {
	if inputOverride != "" {
		return inputOverride
	}
	return cfg.Input.Path
}

func openInput(ctx context.Context) (source.Reader, error) {
	spec := cfg.SourceSpec()
	spec.Ref = inputRef()
	return source.Open(ctx, spec)
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	for _, out := range result.Outputs {
		if artifact.Exists(out) {
			fmt.Printf("  -> %s\n", out)
		}
	}
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.StatePath())
}
