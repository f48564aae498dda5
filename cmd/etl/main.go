// Command etl runs the trade warehouse jobs from the command line.
//
// Usage:
//
//	etl <command> [flags]
//
// Commands:
//
//	probe FILE      sample an export file and report its column mapping
//	import FILE     load a CSV or JSON export file into export_th
//	run             rebuild the star schema (--year all | YYYY)
//	reset-all       empty the star schema
//	reset-year      delete one year of facts and the dimensions only it used
//	status          report per-year progress (--year YYYY)
//	years           list the years present in export_th
//	validate        check the configuration and exit
//
// Every command accepts the configuration flags (see --help); values layer
// as defaults < config file < environment < flags. A .env file in the working
// directory is loaded into the environment first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"tradeetl/internal/config"
	"tradeetl/internal/importer"
	"tradeetl/internal/metrics"
	"tradeetl/internal/metrics/datadog"
	"tradeetl/internal/metrics/prom"
	"tradeetl/internal/multitable"
	"tradeetl/internal/probe"
	"tradeetl/internal/storage"
	"tradeetl/internal/workerpool"

	// register all backends with the storage factory.
	_ "tradeetl/internal/storage/all"
)

const usage = `usage: etl <command> [flags]

commands:
  probe FILE    sample an export file and report its column mapping
  import FILE   load a CSV or JSON export file into export_th
  run           rebuild the star schema (--year all | YYYY)
  reset-all     empty the star schema
  reset-year    delete one year of facts (--year YYYY)
  status        per-year progress (--year YYYY)
  years         list the years present in export_th
  validate      check the configuration and exit
`

// engine is the slice of *multitable.Engine the commands drive.
type engine interface {
	Run(ctx context.Context, scope storage.Scope, mode multitable.Mode) (multitable.RunResult, error)
	ResetAll(ctx context.Context) error
	ResetYear(ctx context.Context, year int) (multitable.ResetStats, error)
	Status(ctx context.Context, year int) (multitable.Status, error)
	TableCounts(ctx context.Context) (storage.TableCounts, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	getenv      func(string) string
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	newEngine   func(repo storage.Repository, pool *workerpool.Pool, opts multitable.Options) engine
	initMetrics func(ctx context.Context, cfg config.Metrics, job string, logger *slog.Logger) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		getenv:   os.Getenv,
		openRepo: storage.Open,
		newEngine: func(repo storage.Repository, pool *workerpool.Pool, opts multitable.Options) engine {
			return multitable.New(repo, pool, opts)
		},
		initMetrics: initMetrics,
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// command is one parsed invocation.
type command struct {
	name   string
	year   string
	format string
	file   string
}

var commands = map[string]bool{
	"probe": true, "import": true, "run": true, "reset-all": true, "reset-year": true,
	"status": true, "years": true, "validate": true,
}

// parseCommand parses args into a command and its flag set. Usage errors
// return exit code 2 and have already been reported on stderr.
func parseCommand(args []string, stderr io.Writer) (command, *flag.FlagSet, int) {
	if len(args) == 0 || !commands[args[0]] {
		if len(args) > 0 && args[0] != "-h" && args[0] != "--help" && args[0] != "help" {
			fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		}
		fmt.Fprint(stderr, usage)
		return command{}, nil, 2
	}

	cmd := command{name: args[0]}
	fs := flag.NewFlagSet("etl "+cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	config.AddFlags(fs)
	switch cmd.name {
	case "run":
		fs.StringVar(&cmd.year, "year", "all", "year to process, or all")
	case "reset-year", "status":
		fs.StringVar(&cmd.year, "year", "", "year (required)")
	case "import":
		fs.StringVar(&cmd.format, "format", "", "csv | json (default: by file extension)")
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return command{}, nil, 0
		}
		return command{}, nil, 2
	}

	switch cmd.name {
	case "import", "probe":
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "usage: etl %s FILE\n", cmd.name)
			return command{}, nil, 2
		}
		cmd.file = fs.Arg(0)
	case "reset-year", "status":
		if strings.TrimSpace(cmd.year) == "" {
			fmt.Fprintf(stderr, "usage: etl %s --year YYYY\n", cmd.name)
			return command{}, nil, 2
		}
		fallthrough
	default:
		if fs.NArg() != 0 {
			fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
			return command{}, nil, 2
		}
	}
	return cmd, fs, -1
}

// runMain executes one command and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	cmd, fs, code := parseCommand(args, stderr)
	if code >= 0 {
		return code
	}

	cfg, err := config.FromFlags(fs, deps.getenv)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.Errors(issues) != nil {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if cmd.name == "validate" {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}
	if cmd.name == "probe" {
		rep, err := probeFile(cmd.file, cfg)
		if err != nil {
			fmt.Fprintf(stderr, "probe: %v\n", err)
			return 1
		}
		writeJSON(stdout, rep)
		return 0
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(tint.NewHandler(stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))

	opts, mode, err := cfg.EngineOptions()
	if err != nil {
		fmt.Fprintf(stderr, "engine options: %v\n", err)
		return 1
	}
	opts.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelInfo)

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, opts.Job, logger)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	repo, err := deps.openRepo(ctx, cfg.StorageConfig())
	if err != nil {
		fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx); err != nil {
		fmt.Fprintf(stderr, "ensure tables: %v\n", err)
		return 1
	}

	start := time.Now()
	out, err := execute(ctx, cmd, cfg, repo, opts, mode, logger, deps)
	if out != nil && (err == nil || cmd.name == "run") {
		writeJSON(stdout, out)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd.name, err)
		return 1
	}
	logger.Debug("command completed", "command", cmd.name, "elapsed", time.Since(start).Truncate(time.Millisecond))
	return 0
}

// execute dispatches a validated command. A failed run still returns its
// RunResult so the caller can print the partial tallies.
func execute(
	ctx context.Context,
	cmd command,
	cfg config.Config,
	repo storage.Repository,
	opts multitable.Options,
	mode multitable.Mode,
	logger *slog.Logger,
	deps appDeps,
) (any, error) {
	switch cmd.name {
	case "import":
		return importFile(ctx, cmd, cfg, repo, logger)
	case "years":
		years, err := repo.SourceYears(ctx)
		if err != nil {
			return nil, err
		}
		if years == nil {
			years = []string{}
		}
		return years, nil
	}

	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := workerpool.New(pc)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	eng := deps.newEngine(repo, pool, opts)

	switch cmd.name {
	case "run":
		scope, err := multitable.ParseScope(cmd.year)
		if err != nil {
			return nil, err
		}
		res, err := eng.Run(ctx, scope, mode)
		return res, err
	case "reset-all":
		if err := eng.ResetAll(ctx); err != nil {
			return nil, err
		}
		return eng.TableCounts(ctx)
	case "reset-year":
		year, err := multitable.ParseYear(cmd.year)
		if err != nil {
			return nil, err
		}
		return eng.ResetYear(ctx, year)
	case "status":
		year, err := multitable.ParseYear(cmd.year)
		if err != nil {
			return nil, err
		}
		return eng.Status(ctx, year)
	}
	return nil, fmt.Errorf("unknown command %q", cmd.name)
}

func importFile(ctx context.Context, cmd command, cfg config.Config, repo storage.Repository, logger *slog.Logger) (any, error) {
	format := importer.Format(strings.ToLower(cmd.format))
	if format == "" {
		f, err := importer.FormatFromPath(cmd.file)
		if err != nil {
			return nil, err
		}
		format = f
	}

	f, err := os.Open(cmd.file)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	st, err := importer.Import(ctx, repo, f, importer.Options{
		Format:    format,
		Parser:    cfg.ParserOptions(),
		BatchSize: cfg.Import.BatchSize,
		Logger:    slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
	})
	if err != nil {
		return nil, err
	}
	return importSummary{
		File:     cmd.file,
		Format:   string(format),
		Read:     st.Read,
		Inserted: st.Inserted,
		BadLines: st.BadLines,
		Batches:  st.Batches,
		Elapsed:  st.Duration.Truncate(time.Millisecond).String(),
	}, nil
}

func probeFile(path string, cfg config.Config) (probe.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return probe.Report{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return probe.Probe(f, probe.Options{HeaderMap: cfg.Import.HeaderMap})
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type importSummary struct {
	File     string `json:"file"`
	Format   string `json:"format"`
	Read     int64  `json:"read"`
	Inserted int64  `json:"inserted"`
	BadLines int64  `json:"badLines"`
	Batches  int64  `json:"batches"`
	Elapsed  string `json:"elapsed"`
}

// metricsBackend is a backend owning a background flusher.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newPromBackend = func(opts prom.Options) (metrics.Backend, error) { return prom.New(opts) }

	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}

	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured backend. The returned cleanup is never
// nil and pushes or flushes whatever the run recorded.
func initMetrics(ctx context.Context, cfg config.Metrics, job string, logger *slog.Logger) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "prometheus", "prom", "pushgateway":
		b, err := newPromBackend(prom.Options{PushURL: cfg.PushURL, PushJob: job})
		if err != nil {
			return noop, fmt.Errorf("prometheus backend: %w", err)
		}
		setMetricsBackend(b)
		logger.Debug("metrics enabled", "backend", "prometheus", "push_url", cfg.PushURL, "job", job)
		return func() {
			if err := b.Flush(); err != nil {
				logger.Warn("metrics: push error", "err", err)
			}
		}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			Tags:       cfg.DatadogTags,
			FlushEvery: cfg.FlushEvery.D(),
		})
		if err != nil {
			return noop, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		logger.Debug("metrics enabled", "backend", "datadog", "tags", cfg.DatadogTags)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: datadog close error", "err", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|prometheus|datadog)", cfg.Backend)
	}
}
