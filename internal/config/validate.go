package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tradeetl/internal/multitable"
	"tradeetl/internal/workerpool"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// config (e.g. "pool.max").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors joins the error-severity issues; warnings are dropped. It returns
// nil when nothing blocks.
func Errors(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return errors.Join(errs...)
}

var knownStorage = map[string]struct{}{"postgres": {}, "sqlite": {}, "mssql": {}}

// Validate performs static checks over cfg without mutating it.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Storage.
	if strings.TrimSpace(cfg.Storage.Kind) == "" {
		add(SeverityError, "storage.kind", "storage.kind must not be empty")
	} else if _, ok := knownStorage[cfg.Storage.Kind]; !ok {
		add(SeverityWarning, "storage.kind", "unknown storage kind %q; ensure a matching backend is registered", cfg.Storage.Kind)
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "storage.dsn must not be empty")
	}
	if cfg.Storage.MaxConns < 0 {
		add(SeverityError, "storage.max_conns", "max_conns must not be negative")
	} else if cfg.Storage.MaxConns > 0 && cfg.Storage.MaxConns < cfg.Pool.Max {
		add(SeverityWarning, "storage.max_conns",
			"max_conns=%d is below pool.max=%d; chunk workers will queue on connections", cfg.Storage.MaxConns, cfg.Pool.Max)
	}

	// Engine.
	e := cfg.Engine
	if e.ChunkSize <= 0 {
		add(SeverityError, "engine.chunk_size", "chunk_size must be > 0, got %d", e.ChunkSize)
	}
	if e.BatchSize <= 0 {
		add(SeverityError, "engine.batch_size", "batch_size must be > 0, got %d", e.BatchSize)
	} else if e.ChunkSize > 0 && e.BatchSize > e.ChunkSize {
		add(SeverityWarning, "engine.batch_size", "batch_size %d exceeds chunk_size %d; every chunk is one batch", e.BatchSize, e.ChunkSize)
	}
	if e.DimensionChunkSize < 0 {
		add(SeverityError, "engine.dimension_chunk_size", "dimension_chunk_size must not be negative")
	}
	if e.MaxAttempts < 1 {
		add(SeverityError, "engine.max_attempts", "max_attempts must be >= 1, got %d", e.MaxAttempts)
	}
	if e.BackoffBase < 0 || e.BackoffMax < 0 {
		add(SeverityError, "engine.backoff_base", "backoff durations must not be negative")
	} else if e.BackoffMax > 0 && e.BackoffMax < e.BackoffBase {
		add(SeverityWarning, "engine.backoff_max", "backoff_max %s is below backoff_base %s", e.BackoffMax, e.BackoffBase)
	}
	if _, err := multitable.ParseMode(e.Mode); err != nil {
		add(SeverityError, "engine.mode", "%v", err)
	}
	if strings.TrimSpace(e.Job) == "" {
		add(SeverityWarning, "engine.job", "job is empty; metrics will use %q", multitable.DefaultJob)
	}

	// Pool.
	p := cfg.Pool
	if p.Core < 1 {
		add(SeverityError, "pool.core", "core must be >= 1, got %d", p.Core)
	}
	if p.Max < p.Core {
		add(SeverityError, "pool.max", "max %d must be >= core %d", p.Max, p.Core)
	}
	if p.Queue < 0 {
		add(SeverityError, "pool.queue", "queue must not be negative")
	}
	if _, err := workerpool.ParsePolicy(p.Policy); err != nil {
		add(SeverityError, "pool.policy", "%v", err)
	} else if p.Policy == "reject" && p.Queue == 0 {
		add(SeverityWarning, "pool.policy", "reject policy with an empty queue fails any run with more chunks than pool.max")
	}

	// Import.
	if cfg.Import.BatchSize <= 0 {
		add(SeverityError, "import.batch_size", "batch_size must be > 0, got %d", cfg.Import.BatchSize)
	}
	if c := []rune(cfg.Import.Comma); len(c) > 1 {
		add(SeverityError, "import.comma", "comma must be a single character, got %q", cfg.Import.Comma)
	}

	// Metrics.
	switch cfg.Metrics.Backend {
	case "", "none", "datadog":
	case "prometheus":
		if u := cfg.Metrics.PushURL; u != "" {
			if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
				add(SeverityError, "metrics.push_url", "push_url %q is not an absolute URL", u)
			}
		}
	default:
		add(SeverityError, "metrics.backend", "unknown metrics backend %q (want none|prometheus|datadog)", cfg.Metrics.Backend)
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		add(SeverityError, "log.level", "%v", err)
	}
	return issues
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
