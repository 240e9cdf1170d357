// Package config turns command-line flags and an optional JSON or YAML
// file into a validated Config.
package config

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dupfinder/actions"
	"dupfinder/hasher"
	"dupfinder/systeminfo"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths           []string `json:"paths" yaml:"paths"`
	Extensions      []string `json:"extensions" yaml:"extensions"`
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	IncludeGlobs    []string `json:"include_globs" yaml:"include_globs"`
	ExcludeGlobs    []string `json:"exclude_globs" yaml:"exclude_globs"`
	IncludeHidden   bool     `json:"include_hidden" yaml:"include_hidden"`
	MinSize         int64    `json:"min_size" yaml:"min_size"`
	MaxSize         int64    `json:"max_size" yaml:"max_size"`
	MaxResults      int      `json:"max_results" yaml:"max_results"`

	Algorithm   string `json:"algorithm" yaml:"algorithm"`
	QuickCheck  bool   `json:"quick_check" yaml:"quick_check"`
	ReadMode    string `json:"read_mode" yaml:"read_mode"`
	MmapMinSize int64  `json:"mmap_min_size" yaml:"mmap_min_size"`
	DetectMime  bool   `json:"detect_mime" yaml:"detect_mime"`

	ConcurrencyLevel int    `json:"concurrency_level" yaml:"concurrency_level"`
	NiceLevel        string `json:"nice_level" yaml:"nice_level"`
	MaxIOPerSecond   int    `json:"max_io_per_second" yaml:"max_io_per_second"`

	LogLevel string `json:"log_level" yaml:"log_level"`
	Silent   bool   `json:"silent" yaml:"silent"`
	Verbose  bool   `json:"verbose" yaml:"verbose"`

	Resolve         bool     `json:"resolve" yaml:"resolve"`
	Apply           bool     `json:"apply" yaml:"apply"`
	DryRun          bool     `json:"dry_run" yaml:"dry_run"`
	Strategy        string   `json:"strategy" yaml:"strategy"`
	QuarantineDir   string   `json:"quarantine_dir" yaml:"quarantine_dir"`
	ProtectReadOnly bool     `json:"protect_read_only" yaml:"protect_read_only"`
	ProtectGlobs    []string `json:"protect_globs" yaml:"protect_globs"`

	DatabasePath string `json:"database_path" yaml:"database_path"`
	NoSave       bool   `json:"no_save" yaml:"no_save"`
	ExportPath   string `json:"export_path" yaml:"export_path"`
	OutcomesPath string `json:"outcomes_path" yaml:"outcomes_path"`

	OtelEndpoint    string            `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv     bool              `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders     map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName string            `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout     time.Duration     `json:"otel_timeout" yaml:"otel_timeout"`
	OtelExportPaths bool              `json:"otel_export_paths" yaml:"otel_export_paths"`

	DiagSlowScanThreshold time.Duration `json:"diag_slow_scan_threshold" yaml:"diag_slow_scan_threshold"`
	DiagDir               string        `json:"diag_dir" yaml:"diag_dir"`
	DiagGoroutineLeak     bool          `json:"diag_goroutine_leak" yaml:"diag_goroutine_leak"`
	TraceFile             string        `json:"trace_file" yaml:"trace_file"`
	TraceFlight           bool          `json:"trace_flight" yaml:"trace_flight"`
	TraceFlightMaxBytes   uint64        `json:"trace_flight_max_bytes" yaml:"trace_flight_max_bytes"`
	TraceFlightMinAge     time.Duration `json:"trace_flight_min_age" yaml:"trace_flight_min_age"`

	ConfigFile     string `json:"-" yaml:"-"`
	ConcurrencySet bool   `json:"-" yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths:           []string{},
		Extensions:      []string{},
		ExcludePatterns: []string{},
		MaxResults:      50,
		Algorithm:       string(hasher.DefaultAlgorithm),
		QuickCheck:      true,
		ReadMode:        hasher.ReadModeAuto,
		MmapMinSize:     hasher.DefaultMmapMinSize,
		NiceLevel:       "medium",
		LogLevel:        "info",
		Resolve:         true,
		Strategy:        string(actions.StrategyRecycle),
		DatabasePath:    "duplicates.db",
		OtelHeaders:     map[string]string{},
		OtelServiceName: "dupfinder",
		OtelTimeout:     5 * time.Second,
		DiagDir:         ".",
	}
}

// logicalCPUs is replaced in tests.
var logicalCPUs = func() int {
	return systeminfo.LogicalCPUs(context.Background())
}

// Binder holds flag values registered on a FlagSet until Load applies them.
type Binder struct {
	fs  *flag.FlagSet
	cfg *Config

	configFile      *string
	extensions      *string
	excludes        *string
	includeGlobs    *string
	excludeGlobs    *string
	includeHidden   *bool
	minSize         *int64
	maxSize         *int64
	maxResults      *int
	algorithm       *string
	quickCheck      *bool
	readMode        *string
	mmapMinSize     *int64
	detectMime      *bool
	concurrency     *int
	nice            *string
	maxIO           *int
	logLevel        *string
	silent          *bool
	verbose         *bool
	resolve         *bool
	apply           *bool
	dryRun          *bool
	strategy        *string
	quarantineDir   *string
	protectReadOnly *bool
	protectGlobs    *string
	dbPath          *string
	noSave          *bool
	exportPath      *string
	outcomesPath    *string
	otelEndpoint    *string
	otelFromEnv     *bool
	otelHeaders     *string
	otelServiceName *string
	otelTimeout     *time.Duration
	otelExportPaths *bool
	diagThreshold   *time.Duration
	diagDir         *string
	diagLeak        *bool
	traceFile       *string
	traceFlight     *bool
	traceMaxBytes   *uint64
	traceMinAge     *time.Duration
}

// Bind registers every configuration flag on fs.
func Bind(fs *flag.FlagSet) *Binder {
	cfg := Default()
	b := &Binder{fs: fs, cfg: cfg}

	b.configFile = fs.String("config", "", "Path to a JSON or YAML (.yaml/.yml) configuration file.")
	b.extensions = fs.String("extensions", "", "Comma-separated file extensions to include (e.g. jpg,png,pdf).")
	b.excludes = fs.String("exclude", "", "Comma-separated substrings; paths containing one (relative to the scan root) are skipped.")
	b.includeGlobs = fs.String("include-glob", "", "Comma-separated glob patterns a file must match.")
	b.excludeGlobs = fs.String("exclude-glob", "", "Comma-separated glob patterns that exclude a file.")
	b.includeHidden = fs.Bool("include-hidden", cfg.IncludeHidden, "Include hidden files and directories.")
	b.minSize = fs.Int64("min-size", cfg.MinSize, "Minimum file size in bytes.")
	b.maxSize = fs.Int64("max-size", cfg.MaxSize, "Maximum file size in bytes (0 means unlimited).")
	b.maxResults = fs.Int("max-results", cfg.MaxResults, fmt.Sprintf("Maximum groups to display (default: %d).", cfg.MaxResults))
	b.algorithm = fs.String("algorithm", cfg.Algorithm, fmt.Sprintf("Content hash algorithm: %s.", algorithmList()))
	b.quickCheck = fs.Bool("quick-check", cfg.QuickCheck, "Compare the first 4 KiB before hashing whole files.")
	b.readMode = fs.String("read-mode", cfg.ReadMode, "File read mode for hashing: auto, stream, or mmap.")
	b.mmapMinSize = fs.Int64("mmap-min-size", cfg.MmapMinSize, "Minimum file size in bytes for the mmap read path in auto mode.")
	b.detectMime = fs.Bool("detect-mime", cfg.DetectMime, "Sniff file content types while building descriptors.")
	b.concurrency = fs.Int("concurrency", 0, "Worker count (default: derived from nice level and CPU count).")
	b.nice = fs.String("nice", cfg.NiceLevel, "Nice level: high, medium, or low.")
	b.maxIO = fs.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum file opens per second while hashing (0 means unlimited).")
	b.logLevel = fs.String("log-level", cfg.LogLevel, "Log level: trace, debug, info, warn, error, fatal, or panic.")
	b.silent = fs.Bool("silent", cfg.Silent, "Print less output.")
	b.verbose = fs.Bool("verbose", cfg.Verbose, "Print every file of every group.")
	b.resolve = fs.Bool("resolve", cfg.Resolve, "Assign an action to every duplicate.")
	b.apply = fs.Bool("apply", cfg.Apply, "Execute the assigned actions.")
	b.dryRun = fs.Bool("dry-run", cfg.DryRun, "Report what -apply would do without touching files.")
	b.strategy = fs.String("strategy", cfg.Strategy, "Action for plain duplicates: recycle, quarantine, link, or review.")
	b.quarantineDir = fs.String("quarantine-dir", "", "Destination for the quarantine strategy.")
	b.protectReadOnly = fs.Bool("protect-read-only", cfg.ProtectReadOnly, "Never assign destructive actions to read-only files.")
	b.protectGlobs = fs.String("protect", "", "Comma-separated glob patterns of files that are never removed.")
	b.dbPath = fs.String("db", cfg.DatabasePath, "SQLite database for scan history.")
	b.noSave = fs.Bool("no-save", cfg.NoSave, "Do not record the scan in the database.")
	b.exportPath = fs.String("export", "", "Export results to a .json, .csv or .txt file.")
	b.outcomesPath = fs.String("outcomes", "", "Write execution outcomes to a CSV file.")
	b.otelEndpoint = fs.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	b.otelFromEnv = fs.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables.")
	b.otelHeaders = fs.String("otel-headers", "", "Comma-separated OTEL headers (key=value).")
	b.otelServiceName = fs.String("otel-service-name", cfg.OtelServiceName, "OTEL service name.")
	b.otelTimeout = fs.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout.")
	b.otelExportPaths = fs.Bool("otel-export-paths", cfg.OtelExportPaths, "Include file paths and the host name in OTEL records.")
	b.diagThreshold = fs.Duration("diag-slow-scan-threshold", cfg.DiagSlowScanThreshold, "If positive, write diagnostics when scan progress stalls this long.")
	b.diagDir = fs.String("diag-dir", cfg.DiagDir, "Diagnostics output directory.")
	b.diagLeak = fs.Bool("diag-goroutine-leak", cfg.DiagGoroutineLeak, "Write a goroutine profile on shutdown.")
	b.traceFile = fs.String("trace-file", "", "Write a runtime trace to this file (requires a build with -tags trace).")
	b.traceFlight = fs.Bool("trace-flight", cfg.TraceFlight, "Keep a flight recorder window and dump it on stalls.")
	b.traceMaxBytes = fs.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for the flight recorder buffer (0 for runtime default).")
	b.traceMinAge = fs.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain.")
	return b
}

// Load builds the Config: defaults, then the config file, then flags the
// user set explicitly, then normalization and validation. Positional
// arguments, when present, replace the configured paths.
func (b *Binder) Load() (*Config, error) {
	cfg := b.cfg
	if *b.configFile != "" {
		cfg.ConfigFile = *b.configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	b.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "extensions":
			cfg.Extensions = parseCommaSeparated(*b.extensions)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*b.excludes)
		case "include-glob":
			cfg.IncludeGlobs = parseCommaSeparated(*b.includeGlobs)
		case "exclude-glob":
			cfg.ExcludeGlobs = parseCommaSeparated(*b.excludeGlobs)
		case "include-hidden":
			cfg.IncludeHidden = *b.includeHidden
		case "min-size":
			cfg.MinSize = *b.minSize
		case "max-size":
			cfg.MaxSize = *b.maxSize
		case "max-results":
			cfg.MaxResults = *b.maxResults
		case "algorithm":
			cfg.Algorithm = *b.algorithm
		case "quick-check":
			cfg.QuickCheck = *b.quickCheck
		case "read-mode":
			cfg.ReadMode = *b.readMode
		case "mmap-min-size":
			cfg.MmapMinSize = *b.mmapMinSize
		case "detect-mime":
			cfg.DetectMime = *b.detectMime
		case "concurrency":
			cfg.ConcurrencyLevel = *b.concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *b.nice
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *b.maxIO
		case "log-level":
			cfg.LogLevel = *b.logLevel
		case "silent":
			cfg.Silent = *b.silent
		case "verbose":
			cfg.Verbose = *b.verbose
		case "resolve":
			cfg.Resolve = *b.resolve
		case "apply":
			cfg.Apply = *b.apply
		case "dry-run":
			cfg.DryRun = *b.dryRun
		case "strategy":
			cfg.Strategy = *b.strategy
		case "quarantine-dir":
			cfg.QuarantineDir = *b.quarantineDir
		case "protect-read-only":
			cfg.ProtectReadOnly = *b.protectReadOnly
		case "protect":
			cfg.ProtectGlobs = parseCommaSeparated(*b.protectGlobs)
		case "db":
			cfg.DatabasePath = *b.dbPath
		case "no-save":
			cfg.NoSave = *b.noSave
		case "export":
			cfg.ExportPath = *b.exportPath
		case "outcomes":
			cfg.OutcomesPath = *b.outcomesPath
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*b.otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *b.otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*b.otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*b.otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *b.otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *b.otelExportPaths
		case "diag-slow-scan-threshold":
			cfg.DiagSlowScanThreshold = *b.diagThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*b.diagDir)
		case "diag-goroutine-leak":
			cfg.DiagGoroutineLeak = *b.diagLeak
		case "trace-file":
			cfg.TraceFile = *b.traceFile
		case "trace-flight":
			cfg.TraceFlight = *b.traceFlight
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *b.traceMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *b.traceMinAge
		}
	})
	if args := b.fs.Args(); len(args) > 0 {
		cfg.Paths = args
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		err = yaml.Unmarshal(data, cfg)
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	return nil
}

func (cfg *Config) normalize() {
	if alg, err := hasher.ParseAlgorithm(cfg.Algorithm); err == nil {
		cfg.Algorithm = string(alg)
	}
	cfg.ReadMode = strings.ToLower(strings.TrimSpace(cfg.ReadMode))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.Extensions = normalizeExtensions(cfg.Extensions)
	cfg.ExcludePatterns = dropEmpty(cfg.ExcludePatterns)
	cfg.Paths = dropEmpty(cfg.Paths)

	if cfg.ReadMode == "" {
		cfg.ReadMode = hasher.ReadModeAuto
	}
	if cfg.Strategy == "" {
		cfg.Strategy = string(actions.StrategyRecycle)
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.Verbose && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	if cfg.Silent && !cfg.Verbose {
		cfg.LogLevel = "warn"
	}
	if cfg.DryRun {
		cfg.Apply = true
	}
	if cfg.Apply {
		cfg.Resolve = true
	}
	if cfg.Strategy == string(actions.StrategyQuarantine) && cfg.QuarantineDir != "" {
		if abs, err := filepath.Abs(cfg.QuarantineDir); err == nil {
			cfg.QuarantineDir = abs
		}
	}
	adjustConcurrency(cfg)
}

// adjustConcurrency derives the worker count from the nice level unless
// one was set explicitly.
func adjustConcurrency(cfg *Config) {
	if cfg.ConcurrencySet {
		return
	}
	numCPU := logicalCPUs()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "low":
		cfg.ConcurrencyLevel = 1
	default:
		cfg.ConcurrencyLevel = numCPU / 2
	}
	if cfg.ConcurrencyLevel < 1 {
		cfg.ConcurrencyLevel = 1
	}
}

func (cfg *Config) validate() error {
	if _, err := hasher.ParseAlgorithm(cfg.Algorithm); err != nil {
		return err
	}
	if cfg.ReadMode != hasher.ReadModeAuto && cfg.ReadMode != hasher.ReadModeStream && cfg.ReadMode != hasher.ReadModeMmap {
		return fmt.Errorf("invalid read-mode value: %s", cfg.ReadMode)
	}
	if _, err := actions.ParseStrategy(cfg.Strategy); err != nil {
		return err
	}
	if cfg.Strategy == string(actions.StrategyQuarantine) && cfg.QuarantineDir == "" {
		return fmt.Errorf("the quarantine strategy requires -quarantine-dir")
	}
	if cfg.MinSize < 0 {
		return fmt.Errorf("min-size must be zero or positive")
	}
	if cfg.MaxSize < 0 {
		return fmt.Errorf("max-size must be zero or positive")
	}
	if cfg.MaxSize > 0 && cfg.MaxSize < cfg.MinSize {
		return fmt.Errorf("max-size must not be smaller than min-size")
	}
	if cfg.MaxResults < 0 {
		return fmt.Errorf("max-results must be zero or positive")
	}
	if cfg.MmapMinSize < 0 {
		return fmt.Errorf("mmap-min-size must be zero or positive")
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	for _, pattern := range append(append(append([]string{}, cfg.IncludeGlobs...), cfg.ExcludeGlobs...), cfg.ProtectGlobs...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern %q: %v", pattern, err)
		}
	}
	if cfg.DiagSlowScanThreshold < 0 {
		return fmt.Errorf("diag-slow-scan-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.ExportPath != "" {
		switch strings.ToLower(filepath.Ext(cfg.ExportPath)) {
		case ".json", ".csv", ".txt":
		default:
			return fmt.Errorf("unsupported export format: %s (use .json, .csv or .txt)", cfg.ExportPath)
		}
	}
	return nil
}

func algorithmList() string {
	names := make([]string, 0, len(hasher.Algorithms()))
	for _, a := range hasher.Algorithms() {
		names = append(names, strings.ToLower(string(a)))
	}
	return strings.Join(names, ", ")
}

// SplitList parses a comma-separated flag value.
func SplitList(input string) []string {
	return parseCommaSeparated(input)
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return dropEmpty(items)
}

// normalizeExtensions lowercases extensions and adds the leading dot.
func normalizeExtensions(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range dropEmpty(items) {
		item = strings.ToLower(item)
		if !strings.HasPrefix(item, ".") {
			item = "." + item
		}
		out = append(out, item)
	}
	return out
}

func dropEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
