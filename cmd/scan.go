package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"dupfinder/actions"
	"dupfinder/classify"
	"dupfinder/config"
	"dupfinder/diag"
	"dupfinder/duplicates"
	"dupfinder/hasher"
	"dupfinder/logger"
	"dupfinder/output"
	"dupfinder/scanner"
	"dupfinder/store"
	"dupfinder/systeminfo"
	"dupfinder/tracing"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type scanCmd struct {
	binder *config.Binder
}

func (*scanCmd) Name() string     { return "scan" }
func (*scanCmd) Synopsis() string { return "Find duplicate files below one or more directories" }
func (*scanCmd) Usage() string {
	return `scan [flags] <directory>...:
  Scan directories for duplicate files, assign an action to every copy,
  and optionally apply those actions (-apply, -dry-run).
`
}

func (c *scanCmd) SetFlags(f *flag.FlagSet) {
	c.binder = config.Bind(f)
}

func (c *scanCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := c.binder.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitUsageError
	}
	if len(cfg.Paths) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	log := logger.New(cfg.LogLevel)
	if _, err := runScan(ctx, cfg, log, os.Stdout); err != nil {
		log.Errorf("Scan failed: %v", err)
		return subcommands.ExitFailure
	}
	log.Info("Scanning completed successfully.")
	return subcommands.ExitSuccess
}

// pipelineState feeds the stall watcher.
type pipelineState struct {
	progress atomic.Int64
	stage    atomic.Value
}

func (p *pipelineState) setStage(name string) { p.stage.Store(name) }

func (p *pipelineState) Stage() string {
	s, _ := p.stage.Load().(string)
	return s
}

func (p *pipelineState) Progress() int64 { return p.progress.Load() }

// runScan executes one full scan and returns the report it printed.
func runScan(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, stdout io.Writer) (output.Report, error) {
	if cfg.TraceFile != "" {
		if err := tracing.Start(cfg.TraceFile); err != nil {
			if errors.Is(err, tracing.ErrNotCompiled) {
				log.Warn("Runtime tracing requested but this binary was built without the trace tag")
			} else {
				log.Warnf("Failed to start trace: %v", err)
			}
		} else {
			defer tracing.Stop()
		}
	}
	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			log.Warnf("Failed to start flight recorder: %v", err)
		} else {
			setFlightDumpPath(filepath.Join(cfg.DiagDir, "dupfinder-flight-interrupt.out"))
			defer func() {
				setFlightDumpPath("")
				tracing.StopFlightRecorder()
			}()
		}
	}

	ctx, endTask := tracing.StartTask(ctx, "scan")
	defer endTask()

	exporter, err := output.NewOtelExporter(output.OtelConfig{
		Endpoint:    cfg.OtelEndpoint,
		FromEnv:     cfg.OtelFromEnv,
		Headers:     cfg.OtelHeaders,
		Timeout:     cfg.OtelTimeout,
		ServiceName: cfg.OtelServiceName,
		ExportPaths: cfg.OtelExportPaths,
	}, log)
	if err != nil {
		return output.Report{}, err
	}
	defer exporter.Shutdown()

	started := time.Now()
	host := systeminfo.Host(ctx)
	var volumes classify.VolumeResolver
	if table, err := systeminfo.LoadVolumes(ctx, log); err != nil {
		log.Warnf("Failed to read mounted volumes: %v", err)
	} else {
		volumes = table
	}
	classifier := classify.New(classify.DefaultEnvironment(volumes))

	state := &pipelineState{}
	state.setStage("discover")
	diagOpts := diag.Options{
		StallThreshold: cfg.DiagSlowScanThreshold,
		Dir:            cfg.DiagDir,
		GoroutineLeak:  cfg.DiagGoroutineLeak,
		Progress:       state.Progress,
		Stage:          state.Stage,
		Logger:         log,
	}
	if cfg.TraceFlight {
		diagOpts.DumpFlightRecorder = tracing.WriteFlightRecorder
	}
	watcher := diag.NewController(diagOpts)
	watcher.Start(ctx)
	defer watcher.Close()

	paths, err := scanner.Discover(ctx, scanner.DiscoverOptions{
		Roots:             cfg.Paths,
		Extensions:        cfg.Extensions,
		ExcludeSubstrings: cfg.ExcludePatterns,
		IncludeGlobs:      cfg.IncludeGlobs,
		ExcludeGlobs:      cfg.ExcludeGlobs,
		MinSize:           cfg.MinSize,
		MaxSize:           cfg.MaxSize,
		IncludeHidden:     cfg.IncludeHidden,
	}, log)
	if err != nil {
		return output.Report{}, err
	}
	log.Infof("Files to examine: %d", len(paths))

	state.setStage("build")
	buildBar := newProgressBar(len(paths), "Reading files", cfg.Silent)
	builder := scanner.NewBuilder(classifier, scanner.BuildOptions{
		Concurrency:     cfg.ConcurrencyLevel,
		DetectMimeType:  cfg.DetectMime,
		ProtectReadOnly: cfg.ProtectReadOnly,
		ProtectGlobs:    cfg.ProtectGlobs,
		OnProgress: func() {
			state.progress.Add(1)
			_ = buildBar.Add(1)
		},
	}, log)
	descriptors, failures, err := builder.Build(ctx, paths)
	_ = buildBar.Finish()
	if err != nil {
		return output.Report{}, err
	}
	for _, failure := range failures {
		log.Warnf("Skipping file: %v", failure)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return output.Report{}, err
	}

	state.setStage("hash")
	hashBar := newProgressBar(-1, "Hashing candidates", cfg.Silent)
	grouper := duplicates.NewGrouper(engine, duplicates.Options{
		Concurrency: cfg.ConcurrencyLevel,
		QuickCheck:  cfg.QuickCheck,
		OnHashed: func() {
			state.progress.Add(1)
			_ = hashBar.Add(1)
		},
	}, log)
	res, err := grouper.Group(ctx, descriptors)
	_ = hashBar.Finish()
	if err != nil {
		return output.Report{}, err
	}
	for _, failure := range res.HashFailures {
		log.Warnf("Could not hash file: %v", failure)
	}
	log.WithFields(logrus.Fields{
		"groups":       res.GroupsFound(),
		"duplicates":   res.DuplicateFiles,
		"bytes_wasted": res.BytesWasted,
	}).Info("duplicate detection finished")

	state.setStage("resolve")
	if err := resolveAndApply(ctx, cfg, res.Groups, exporter, log, stdout); err != nil {
		return output.Report{}, err
	}

	var scanID int64
	if !cfg.NoSave {
		state.setStage("save")
		scanID, err = saveScan(ctx, cfg, store.ScanInput{
			ScanDate:  started,
			Directory: strings.Join(cfg.Paths, string(os.PathListSeparator)),
			Algorithm: engine.Algorithm(),
			Hostname:  host.Hostname,
			OS:        host.OS,
			Result:    res,
		}, log)
		if err != nil {
			log.Errorf("Failed to save scan: %v", err)
		}
	}

	state.setStage("report")
	report := output.NewReport(output.Meta{
		ScanID:      scanID,
		GeneratedAt: time.Now().UTC(),
		Directory:   strings.Join(cfg.Paths, string(os.PathListSeparator)),
		Algorithm:   engine.Algorithm(),
		Hostname:    host.Hostname,
	}, res)
	if err := presentReport(cfg, report, exporter, log, stdout); err != nil {
		return report, err
	}
	return report, nil
}

func newEngine(cfg *config.Config) (*hasher.Engine, error) {
	var limiter *rate.Limiter
	if cfg.MaxIOPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}
	return hasher.New(hasher.Options{
		Algorithm:   hasher.Algorithm(cfg.Algorithm),
		ReadMode:    cfg.ReadMode,
		MmapMinSize: cfg.MmapMinSize,
		Limiter:     limiter,
	})
}

func groupMembers(groups []*duplicates.Group) []*scanner.FileDescriptor {
	var files []*scanner.FileDescriptor
	for _, g := range groups {
		files = append(files, g.Files()...)
	}
	return files
}

// resolveAndApply assigns actions when enabled, prints the plan, and then
// executes it when -apply (or -dry-run) is set.
func resolveAndApply(ctx context.Context, cfg *config.Config, groups []*duplicates.Group, exporter *output.OtelExporter, log logrus.FieldLogger, stdout io.Writer) error {
	if !cfg.Resolve || len(groups) == 0 {
		return nil
	}
	resolver, err := actions.NewResolver(actions.ResolverOptions{
		Strategy:      actions.Strategy(cfg.Strategy),
		QuarantineDir: cfg.QuarantineDir,
	}, log)
	if err != nil {
		return err
	}
	if err := resolver.Resolve(groups); err != nil {
		return err
	}
	members := groupMembers(groups)
	if !cfg.Silent {
		output.PrintPlan(stdout, actions.Summarize(members))
	}
	if !cfg.Apply {
		return nil
	}

	executor := actions.NewExecutor(actions.ExecutorOptions{}, log)
	outcomes, execErr := executor.Execute(ctx, members, cfg.DryRun)
	output.PrintExecution(stdout, actions.Tally(outcomes), cfg.DryRun)
	if cfg.OutcomesPath != "" {
		if err := writeOutcomesFile(cfg.OutcomesPath, outcomes); err != nil {
			log.Errorf("Failed to write outcomes: %v", err)
		} else {
			log.Infof("Action outcomes written to %s", cfg.OutcomesPath)
		}
	}
	exporter.EmitOutcomes(outcomes)
	return execErr
}

func writeOutcomesFile(path string, outcomes []actions.Outcome) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := output.WriteOutcomes(w, outcomes); err != nil {
		return err
	}
	return w.Flush()
}

func saveScan(ctx context.Context, cfg *config.Config, in store.ScanInput, log logrus.FieldLogger) (int64, error) {
	db, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	id, err := db.SaveScan(ctx, in)
	if err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{"scan_id": id, "db": cfg.DatabasePath}).Info("scan saved")
	return id, nil
}

func presentReport(cfg *config.Config, report output.Report, exporter *output.OtelExporter, log logrus.FieldLogger, stdout io.Writer) error {
	output.PrintSummary(stdout, report)
	if !cfg.Silent {
		output.PrintGroups(stdout, report, cfg.MaxResults, cfg.Verbose)
	}
	exporter.EmitReport(report)
	if cfg.ExportPath == "" {
		return nil
	}
	if err := output.Export(cfg.ExportPath, report); err != nil {
		return fmt.Errorf("export results: %w", err)
	}
	log.Infof("Results exported to %s", cfg.ExportPath)
	return nil
}
