package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"dupfinder/actions"
	"dupfinder/classify"
	"dupfinder/config"
	"dupfinder/duplicates"
	"dupfinder/hasher"
	"dupfinder/logger"
	"dupfinder/output"
	"dupfinder/scanner"
	"dupfinder/store"
	"dupfinder/systeminfo"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

type loadCmd struct {
	dbPath          string
	verify          bool
	resolve         bool
	apply           bool
	dryRun          bool
	strategy        string
	quarantineDir   string
	protectReadOnly bool
	protectGlobs    string
	exportPath      string
	outcomesPath    string
	maxResults      int
	verbose         bool
	logLevel        string
}

func (*loadCmd) Name() string     { return "load" }
func (*loadCmd) Synopsis() string { return "Reload a stored scan and act on it" }
func (*loadCmd) Usage() string {
	return `load [flags] <scan-id>:
  Reload the duplicate groups of a stored scan. Files that were deleted or
  changed size since the scan are dropped. Files modified since the scan
  are rehashed, and -verify or -apply rehashes all of them. Files that were
  protected at scan time stay protected.
`
}

func (c *loadCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dbPath, "db", "duplicates.db", "SQLite database for scan history.")
	f.BoolVar(&c.verify, "verify", false, "Rehash files instead of trusting stored fingerprints.")
	f.BoolVar(&c.resolve, "resolve", true, "Assign an action to every duplicate.")
	f.BoolVar(&c.apply, "apply", false, "Execute the assigned actions.")
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what -apply would do without touching files.")
	f.StringVar(&c.strategy, "strategy", string(actions.StrategyRecycle), "Action for plain duplicates: recycle, quarantine, link, or review.")
	f.StringVar(&c.quarantineDir, "quarantine-dir", "", "Destination for the quarantine strategy.")
	f.BoolVar(&c.protectReadOnly, "protect-read-only", false, "Never assign destructive actions to read-only files.")
	f.StringVar(&c.protectGlobs, "protect", "", "Comma-separated glob patterns of files that are never removed.")
	f.StringVar(&c.exportPath, "export", "", "Export results to a .json, .csv or .txt file.")
	f.StringVar(&c.outcomesPath, "outcomes", "", "Write per-file action outcomes to this CSV file.")
	f.IntVar(&c.maxResults, "max-results", 50, "Maximum groups to display.")
	f.BoolVar(&c.verbose, "verbose", false, "Print every file of every group.")
	f.StringVar(&c.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error, fatal, panic.")
}

// config maps load flags onto the subset of Config that resolution,
// execution and reporting read.
func (c *loadCmd) config() (*config.Config, error) {
	strategy, err := actions.ParseStrategy(c.strategy)
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	cfg.Resolve = c.resolve || c.apply || c.dryRun
	cfg.Apply = c.apply || c.dryRun
	cfg.DryRun = c.dryRun
	cfg.Strategy = string(strategy)
	cfg.QuarantineDir = c.quarantineDir
	cfg.ProtectReadOnly = c.protectReadOnly
	cfg.ProtectGlobs = config.SplitList(c.protectGlobs)
	cfg.ExportPath = c.exportPath
	cfg.OutcomesPath = c.outcomesPath
	cfg.MaxResults = c.maxResults
	cfg.Verbose = c.verbose
	cfg.LogLevel = c.logLevel
	return cfg, nil
}

func (c *loadCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	id, err := strconv.ParseInt(f.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid scan id %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	cfg, err := c.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitUsageError
	}

	log := logger.New(cfg.LogLevel)
	db, err := store.Open(c.dbPath, log)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if _, err := runLoad(ctx, db, id, c.verify, cfg, log, os.Stdout); err != nil {
		log.Errorf("Load failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runLoad rebuilds the groups of a stored scan from the files still on
// disk, regroups them, and then resolves, applies and reports like a
// fresh scan. Stored fingerprints are never trusted when actions will
// really be executed.
func runLoad(ctx context.Context, db *store.Store, id int64, verify bool, cfg *config.Config, log logrus.FieldLogger, stdout io.Writer) (output.Report, error) {
	rehash := verify || (cfg.Apply && !cfg.DryRun)
	sc, err := db.GetScan(ctx, id)
	if err != nil {
		return output.Report{}, err
	}
	stored, err := db.LoadGroups(ctx, id)
	if err != nil {
		return output.Report{}, err
	}

	var volumes classify.VolumeResolver
	if table, err := systeminfo.LoadVolumes(ctx, log); err != nil {
		log.Warnf("Failed to read mounted volumes: %v", err)
	} else {
		volumes = table
	}
	builder := scanner.NewBuilder(classify.New(classify.DefaultEnvironment(volumes)), scanner.BuildOptions{
		ProtectReadOnly: cfg.ProtectReadOnly,
		ProtectGlobs:    cfg.ProtectGlobs,
	}, log)
	descriptors, dropped := refreshMembers(builder, stored, rehash, log)
	if dropped > 0 {
		log.Infof("%d stored files are gone or changed size and were dropped", dropped)
	}

	engine, err := hasher.New(hasher.Options{Algorithm: sc.Algorithm})
	if err != nil {
		return output.Report{}, err
	}
	grouper := duplicates.NewGrouper(engine, duplicates.Options{QuickCheck: rehash}, log)
	res, err := grouper.Group(ctx, descriptors)
	if err != nil {
		return output.Report{}, err
	}
	for _, failure := range res.HashFailures {
		log.Warnf("Could not hash file: %v", failure)
	}

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

	if err := resolveAndApply(ctx, cfg, res.Groups, exporter, log, stdout); err != nil {
		return output.Report{}, err
	}

	report := output.NewReport(output.Meta{
		ScanID:      sc.ID,
		GeneratedAt: time.Now().UTC(),
		Directory:   sc.Directory,
		Algorithm:   sc.Algorithm,
		Hostname:    sc.Hostname,
	}, res)
	if err := presentReport(cfg, report, exporter, log, stdout); err != nil {
		return report, err
	}
	return report, nil
}

// refreshMembers rebuilds every stored member that still exists with its
// recorded size. Protection recorded at scan time is carried over. Unless
// rehash is set, the stored fingerprint of a file whose modification time
// is unchanged is restored so regrouping does not read its contents.
func refreshMembers(builder *scanner.Builder, groups []*duplicates.Group, rehash bool, log logrus.FieldLogger) ([]*scanner.FileDescriptor, int) {
	var (
		out     []*scanner.FileDescriptor
		dropped int
	)
	for _, g := range groups {
		for _, old := range g.Files() {
			d, err := builder.BuildOne(old.Path())
			if err != nil || d.Size() != old.Size() {
				log.WithField("path", old.Path()).Debug("stored file no longer matches")
				dropped++
				continue
			}
			if old.IsProtected() {
				_ = d.SetProtected(true)
			}
			if !rehash && sameModTime(old.ModTime(), d.ModTime()) {
				if fp, ok := old.Fingerprint(); ok {
					if err := d.RestoreFingerprint(fp); err != nil {
						dropped++
						continue
					}
				}
			}
			out = append(out, d)
		}
	}
	return out, dropped
}

// sameModTime compares at the millisecond precision the store keeps. An
// unknown stored time never matches.
func sameModTime(stored, current time.Time) bool {
	if stored.IsZero() {
		return false
	}
	return stored.UnixMilli() == current.UnixMilli()
}
