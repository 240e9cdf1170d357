package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"dupfinder/logger"
	"dupfinder/store"
	"dupfinder/utils"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 20

type listCmd struct {
	dbPath     string
	dir        string
	limit      int
	top        int
	extensions bool
	logLevel   string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "List stored scans and duplicate statistics" }
func (*listCmd) Usage() string {
	return `list [-db <database>] [-dir <fragment>] [-top N] [-extensions]:
  List recent scans, optionally filtered by directory, along with the
  largest stored duplicate groups and per-extension totals.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dbPath, "db", "duplicates.db", "SQLite database for scan history.")
	f.StringVar(&c.dir, "dir", "", "Only list scans whose directory contains this text.")
	f.IntVar(&c.limit, "limit", defaultHistoryLimit, "Maximum scans to list.")
	f.IntVar(&c.top, "top", 10, "Show the N groups wasting the most space (0 to skip).")
	f.BoolVar(&c.extensions, "extensions", false, "Show duplicate totals by file extension.")
	f.StringVar(&c.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error, fatal, panic.")
}

func (c *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := logger.New(c.logLevel)
	if _, err := os.Stat(c.dbPath); err != nil {
		log.Errorf("No scan database at %s", c.dbPath)
		return subcommands.ExitFailure
	}
	db, err := store.Open(c.dbPath, log)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if err := c.run(ctx, db, os.Stdout); err != nil {
		log.Errorf("List failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *listCmd) run(ctx context.Context, db *store.Store, w io.Writer) error {
	var (
		scans []store.Scan
		err   error
	)
	if c.dir != "" {
		scans, err = db.FindScansByDirectory(ctx, c.dir)
	} else {
		scans, err = db.ListScans(ctx)
	}
	if err != nil {
		return err
	}
	printScans(w, scans, c.limit)

	if c.top > 0 {
		groups, err := db.LargestWasteGroups(ctx, c.top)
		if err != nil {
			return err
		}
		printWasteGroups(w, groups)
	}
	if c.extensions {
		stats, err := db.ExtensionStats(ctx)
		if err != nil {
			return err
		}
		printExtensionStats(w, stats)
	}
	return nil
}

func printScans(w io.Writer, scans []store.Scan, limit int) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}
	shown := scans
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	fmt.Fprintf(w, "%-6s %-19s %-8s %8s %7s %10s  %s\n", "ID", "Date", "Hash", "Files", "Groups", "Wasted", "Directory")
	for _, sc := range shown {
		fmt.Fprintf(w, "%-6d %-19s %-8s %8d %7d %10s  %s\n",
			sc.ID,
			sc.ScanDate.Local().Format("2006-01-02 15:04:05"),
			sc.Algorithm,
			sc.TotalFiles,
			sc.DuplicateGroups,
			utils.FormatSize(sc.BytesWasted),
			utils.Truncate(sc.Directory, 60),
		)
	}
	if len(scans) > len(shown) {
		fmt.Fprintf(w, "... and %d older scans\n", len(scans)-len(shown))
	}
}

func printWasteGroups(w io.Writer, groups []store.GroupSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Largest duplicate groups:")
	if len(groups) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, g := range groups {
		fmt.Fprintf(w, "  scan %d  %d x %s  %s wasted  %s\n",
			g.ScanID, g.FileCount, utils.FormatSize(g.FileSize), utils.FormatSize(g.BytesWasted), shortFingerprint(g.Fingerprint))
	}
}

func printExtensionStats(w io.Writer, stats []store.ExtensionStat) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Duplicate files by extension:")
	if len(stats) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, st := range stats {
		ext := st.Extension
		if ext == "" {
			ext = "(none)"
		}
		fmt.Fprintf(w, "  %-10s %8d files  %10s\n", ext, st.Files, utils.FormatSize(st.Bytes))
	}
}

// shortFingerprint keeps the algorithm prefix and the first 16 hex digits.
func shortFingerprint(fp string) string {
	return utils.Truncate(fp, 30)
}

type forgetCmd struct {
	dbPath string
}

func (*forgetCmd) Name() string     { return "forget" }
func (*forgetCmd) Synopsis() string { return "Delete a stored scan" }
func (*forgetCmd) Usage() string {
	return `forget [-db <database>] <scan-id>...:
  Remove scans and their duplicate groups from the database.
`
}

func (c *forgetCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dbPath, "db", "duplicates.db", "SQLite database for scan history.")
}

func (c *forgetCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	log := logger.New("info")
	db, err := store.Open(c.dbPath, log)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		if err := forgetScan(ctx, db, arg, log); err != nil {
			log.Errorf("%v", err)
			status = subcommands.ExitFailure
		}
	}
	return status
}

func forgetScan(ctx context.Context, db *store.Store, arg string, log logrus.FieldLogger) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid scan id %q", arg)
	}
	if err := db.DeleteScan(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("scan %d does not exist", id)
		}
		return err
	}
	log.WithField("scan_id", id).Info("scan deleted")
	return nil
}
