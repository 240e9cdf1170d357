package output

import (
	"fmt"
	"io"
	"strings"

	"dupfinder/actions"
	"dupfinder/scanner"
	"dupfinder/utils"
)

const (
	rule         = "================================================================================"
	previewFiles = 3
	hashPreview  = 16
)

// PrintSummary writes the scan totals.
func PrintSummary(w io.Writer, r Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SCAN RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Duration:          %s\n", formatMillis(r.DurationMillis))
	fmt.Fprintf(w, "Files analyzed:    %d\n", r.FilesScanned)
	fmt.Fprintf(w, "Files hashed:      %d\n", r.FilesHashed)
	if r.HashFailures > 0 {
		fmt.Fprintf(w, "Hash failures:     %d\n", r.HashFailures)
	}
	fmt.Fprintf(w, "Duplicate groups:  %d\n", r.GroupsFound)
	fmt.Fprintf(w, "Duplicate files:   %d\n", r.DuplicateFiles)
	fmt.Fprintf(w, "Wasted space:      %s\n", utils.FormatSize(r.BytesWasted))
	if r.ScanID > 0 {
		fmt.Fprintf(w, "Scan ID:           %d\n", r.ScanID)
	}
}

// PrintGroups lists at most maxResults groups. Without verbose only the
// first few members of each group are shown.
func PrintGroups(w io.Writer, r Report, maxResults int, verbose bool) {
	if len(r.Groups) == 0 {
		fmt.Fprintln(w, "No duplicates found.")
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DUPLICATES")
	fmt.Fprintln(w, rule)

	show := len(r.Groups)
	if maxResults > 0 && maxResults < show {
		show = maxResults
	}
	for i, g := range r.Groups[:show] {
		fmt.Fprintf(w, "\nGroup %d/%d - %d files - %s wasted\n", i+1, len(r.Groups), g.FileCount, utils.FormatSize(g.BytesWasted))
		fmt.Fprintf(w, "  size %s each, %s\n", utils.FormatSize(g.FileSize), shortHash(g.Fingerprint))
		files := g.Files
		if !verbose && len(files) > previewFiles {
			files = files[:previewFiles]
		}
		for _, f := range files {
			fmt.Fprintf(w, "    %s\n", describeFile(f, verbose))
		}
		if len(files) < len(g.Files) {
			fmt.Fprintf(w, "    ... and %d more file(s)\n", len(g.Files)-len(files))
		}
	}
	if show < len(r.Groups) {
		fmt.Fprintf(w, "\n... and %d more duplicate groups (raise -max-results or use -verbose).\n", len(r.Groups)-show)
	}
}

// PrintPlan shows the assigned actions before execution.
func PrintPlan(w io.Writer, p actions.Plan) {
	rows := p.Rows()
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PLANNED ACTIONS")
	fmt.Fprintln(w, rule)
	for _, row := range rows {
		fmt.Fprintf(w, "%-12s %d\n", row.Action, row.Files)
	}
	fmt.Fprintf(w, "Space to free: %s\n", utils.FormatSize(p.BytesToFree))
}

// PrintExecution shows how an execution pass went.
func PrintExecution(w io.Writer, rep actions.Report, dryRun bool) {
	label := "EXECUTION"
	if dryRun {
		label = "EXECUTION (dry run)"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, label)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Succeeded: %d  Failed: %d  Skipped: %d", rep.Succeeded, rep.Failed, rep.Skipped)
	if rep.Fallbacks > 0 {
		fmt.Fprintf(w, "  Recycle fallbacks: %d", rep.Fallbacks)
	}
	fmt.Fprintln(w)
	if !dryRun {
		fmt.Fprintf(w, "Space freed: %s\n", utils.FormatSize(rep.BytesFreed))
	}
}

func describeFile(f scanner.Record, verbose bool) string {
	var b strings.Builder
	if f.Action != scanner.ActionNone {
		fmt.Fprintf(&b, "[%s] ", f.Action)
	}
	b.WriteString(f.Path)
	if verbose {
		fmt.Fprintf(&b, " (%s, %s", f.Location, f.Priority)
		if f.Reason != "" {
			fmt.Fprintf(&b, ", %s", f.Reason)
		}
		b.WriteString(")")
	}
	return b.String()
}

func shortHash(fp string) string {
	alg, digest, ok := strings.Cut(fp, ":")
	if !ok || len(digest) <= hashPreview {
		return fp
	}
	return alg + ":" + digest[:hashPreview] + "..."
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
