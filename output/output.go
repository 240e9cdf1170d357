// Package output renders duplicate reports: JSON, CSV and text exports,
// console listings, and optional OTLP log records.
package output

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dupfinder/actions"
	"dupfinder/duplicates"
	"dupfinder/hasher"
	"dupfinder/scanner"
	"dupfinder/utils"

	"github.com/h2non/filetype"
)

const SchemaVersion = "1.0"

var ErrUnsupportedFormat = errors.New("unsupported export format (use .json, .csv or .txt)")

var csvHeader = []string{"Hash", "GroupSize", "FileSize", "BytesWasted", "FullPath", "Directory", "FileName", "Action", "Reason"}

// Meta describes the scan a report was produced from.
type Meta struct {
	ScanID      int64
	GeneratedAt time.Time
	Directory   string
	Algorithm   hasher.Algorithm
	Hostname    string
}

type GroupRecord struct {
	Fingerprint string           `json:"fingerprint"`
	FileCount   int              `json:"file_count"`
	FileSize    int64            `json:"file_size"`
	BytesWasted int64            `json:"bytes_wasted"`
	Files       []scanner.Record `json:"files"`
}

// KindStat aggregates duplicate files by MIME type.
type KindStat struct {
	MimeType    string `json:"mime_type"`
	Files       int    `json:"files"`
	Bytes       int64  `json:"bytes"`
	BytesWasted int64  `json:"bytes_wasted"`
}

type ActionStat struct {
	Action scanner.Action `json:"action"`
	Files  int            `json:"files"`
}

type Report struct {
	SchemaVersion  string        `json:"schema_version"`
	ScanID         int64         `json:"scan_id,omitempty"`
	GeneratedAt    time.Time     `json:"generated_at"`
	Directory      string        `json:"directory"`
	Algorithm      string        `json:"algorithm"`
	Hostname       string        `json:"hostname,omitempty"`
	FilesScanned   int           `json:"files_scanned"`
	Candidates     int           `json:"candidates"`
	FilesHashed    int           `json:"files_hashed"`
	HashFailures   int           `json:"hash_failures"`
	DuplicateFiles int           `json:"duplicate_files"`
	GroupsFound    int           `json:"groups_found"`
	BytesWasted    int64         `json:"bytes_wasted"`
	BytesToFree    int64         `json:"bytes_to_free,omitempty"`
	DurationMillis int64         `json:"duration_ms"`
	Actions        []ActionStat  `json:"actions,omitempty"`
	Kinds          []KindStat    `json:"kinds,omitempty"`
	Groups         []GroupRecord `json:"groups"`
}

// NewReport snapshots a grouping result. Action counts are included only
// when at least one member has an action assigned.
func NewReport(meta Meta, res *duplicates.Result) Report {
	r := Report{
		SchemaVersion: SchemaVersion,
		ScanID:        meta.ScanID,
		GeneratedAt:   meta.GeneratedAt,
		Directory:     meta.Directory,
		Algorithm:     string(meta.Algorithm),
		Hostname:      meta.Hostname,
		Groups:        []GroupRecord{},
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	if res == nil {
		return r
	}
	r.FilesScanned = res.FilesScanned
	r.Candidates = res.Candidates
	r.FilesHashed = res.FilesHashed
	r.HashFailures = len(res.HashFailures)
	r.DuplicateFiles = res.DuplicateFiles
	r.GroupsFound = res.GroupsFound()
	r.BytesWasted = res.BytesWasted
	r.DurationMillis = res.Duration.Milliseconds()

	var members []*scanner.FileDescriptor
	for _, g := range res.Groups {
		files := g.Files()
		rec := GroupRecord{
			Fingerprint: g.Fingerprint().String(),
			FileCount:   g.Count(),
			FileSize:    g.Size(),
			BytesWasted: g.BytesWasted(),
			Files:       make([]scanner.Record, 0, len(files)),
		}
		for _, d := range files {
			rec.Files = append(rec.Files, d.Record())
		}
		r.Groups = append(r.Groups, rec)
		members = append(members, files...)
	}

	plan := actions.Summarize(members)
	if len(plan.Counts) > 1 || plan.Counts[scanner.ActionNone] == 0 {
		for _, row := range plan.Rows() {
			r.Actions = append(r.Actions, ActionStat{Action: row.Action, Files: row.Files})
		}
		r.BytesToFree = plan.BytesToFree
	}
	r.Kinds = KindStats(r.Groups)
	return r
}

// KindStats counts group members per MIME type. Files without a sniffed
// type are classified by extension; the rest fall under "unknown".
func KindStats(groups []GroupRecord) []KindStat {
	byMime := make(map[string]*KindStat)
	for _, g := range groups {
		for i, f := range g.Files {
			mime := mimeOf(f)
			st, ok := byMime[mime]
			if !ok {
				st = &KindStat{MimeType: mime}
				byMime[mime] = st
			}
			st.Files++
			st.Bytes += f.Size
			if i > 0 {
				st.BytesWasted += f.Size
			}
		}
	}
	out := make([]KindStat, 0, len(byMime))
	for _, st := range byMime {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BytesWasted != out[j].BytesWasted {
			return out[i].BytesWasted > out[j].BytesWasted
		}
		return out[i].MimeType < out[j].MimeType
	})
	return out
}

func mimeOf(f scanner.Record) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
	if ext != "" {
		if kind := filetype.GetType(ext); kind != filetype.Unknown && kind.MIME.Value != "" {
			return kind.MIME.Value
		}
	}
	return "unknown"
}

// Export writes r to path, choosing the format from the extension.
func Export(path string, r Report) (err error) {
	var write func(io.Writer, Report) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		write = WriteJSON
	case ".csv":
		write = WriteCSV
	case ".txt":
		write = WriteText
	default:
		return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	buf := bufio.NewWriterSize(f, 1024*1024)
	if err := write(buf, r); err != nil {
		return err
	}
	return buf.Flush()
}

func WriteJSON(w io.Writer, r Report) error {
	return encodeJSON(w, r, true)
}

// WriteCSV writes one row per group member.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, g := range r.Groups {
		count := strconv.Itoa(g.FileCount)
		size := strconv.FormatInt(g.FileSize, 10)
		wasted := strconv.FormatInt(g.BytesWasted, 10)
		for _, f := range g.Files {
			action := ""
			if f.Action != scanner.ActionNone {
				action = f.Action.String()
			}
			row := []string{g.Fingerprint, count, size, wasted, f.Path, f.Directory, f.Name, action, f.Reason}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteText(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "DUPLICATE FILE REPORT")
	fmt.Fprintf(bw, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	if r.Directory != "" {
		fmt.Fprintf(bw, "Directory: %s\n", r.Directory)
	}
	fmt.Fprintf(bw, "Files scanned: %d  Groups: %d  Wasted: %s\n",
		r.FilesScanned, r.GroupsFound, utils.FormatSize(r.BytesWasted))
	fmt.Fprintln(bw, strings.Repeat("=", 80))
	for i, g := range r.Groups {
		fmt.Fprintf(bw, "\nGroup %d - %d files - %s wasted\n", i+1, g.FileCount, utils.FormatSize(g.BytesWasted))
		fmt.Fprintf(bw, "Size: %s each\n", utils.FormatSize(g.FileSize))
		fmt.Fprintf(bw, "Hash: %s\n", g.Fingerprint)
		for _, f := range g.Files {
			if f.Action == scanner.ActionNone {
				fmt.Fprintf(bw, "  %s\n", f.Path)
				continue
			}
			fmt.Fprintf(bw, "  [%s] %s", f.Action, f.Path)
			if f.Reason != "" {
				fmt.Fprintf(bw, " (%s)", f.Reason)
			}
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}

var outcomeHeader = []string{"Path", "Action", "Success", "DryRun", "AlreadyExecuted", "Fallback", "ElapsedMs", "Error"}

// WriteOutcomes writes an execution report as CSV, one row per outcome.
func WriteOutcomes(w io.Writer, outcomes []actions.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(outcomeHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		path := ""
		if o.File != nil {
			path = o.File.Path()
		}
		row := []string{
			path,
			o.Action.String(),
			strconv.FormatBool(o.Success),
			strconv.FormatBool(o.DryRun),
			strconv.FormatBool(o.AlreadyExecuted),
			strconv.FormatBool(o.Fallback),
			strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
			o.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
