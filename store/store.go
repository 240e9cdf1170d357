// Package store persists scan results to SQLite and reads them back for
// listing, reporting, and reloading.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dupfinder/classify"
	"dupfinder/duplicates"
	"dupfinder/hasher"
	"dupfinder/logger"
	"dupfinder/scanner"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("scan not found")

// Store is a handle on a scan database. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open creates the database file and its directory when missing and brings
// the schema up to date.
func Open(dbPath string, log logrus.FieldLogger) (*Store, error) {
	log = logger.OrDiscard(log)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if needsMigration(db) {
		log.WithField("path", dbPath).Info("running database migrations")
		if err := runMigrations(dbPath); err != nil {
			db.Close()
			return nil, err
		}
	}
	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("set database pragmas: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Scan is the summary row of one stored scan.
type Scan struct {
	ID              int64
	ScanDate        time.Time
	Directory       string
	Algorithm       hasher.Algorithm
	Hostname        string
	OS              string
	TotalFiles      int
	DuplicateGroups int
	BytesWasted     int64
	Duration        time.Duration
}

// ScanInput is everything SaveScan records.
type ScanInput struct {
	ScanDate  time.Time
	Directory string
	Algorithm hasher.Algorithm
	Hostname  string
	OS        string
	Result    *duplicates.Result
}

// SaveScan stores a scan and its groups in one transaction and returns the
// new scan id.
func (s *Store) SaveScan(ctx context.Context, in ScanInput) (int64, error) {
	if in.Result == nil {
		return 0, errors.New("nil scan result")
	}
	if in.ScanDate.IsZero() {
		in.ScanDate = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO scans (scan_date, directory, algorithm, hostname, os, total_files, duplicate_groups, bytes_wasted, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ScanDate.UTC().UnixMilli(), in.Directory, string(in.Algorithm), in.Hostname, in.OS,
		in.Result.FilesScanned, in.Result.GroupsFound(), in.Result.BytesWasted, in.Result.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	groupStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO duplicate_groups (scan_id, fingerprint, file_count, file_size, bytes_wasted)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer groupStmt.Close()
	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_files (group_id, full_path, directory, file_name, extension, mime_type, size, mod_time, location, priority, protected, action, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer fileStmt.Close()

	for _, g := range in.Result.Groups {
		gres, err := groupStmt.ExecContext(ctx, scanID, g.Fingerprint().String(), g.Count(), g.Size(), g.BytesWasted())
		if err != nil {
			return 0, fmt.Errorf("insert group: %w", err)
		}
		groupID, err := gres.LastInsertId()
		if err != nil {
			return 0, err
		}
		for _, d := range g.Files() {
			r := d.Record()
			var mod int64
			if !r.ModTime.IsZero() {
				mod = r.ModTime.UTC().UnixMilli()
			}
			if _, err := fileStmt.ExecContext(ctx, groupID, r.Path, r.Directory, r.Name, extensionOf(r.Name),
				r.MimeType, r.Size, mod, r.Location, r.Priority, r.Protected, r.Action.String(), r.Reason); err != nil {
				return 0, fmt.Errorf("insert file: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"scan_id": scanID, "groups": in.Result.GroupsFound()}).Info("scan saved")
	return scanID, nil
}

const scanColumns = `id, scan_date, directory, algorithm, hostname, os, total_files, duplicate_groups, bytes_wasted, duration_ms`

func scanRow(row interface{ Scan(...any) error }) (Scan, error) {
	var (
		sc       Scan
		date     int64
		alg      string
		duration int64
	)
	if err := row.Scan(&sc.ID, &date, &sc.Directory, &alg, &sc.Hostname, &sc.OS,
		&sc.TotalFiles, &sc.DuplicateGroups, &sc.BytesWasted, &duration); err != nil {
		return Scan{}, err
	}
	sc.ScanDate = time.UnixMilli(date).UTC()
	sc.Algorithm = hasher.Algorithm(alg)
	sc.Duration = time.Duration(duration) * time.Millisecond
	return sc, nil
}

func (s *Store) queryScans(ctx context.Context, query string, args ...any) ([]Scan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scans []Scan
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// ListScans returns every scan, newest first.
func (s *Store) ListScans(ctx context.Context) ([]Scan, error) {
	return s.queryScans(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY scan_date DESC, id DESC`)
}

// FindScansByDirectory returns scans whose directory contains fragment,
// newest first.
func (s *Store) FindScansByDirectory(ctx context.Context, fragment string) ([]Scan, error) {
	return s.queryScans(ctx, `SELECT `+scanColumns+` FROM scans WHERE instr(directory, ?) > 0 ORDER BY scan_date DESC, id DESC`, fragment)
}

func (s *Store) GetScan(ctx context.Context, id int64) (Scan, error) {
	sc, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Scan{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return sc, err
}

// LoadGroups rebuilds the duplicate groups of a stored scan, ordered by
// BytesWasted descending. Descriptors carry their stored fingerprint,
// classification and explicit protection; actions are not restored.
func (s *Store) LoadGroups(ctx context.Context, scanID int64) ([]*duplicates.Group, error) {
	if _, err := s.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.fingerprint, f.full_path, f.size, f.mod_time, f.mime_type, f.location, f.priority, f.protected
		FROM duplicate_groups g
		JOIN group_files f ON f.group_id = g.id
		WHERE g.scan_id = ?
		ORDER BY g.id, f.id`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		groups  []*duplicates.Group
		current *duplicates.Group
		lastID  int64 = -1
	)
	for rows.Next() {
		var (
			groupID            int64
			fpText, path, mime string
			size, mod          int64
			locText, prioText  string
			protected          bool
		)
		if err := rows.Scan(&groupID, &fpText, &path, &size, &mod, &mime, &locText, &prioText, &protected); err != nil {
			return nil, err
		}
		if groupID != lastID {
			current = duplicates.NewGroup()
			groups = append(groups, current)
			lastID = groupID
		}
		d, err := restoreDescriptor(fpText, path, size, mod, mime, locText, prioText, protected)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", path, err)
		}
		if err := current.Add(d); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		g.Seal()
	}
	duplicates.SortGroups(groups)
	return groups, nil
}

func restoreDescriptor(fpText, path string, size, mod int64, mime, locText, prioText string, protected bool) (*scanner.FileDescriptor, error) {
	fp, err := hasher.ParseFingerprint(fpText)
	if err != nil {
		return nil, err
	}
	loc, err := classify.ParseLocation(locText)
	if err != nil {
		loc = classify.Unknown
	}
	prio, err := classify.ParsePriority(prioText)
	if err != nil {
		prio = classify.Normal
	}
	var ts classify.Timestamps
	if mod != 0 {
		ts.Modified = time.UnixMilli(mod).UTC()
	}
	d, err := scanner.NewFileDescriptor(scanner.Identity{Path: path, Size: size, Times: ts, MimeType: mime}, loc, prio)
	if err != nil {
		return nil, err
	}
	if err := d.SetProtected(protected); err != nil {
		return nil, err
	}
	if err := d.RestoreFingerprint(fp); err != nil {
		return nil, err
	}
	return d, nil
}

// GroupSummary is a stored group without its members.
type GroupSummary struct {
	ScanID      int64
	Directory   string
	Fingerprint string
	FileCount   int
	FileSize    int64
	BytesWasted int64
}

// LargestWasteGroups returns the groups with the most reclaimable space
// across every stored scan.
func (s *Store) LargestWasteGroups(ctx context.Context, limit int) ([]GroupSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.scan_id, s.directory, g.fingerprint, g.file_count, g.file_size, g.bytes_wasted
		FROM duplicate_groups g
		JOIN scans s ON s.id = g.scan_id
		ORDER BY g.bytes_wasted DESC, g.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GroupSummary
	for rows.Next() {
		var gs GroupSummary
		if err := rows.Scan(&gs.ScanID, &gs.Directory, &gs.Fingerprint, &gs.FileCount, &gs.FileSize, &gs.BytesWasted); err != nil {
			return nil, err
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

// ExtensionStat counts stored duplicate files sharing an extension.
type ExtensionStat struct {
	Extension string
	Files     int
	Bytes     int64
}

// ExtensionStats aggregates stored duplicate files by extension, most
// frequent first. Files without an extension are reported under "".
func (s *Store) ExtensionStats(ctx context.Context) ([]ExtensionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT extension, COUNT(*), SUM(size)
		FROM group_files
		GROUP BY extension
		ORDER BY COUNT(*) DESC, extension`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExtensionStat
	for rows.Next() {
		var st ExtensionStat
		if err := rows.Scan(&st.Extension, &st.Files, &st.Bytes); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DeleteScan removes a scan and, by cascade, its groups and files.
func (s *Store) DeleteScan(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
