package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"dupfinder/config"
	"dupfinder/logger"
	"dupfinder/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSignalEventCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		handleSignalEvent(cancel, logger.Discard(), sigChan)
		close(done)
	}()

	sigChan <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context to be canceled")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not return")
	}
}

func TestHandleSignalEventClosedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal)
	close(sigChan)
	handleSignalEvent(cancel, logger.Discard(), sigChan)
	assert.NoError(t, ctx.Err(), "closed signal channel must not cancel")
}

func TestFlightDumpPath(t *testing.T) {
	setFlightDumpPath("/tmp/x.out")
	assert.Equal(t, "/tmp/x.out", flightDumpPath())
	setFlightDumpPath("")
	assert.Empty(t, flightDumpPath())
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	t.Setenv("DUPFINDER_DISABLE_PROGRESS", "1")
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfg := config.Default()
	cfg.Paths = []string{root}
	cfg.ConcurrencyLevel = 2
	cfg.NoSave = true
	cfg.DiagDir = t.TempDir()
	return cfg
}

// saveTestScan runs the scan described by cfg, saving it into a fresh
// database, and returns the open store and the scan id.
func saveTestScan(t *testing.T, cfg *config.Config) (*store.Store, int64) {
	t.Helper()
	cfg.NoSave = false
	cfg.DatabasePath = filepath.Join(t.TempDir(), "history.db")
	report, err := runScan(context.Background(), cfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	require.NotZero(t, report.ScanID, "scan should be saved")

	db, err := store.Open(cfg.DatabasePath, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, report.ScanID
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunScanFindsDuplicates(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/report.txt":     "same content",
		"b/report.txt":     "same content",
		"b/copy.txt":       "same content",
		"c/other.txt":      "different!!!",
		"c/unique-len.txt": "short",
		"empty.txt":        "",
	})
	cfg := testConfig(t, root)
	export := filepath.Join(t.TempDir(), "report.csv")
	cfg.ExportPath = export

	var out bytes.Buffer
	report, err := runScan(context.Background(), cfg, logger.Discard(), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GroupsFound)
	assert.Equal(t, 2, report.DuplicateFiles)
	assert.Equal(t, int64(2*len("same content")), report.BytesWasted)
	assert.NotEmpty(t, report.Actions, "expected resolved actions in report")
	assert.Contains(t, out.String(), "Group 1/1")

	assert.Equal(t, 4, bytes.Count([]byte(readFile(t, export)), []byte("\n")), "header plus three rows")
	for _, name := range []string{"a/report.txt", "b/report.txt", "b/copy.txt"} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, "scan without -apply must not touch %s", name)
	}
}

func TestRunScanMissingRoot(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing"))
	_, err := runScan(context.Background(), cfg, logger.Discard(), io.Discard)
	assert.Error(t, err)
}

func TestRunScanDryRunWritesOutcomes(t *testing.T) {
	root := writeTree(t, map[string]string{
		"one.bin": "payload",
		"two.bin": "payload",
	})
	cfg := testConfig(t, root)
	cfg.Apply = true
	cfg.DryRun = true
	cfg.OutcomesPath = filepath.Join(t.TempDir(), "outcomes.csv")

	_, err := runScan(context.Background(), cfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	for _, name := range []string{"one.bin", "two.bin"} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, "dry run removed %s", name)
	}
	assert.Regexp(t, "^Path,Action,Success,DryRun", readFile(t, cfg.OutcomesPath))
}

func TestRunScanQuarantineApply(t *testing.T) {
	root := writeTree(t, map[string]string{
		"one.bin": "payload",
		"two.bin": "payload",
	})
	cfg := testConfig(t, root)
	cfg.Apply = true
	cfg.Strategy = "quarantine"
	cfg.QuarantineDir = t.TempDir()

	_, err := runScan(context.Background(), cfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	remaining := 0
	for _, name := range []string{"one.bin", "two.bin"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining, "expected exactly one survivor")

	var moved []string
	_ = filepath.WalkDir(cfg.QuarantineDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			moved = append(moved, path)
		}
		return nil
	})
	assert.Len(t, moved, 1)
}

func TestScanSaveListAndLoad(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x/photo.jpg": "jpeg bytes",
		"y/photo.jpg": "jpeg bytes",
		"z/photo.jpg": "jpeg bytes",
	})
	cfg := testConfig(t, root)
	cfg.Resolve = false
	db, scanID := saveTestScan(t, cfg)

	var listing bytes.Buffer
	lc := &listCmd{limit: defaultHistoryLimit, top: 5, extensions: true}
	require.NoError(t, lc.run(context.Background(), db, &listing))
	assert.Contains(t, listing.String(), "Largest duplicate groups:")
	assert.Contains(t, listing.String(), "jpg")

	loadCfg, err := (&loadCmd{resolve: true, strategy: "review", maxResults: 10}).config()
	require.NoError(t, err)
	reloaded, err := runLoad(context.Background(), db, scanID, false, loadCfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.GroupsFound)
	assert.Equal(t, 3, reloaded.Groups[0].FileCount)

	require.NoError(t, os.Remove(filepath.Join(root, "x", "photo.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "y", "photo.jpg"), []byte("changed size"), 0644))
	reloaded, err = runLoad(context.Background(), db, scanID, true, loadCfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	assert.Zero(t, reloaded.GroupsFound, "members vanished or changed size")

	_, err = runLoad(context.Background(), db, scanID+100, false, loadCfg, logger.Discard(), io.Discard)
	assert.Error(t, err)
	assert.Error(t, forgetScan(context.Background(), db, "abc", logger.Discard()))
}

func TestLoadRehashesFilesModifiedSinceScan(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x/doc.txt": "original content",
		"y/doc.txt": "original content",
	})
	cfg := testConfig(t, root)
	cfg.Resolve = false
	db, scanID := saveTestScan(t, cfg)

	edited := filepath.Join(root, "y", "doc.txt")
	require.NoError(t, os.WriteFile(edited, []byte("EDITED  content!"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(edited, later, later))

	loadCfg, err := (&loadCmd{resolve: true, strategy: "review", maxResults: 10}).config()
	require.NoError(t, err)
	reloaded, err := runLoad(context.Background(), db, scanID, false, loadCfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	assert.Zero(t, reloaded.GroupsFound, "edited file must not keep its stored fingerprint")
}

func TestLoadApplyRehashesEvenWithUnchangedModTime(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x/doc.txt": "original content",
		"y/doc.txt": "original content",
	})
	cfg := testConfig(t, root)
	cfg.Resolve = false
	db, scanID := saveTestScan(t, cfg)

	edited := filepath.Join(root, "y", "doc.txt")
	info, err := os.Stat(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(edited, []byte("EDITED  content!"), 0644))
	require.NoError(t, os.Chtimes(edited, info.ModTime(), info.ModTime()))

	loadCfg, err := (&loadCmd{apply: true, strategy: "recycle", maxResults: 10}).config()
	require.NoError(t, err)
	reloaded, err := runLoad(context.Background(), db, scanID, false, loadCfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	assert.Zero(t, reloaded.GroupsFound)
	assert.Equal(t, "original content", readFile(t, filepath.Join(root, "x", "doc.txt")))
	assert.Equal(t, "EDITED  content!", readFile(t, edited))
}

func TestLoadApplyKeepsFilesProtectedAtScanTime(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/doc.keep": "same bytes",
		"b/doc.txt":  "same bytes",
		"c/doc.keep": "same bytes",
	})
	cfg := testConfig(t, root)
	cfg.Resolve = false
	cfg.ProtectGlobs = []string{"*.keep"}
	db, scanID := saveTestScan(t, cfg)

	loadCfg, err := (&loadCmd{apply: true, strategy: "recycle", maxResults: 10}).config()
	require.NoError(t, err)
	_, err = runLoad(context.Background(), db, scanID, false, loadCfg, logger.Discard(), io.Discard)
	require.NoError(t, err)
	for _, name := range []string{"a/doc.keep", "c/doc.keep"} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, "%s was protected at scan time", name)
	}
}

func TestLoadConfigProtectFlags(t *testing.T) {
	cfg, err := (&loadCmd{strategy: "recycle", protectReadOnly: true, protectGlobs: "*.raw, *.psd"}).config()
	require.NoError(t, err)
	assert.True(t, cfg.ProtectReadOnly)
	assert.Equal(t, []string{"*.raw", "*.psd"}, cfg.ProtectGlobs)
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	_, err := (&loadCmd{strategy: "shred"}).config()
	assert.Error(t, err)

	cfg, err := (&loadCmd{dryRun: true, strategy: "recycle"}).config()
	require.NoError(t, err)
	assert.True(t, cfg.Apply, "dry run implies apply")
	assert.True(t, cfg.Resolve, "dry run implies resolve")
}

func TestPrintScansEmpty(t *testing.T) {
	var buf bytes.Buffer
	printScans(&buf, nil, 10)
	assert.Contains(t, buf.String(), "No scans recorded.")
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Regexp(t, "^dupfinder version ", buf.String())
}
