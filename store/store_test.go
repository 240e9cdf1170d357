package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dupfinder/classify"
	"dupfinder/duplicates"
	"dupfinder/hasher"
	"dupfinder/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "scans.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeGroup(t *testing.T, digest string, size int64, names ...string) *duplicates.Group {
	t.Helper()
	g := duplicates.NewGroup()
	for _, n := range names {
		p, err := filepath.Abs(filepath.Join(string(filepath.Separator), "photos", n))
		require.NoError(t, err)
		d, err := scanner.NewFileDescriptor(scanner.Identity{
			Path:     p,
			Size:     size,
			Times:    classify.Timestamps{Modified: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			MimeType: "image/jpeg",
		}, classify.RemovableDrive, classify.High)
		require.NoError(t, err)
		require.NoError(t, d.RestoreFingerprint(hasher.Result{Algorithm: hasher.SHA256, Digest: digest}))
		require.NoError(t, g.Add(d))
	}
	g.Seal()
	return g
}

func sampleResult(t *testing.T) *duplicates.Result {
	groups := []*duplicates.Group{
		makeGroup(t, "aa", 100, "a.jpg", "b.jpg", "c.JPG"),
		makeGroup(t, "bb", 10, "x.txt", "y.txt"),
	}
	duplicates.SortGroups(groups)
	return &duplicates.Result{Groups: groups, FilesScanned: 12, BytesWasted: 210, Duration: 1500 * time.Millisecond}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s, err = Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSaveAndReloadScan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.SaveScan(ctx, ScanInput{
		ScanDate:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Directory: "/photos",
		Algorithm: hasher.SHA256,
		Hostname:  "box",
		OS:        "linux",
		Result:    sampleResult(t),
	})
	require.NoError(t, err)

	sc, err := s.GetScan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/photos", sc.Directory)
	assert.Equal(t, 12, sc.TotalFiles)
	assert.Equal(t, 2, sc.DuplicateGroups)
	assert.Equal(t, int64(210), sc.BytesWasted)
	assert.Equal(t, 1500*time.Millisecond, sc.Duration)
	assert.Equal(t, hasher.SHA256, sc.Algorithm)

	groups, err := s.LoadGroups(ctx, id)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(200), groups[0].BytesWasted())
	assert.Equal(t, 3, groups[0].Count())
	assert.Equal(t, "SHA256:aa", groups[0].Fingerprint().String())
	first := groups[0].Files()[0]
	assert.Equal(t, classify.RemovableDrive, first.Location())
	assert.Equal(t, classify.High, first.Priority())
	assert.Equal(t, "image/jpeg", first.MimeType())
	assert.True(t, first.HashCalculated())
	assert.True(t, groups[0].Sealed())
}

func TestGetScanNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetScan(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadGroups(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteScan(context.Background(), 42), ErrNotFound)
}

func TestListFindAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	older, err := s.SaveScan(ctx, ScanInput{ScanDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Directory: "/home/a/photos", Algorithm: hasher.MD5, Result: sampleResult(t)})
	require.NoError(t, err)
	newer, err := s.SaveScan(ctx, ScanInput{ScanDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Directory: "/srv/music", Algorithm: hasher.MD5, Result: sampleResult(t)})
	require.NoError(t, err)

	scans, err := s.ListScans(ctx)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, newer, scans[0].ID)
	assert.Equal(t, older, scans[1].ID)

	found, err := s.FindScansByDirectory(ctx, "photos")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, older, found[0].ID)

	top, err := s.LargestWasteGroups(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, int64(200), top[0].BytesWasted)
	assert.Equal(t, int64(200), top[1].BytesWasted)
	assert.Equal(t, int64(10), top[2].BytesWasted)

	stats, err := s.ExtensionStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, ExtensionStat{Extension: "jpg", Files: 6, Bytes: 600}, stats[0])
	assert.Equal(t, ExtensionStat{Extension: "txt", Files: 4, Bytes: 40}, stats[1])

	require.NoError(t, s.DeleteScan(ctx, older))
	top, err = s.LargestWasteGroups(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestProtectionSurvivesReload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	res := sampleResult(t)
	guarded := res.Groups[0].Files()[1]
	require.NoError(t, guarded.SetProtected(true))

	id, err := s.SaveScan(ctx, ScanInput{Directory: "/photos", Algorithm: hasher.SHA256, Result: res})
	require.NoError(t, err)
	groups, err := s.LoadGroups(ctx, id)
	require.NoError(t, err)

	protected := map[string]bool{}
	for _, g := range groups {
		for _, d := range g.Files() {
			protected[d.Path()] = d.IsProtected()
		}
	}
	require.Len(t, protected, 5)
	for path, p := range protected {
		assert.Equal(t, path == guarded.Path(), p, path)
	}
}

func TestOpenUpgradesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.db.Exec(`ALTER TABLE group_files DROP COLUMN protected`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE schema_migrations SET version = 1`)
	require.NoError(t, err)
	assert.True(t, needsMigration(s.db))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, needsMigration(s.db))
	_, err = s.SaveScan(context.Background(), ScanInput{Directory: "/photos", Algorithm: hasher.SHA256, Result: sampleResult(t)})
	assert.NoError(t, err)
}
