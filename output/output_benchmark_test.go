package output

import (
	"io"
	"testing"

	"dupfinder/scanner"
)

func benchmarkReport() Report {
	files := make([]scanner.Record, 0, 8)
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg", "g.jpg", "h.jpg"} {
		files = append(files, scanner.Record{
			Path:      "/data/photos/" + name,
			Directory: "/data/photos",
			Name:      name,
			Size:      4 << 20,
			Location:  "ExternalDrive",
			Priority:  "Normal",
			Action:    scanner.ActionRecycle,
			Reason:    "duplicate auto-detected",
		})
	}
	groups := make([]GroupRecord, 0, 64)
	for i := 0; i < 64; i++ {
		groups = append(groups, GroupRecord{
			Fingerprint: "SHA256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
			FileCount:   len(files),
			FileSize:    4 << 20,
			BytesWasted: int64(len(files)-1) * (4 << 20),
			Files:       files,
		})
	}
	return Report{SchemaVersion: SchemaVersion, Groups: groups}
}

func BenchmarkMarshalReport(b *testing.B) {
	r := benchmarkReport()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := encodeJSON(io.Discard, r, true); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriteCSV(b *testing.B) {
	r := benchmarkReport()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := WriteCSV(io.Discard, r); err != nil {
			b.Fatal(err)
		}
	}
}
