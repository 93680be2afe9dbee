package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"charassets/domain"
)

func TestFileScanStatsStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "scan_stats.json")
	s, err := OpenFileScanStatsStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get("c1"); ok {
		t.Fatalf("empty store returned a record")
	}
	want := domain.ScanStats{LastScanTime: 1700000000000, ConsistentCount: 3, LastVariantCount: 2, Status: domain.ScanStatusActive}
	if err := s.Put("c1", want); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(" ", want); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("store wrote before Flush")
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenFileScanStatsStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, _ := s2.Get("c1")
	if !ok || got != want {
		t.Fatalf("reloaded=%+v ok=%v", got, ok)
	}
	all, _ := s2.All()
	if len(all) != 1 {
		t.Fatalf("All() = %v", all)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan_stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileScanStatsStore(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestUploadLedgerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload_ledger.json")
	l, err := OpenUploadLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Put(domain.UploadRecord{Key: "avg/c1#1$1.webp", Variant: "c1#1$1", Converted: true, Timestamp: time.Unix(10, 0).UTC()})
	l.Put(domain.UploadRecord{Key: ""})
	if l.Len() != 1 || !l.Has("avg/c1#1$1.webp") {
		t.Fatalf("unexpected ledger state len=%d", l.Len())
	}
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	l2, err := OpenUploadLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := l2.Get("avg/c1#1$1.webp")
	if !ok || rec.Variant != "c1#1$1" || !rec.Converted {
		t.Fatalf("reloaded record %+v ok=%v", rec, ok)
	}
}

func TestFailureLedgerAppendsAndFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.json")
	f, err := OpenFailureLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.now = func() time.Time { return fixed }
	f.AddDownloadFailure("c1#1$1", "https://x/c1.png", errors.New("timeout"))
	f.AddUploadFailure("c2#1$1", "avg/c2#1$1.png", nil)
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}

	f2, err := OpenFailureLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := f2.Snapshot()
	if len(doc.DownloadFailures) != 1 || len(doc.UploadFailures) != 1 {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if doc.DownloadFailures[0].URL != "https://x/c1.png" || doc.DownloadFailures[0].Error != "timeout" {
		t.Fatalf("download entry %+v", doc.DownloadFailures[0])
	}
	if doc.UploadFailures[0].Error != "unknown error" || !doc.LastUpdate.Equal(fixed) {
		t.Fatalf("upload entry %+v lastUpdate=%v", doc.UploadFailures[0], doc.LastUpdate)
	}

	// appends survive across runs
	f2.AddDownloadFailure("c3#1$1", "https://x/c3.png", errors.New("404"))
	if err := f2.Flush(); err != nil {
		t.Fatal(err)
	}
	f3, _ := OpenFailureLedger(path)
	if n := len(f3.Snapshot().DownloadFailures); n != 2 {
		t.Fatalf("download failures = %d, want 2", n)
	}
}
