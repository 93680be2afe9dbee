package scanstats

import (
	"path/filepath"
	"testing"
	"time"

	"charassets/domain"
	"charassets/store"
)

func scanN(t *testing.T, st domain.ScanStats, found bool, n, variantCount int) (domain.ScanStats, bool) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		st = Classify(st, found, variantCount, now.Add(time.Duration(i)*time.Hour), DefaultThresholds())
		found = true
	}
	return st, found
}

func TestNPCAfterTwentyScansThenReset(t *testing.T) {
	st, found := scanN(t, domain.ScanStats{}, false, 19, 1)
	if st.Status != domain.ScanStatusActive {
		t.Fatalf("after 19 scans status=%s, want active", st.Status)
	}
	st, found = scanN(t, st, found, 1, 1)
	if st.Status != domain.ScanStatusNPC || st.ConsistentCount != 20 {
		t.Fatalf("after 20 scans got %+v, want npc/20", st)
	}
	st, _ = scanN(t, st, found, 1, 2)
	if st.ConsistentCount != 0 || st.Status != domain.ScanStatusActive || st.LastVariantCount != 2 {
		t.Fatalf("21st scan got %+v, want active/0/2", st)
	}
}

func TestStableAfterFiveScans(t *testing.T) {
	st, _ := scanN(t, domain.ScanStats{}, false, 4, 3)
	if st.Status != domain.ScanStatusActive {
		t.Fatalf("after 4 scans status=%s", st.Status)
	}
	st, _ = scanN(t, st, true, 1, 3)
	if st.Status != domain.ScanStatusStable || st.ConsistentCount != 5 {
		t.Fatalf("got %+v, want stable/5", st)
	}
}

func TestSingleVariantNeverStable(t *testing.T) {
	st, _ := scanN(t, domain.ScanStats{}, false, 10, 1)
	if st.Status != domain.ScanStatusActive {
		t.Fatalf("status=%s, want active", st.Status)
	}
}

func TestClassifyIsPure(t *testing.T) {
	prior := domain.ScanStats{LastScanTime: 1, ConsistentCount: 4, LastVariantCount: 2, Status: domain.ScanStatusActive}
	now := time.Unix(1700000000, 0)
	a := Classify(prior, true, 2, now, DefaultThresholds())
	b := Classify(prior, true, 2, now, DefaultThresholds())
	if a != b {
		t.Fatalf("classify not deterministic: %+v vs %+v", a, b)
	}
	if prior.ConsistentCount != 4 {
		t.Fatalf("prior mutated")
	}
	if a.LastScanTime != now.UnixMilli() {
		t.Fatalf("LastScanTime=%d", a.LastScanTime)
	}
}

func TestDeriveStatusTable(t *testing.T) {
	th := Thresholds{NPC: 3, Stable: 2}
	cases := []struct {
		consistent, variants int
		want                 domain.ScanStatus
	}{
		{3, 1, domain.ScanStatusNPC},
		{2, 1, domain.ScanStatusActive},
		{2, 2, domain.ScanStatusStable},
		{5, 4, domain.ScanStatusStable},
		{1, 4, domain.ScanStatusActive},
		{0, 0, domain.ScanStatusActive},
	}
	for _, c := range cases {
		if got := DeriveStatus(c.consistent, c.variants, th); got != c.want {
			t.Fatalf("DeriveStatus(%d,%d)=%s want %s", c.consistent, c.variants, got, c.want)
		}
	}
}

func TestTrackerUpdate(t *testing.T) {
	st, err := store.OpenFileScanStatsStore(filepath.Join(t.TempDir(), "scan_stats.json"))
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Put("op042", domain.ScanStats{ConsistentCount: 4, LastVariantCount: 3, Status: domain.ScanStatusActive})

	tr := NewTracker(st, DefaultThresholds(), nil)
	fixed := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return fixed }

	sum, err := tr.Update(domain.ProbeResult{
		"op042":  {"op042#1$1", "op042#2$1", "op042#3$1"},
		"npc001": {"npc001#1$1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Scanned != 2 || sum.Stable != 1 || sum.Active != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if len(sum.Changed) != 1 || sum.Changed[0] != "op042" {
		t.Fatalf("changed=%v", sum.Changed)
	}
	got, ok, _ := st.Get("npc001")
	if !ok || got.ConsistentCount != 1 || got.LastVariantCount != 1 || got.LastScanTime != fixed.UnixMilli() {
		t.Fatalf("npc001 stats %+v", got)
	}
}
