package scanstats

import (
	"fmt"
	"log/slog"
	"time"

	"charassets/domain"
	"charassets/store"
)

// Classification thresholds. Chosen empirically; kept as-is.
const (
	DefaultNPCThreshold    = 20
	DefaultStableThreshold = 5
)

type Thresholds struct {
	NPC    int
	Stable int
}

func DefaultThresholds() Thresholds {
	return Thresholds{NPC: DefaultNPCThreshold, Stable: DefaultStableThreshold}
}

func (t Thresholds) normalized() Thresholds {
	if t.NPC <= 0 {
		t.NPC = DefaultNPCThreshold
	}
	if t.Stable <= 0 {
		t.Stable = DefaultStableThreshold
	}
	return t
}

// Classify applies one scan to prior and returns the new record. found=false
// means the character has no history; its first scan counts as consistent.
// The result depends only on the arguments.
func Classify(prior domain.ScanStats, found bool, variantCount int, now time.Time, th Thresholds) domain.ScanStats {
	th = th.normalized()
	if !found {
		prior = domain.ScanStats{LastVariantCount: variantCount, Status: domain.ScanStatusActive}
	}

	next := prior
	if variantCount == prior.LastVariantCount {
		next.ConsistentCount = prior.ConsistentCount + 1
	} else {
		next.ConsistentCount = 0
	}
	next.Status = DeriveStatus(next.ConsistentCount, variantCount, th)
	next.LastVariantCount = variantCount
	next.LastScanTime = now.UnixMilli()
	return next
}

// DeriveStatus: npc beats stable beats active.
func DeriveStatus(consistentCount, variantCount int, th Thresholds) domain.ScanStatus {
	th = th.normalized()
	switch {
	case variantCount == 1 && consistentCount >= th.NPC:
		return domain.ScanStatusNPC
	case consistentCount >= th.Stable && variantCount > 1:
		return domain.ScanStatusStable
	default:
		return domain.ScanStatusActive
	}
}

// Tracker applies probe results to a ScanStatsStore.
type Tracker struct {
	store      store.ScanStatsStore
	thresholds Thresholds
	now        func() time.Time
	logger     *slog.Logger
}

func NewTracker(st store.ScanStatsStore, th Thresholds, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, thresholds: th.normalized(), now: time.Now, logger: logger}
}

// Summary counts characters per status after an update.
type Summary struct {
	Scanned int
	Active  int
	Stable  int
	NPC     int
	Changed []string // characters whose status changed this scan
}

// Update classifies every character in res and writes the records back.
// The store is not flushed; the caller owns the flush point.
func (t *Tracker) Update(res domain.ProbeResult) (Summary, error) {
	var sum Summary
	now := t.now()
	for _, id := range res.CharacterIDs() {
		prior, found, err := t.store.Get(id)
		if err != nil {
			return sum, fmt.Errorf("load scan stats %s: %w", id, err)
		}
		next := Classify(prior, found, len(res[id]), now, t.thresholds)
		if err := t.store.Put(id, next); err != nil {
			return sum, fmt.Errorf("save scan stats %s: %w", id, err)
		}
		if found && prior.Status != next.Status {
			sum.Changed = append(sum.Changed, id)
			t.logger.Info("scan status changed", "character", id, "from", prior.Status, "to", next.Status, "variants", next.LastVariantCount)
		}
		sum.Scanned++
		switch next.Status {
		case domain.ScanStatusNPC:
			sum.NPC++
		case domain.ScanStatusStable:
			sum.Stable++
		default:
			sum.Active++
		}
	}
	return sum, nil
}
