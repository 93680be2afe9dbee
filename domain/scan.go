package domain

import "time"

type ScanStatus string

const (
	ScanStatusActive ScanStatus = "active"
	ScanStatusStable ScanStatus = "stable"
	ScanStatusNPC    ScanStatus = "npc"
)

// ScanStats is the per-character stability record. Status is derived from
// ConsistentCount and LastVariantCount on every scan, never set by hand.
type ScanStats struct {
	LastScanTime     int64      `json:"lastScanTime"` // epoch ms
	ConsistentCount  int        `json:"consistentCount"`
	LastVariantCount int        `json:"lastVariantCount"`
	Status           ScanStatus `json:"status"`
}

func (s ScanStats) LastScan() time.Time {
	if s.LastScanTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastScanTime)
}

// Settled reports whether the character no longer needs a full probe.
func (s ScanStats) Settled() bool {
	return s.Status == ScanStatusStable || s.Status == ScanStatusNPC
}
