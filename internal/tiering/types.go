// Package tiering implements the file-metadata database, the scan/mover/retry
// loops, and the promotion/demotion policy described for drivetierd's core.
package tiering

import "time"

// Tier identifies one of the three performance tiers.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	default:
		return false
	}
}

// TierDescriptor is the static, process-lifetime description of one tier.
type TierDescriptor struct {
	Name Tier
	// Root is the absolute mount path for this tier under the union root,
	// e.g. /mnt/merged/hot.
	Root string
	// Devices lists the serials of block devices backing this tier. Empty
	// means the tier has no eligible devices (e.g. an all-HDD host has no
	// hot tier); tasks targeting such a tier are dropped at enqueue time.
	Devices []string
}

// Eligible reports whether this tier has at least one backing device.
func (d TierDescriptor) Eligible() bool {
	return len(d.Devices) > 0
}

// FileRecord is the value stored in the Metadata Store, keyed by the file's
// relative path under the union root (e.g. "hot/photos/a.jpg").
type FileRecord struct {
	// LastAccessTime is the most recent observed access time, monotonic
	// when available and otherwise wall-clock seconds since epoch.
	LastAccessTime time.Time `json:"last_access_time"`
	// AccessCount is the number of scan passes that have observed this
	// file, not the number of actual reads (see spec.md §9).
	AccessCount int64 `json:"access_count"`
	// FileSize is the last observed size in bytes.
	FileSize int64 `json:"file_size"`
	// Tier is the tier prefix of the record's key.
	Tier Tier `json:"tier"`
	// LastTierMove is the time of the most recent successful tier move,
	// or the zero Time if the file has never moved.
	LastTierMove time.Time `json:"last_tier_move"`
}

// Moved reports whether the record has ever completed a tier move.
func (r FileRecord) Moved() bool {
	return !r.LastTierMove.IsZero()
}

// MaxRetries is the bound on MoveTask.Retries before the Retry Worker drops
// a task permanently (spec.md §4.4).
const MaxRetries = 3

// MoveTask is the unit of work carried on the Move and Retry queues.
type MoveTask struct {
	// SrcRelativePath is the file's path relative to the union root,
	// without a tier prefix (e.g. "photos/a.jpg").
	SrcRelativePath string
	SourceTier      Tier
	TargetTier      Tier
	Retries         int
}

// Key returns the Metadata Store key for this task's source location.
func (t MoveTask) Key() string {
	return string(t.SourceTier) + "/" + t.SrcRelativePath
}

// TargetKey returns the Metadata Store key the task will occupy on success.
func (t MoveTask) TargetKey() string {
	return string(t.TargetTier) + "/" + t.SrcRelativePath
}
