// Package statfs reports tier capacity using a statfs-equivalent on the
// tier mountpoint. spec.md §9 flags the naive "len() of a directory"
// approach as a source bug; this package is the corrected replacement.
package statfs

// Usage is the result of measuring one mountpoint's block-level capacity.
type Usage struct {
	TotalBytes uint64
	FreeBytes  uint64
	UsedBytes  uint64
}

// UsedFraction returns used/total, or 0 if total is 0 (an unmounted or
// misconfigured tier root).
func (u Usage) UsedFraction() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.UsedBytes) / float64(u.TotalBytes)
}
