package tiering

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/driftworks/drivetierd/internal/statfs"
)

// scanCandidates is N in spec.md §4.2 Phase B: the number of demotion
// candidates selected per tier per pass.
const scanCandidates = 10

// runScanLoop is the Scan/Policy Worker: a periodic task that performs
// Phase A (refresh), Phase B (capacity pressure), then Phase C
// (promotion), strictly in that order within one pass (spec.md §4.2, §5
// ordering guarantee).
func (e *Engine) runScanLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.ScanInterval
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runScanPass(ctx)
		}
	}
}

// runScanPass executes one full Scan pass; runScanLoop calls it on every
// tick.
func (e *Engine) runScanPass(ctx context.Context) {
	start := time.Now()
	e.logger.Info("scan pass starting")

	e.scanPhaseRefresh(ctx)
	e.scanPhaseCapacity(ctx)
	e.scanPhasePromotion(ctx)

	if err := e.store.Flush(); err != nil {
		e.logger.Error("scan pass: store flush failed", map[string]interface{}{"error": err.Error()})
	}

	if e.metrics != nil {
		e.metrics.RecordScanPass("full", time.Since(start))
	}
	e.logger.Info("scan pass complete", map[string]interface{}{"duration": time.Since(start).String()})
}

// scanPhaseRefresh is Phase A: walk each tier root, stat every regular
// file, and create or update its Metadata Store record.
func (e *Engine) scanPhaseRefresh(ctx context.Context) {
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		desc, ok := e.tiers[tier]
		if !ok || desc.Root == "" {
			continue
		}
		e.refreshTier(ctx, desc)
	}
}

func (e *Engine) refreshTier(ctx context.Context, desc TierDescriptor) {
	err := filepath.WalkDir(desc.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			e.logger.Warn("scan: stat/readdir error, skipping entry", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			e.logger.Warn("scan: stat error, skipping entry", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
			return nil
		}

		rel, err := filepath.Rel(desc.Root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		key := string(desc.Name) + "/" + rel

		observed := accessTime(info)
		size := info.Size()

		rec, found := e.store.Get(key)
		if !found {
			rec = FileRecord{
				LastAccessTime: observed,
				AccessCount:    1,
				FileSize:       size,
				Tier:           desc.Name,
			}
		} else {
			if observed.After(rec.LastAccessTime) {
				rec.LastAccessTime = observed
			}
			rec.AccessCount++
			rec.FileSize = size
			rec.Tier = desc.Name
		}
		e.store.Put(key, rec)
		return nil
	})
	if err != nil && err != context.Canceled {
		e.logger.Warn("scan: tier walk ended early", map[string]interface{}{
			"tier": string(desc.Name), "error": err.Error(),
		})
	}
}

// demotionTarget returns the tier a file is demoted to from source, and
// whether a demotion edge exists at all (cold has none — spec.md §4.2:
// "cold→cold (no-op, skip)").
func demotionTarget(source Tier) (Tier, bool) {
	switch source {
	case TierHot:
		return TierWarm, true
	case TierWarm:
		return TierCold, true
	default:
		return "", false
	}
}

// capacityThreshold returns the single configured tier_capacity_threshold
// (spec.md §3) that triggers demotion out of tier. The same threshold
// applies to every tier with a demotion target — there is none for cold
// since it has no further tier to demote into.
func (e *Engine) capacityThreshold(tier Tier) (float64, bool) {
	if _, hasTarget := demotionTarget(tier); !hasTarget {
		return 0, false
	}
	return e.cfg.TierCapacityThreshold, true
}

// scanPhaseCapacity is Phase B: for each tier with a demotion target,
// check used/total against the configured threshold and enqueue up to
// scanCandidates demotions for the oldest-accessed files.
func (e *Engine) scanPhaseCapacity(ctx context.Context) {
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		target, hasTarget := demotionTarget(tier)
		if !hasTarget {
			continue
		}
		threshold, ok := e.capacityThreshold(tier)
		if !ok {
			continue
		}
		desc, ok := e.tiers[tier]
		if !ok || desc.Root == "" {
			continue
		}

		usage, err := statfs.Measure(desc.Root)
		if err != nil {
			e.logger.Warn("scan: capacity measurement failed", map[string]interface{}{
				"tier": string(tier), "error": err.Error(),
			})
			continue
		}
		if e.metrics != nil {
			e.metrics.UpdateTierUsage(string(tier), usage.UsedFraction())
		}
		if usage.UsedFraction() <= threshold {
			continue
		}

		candidates := e.oldestInTier(tier, scanCandidates)
		for _, rec := range candidates {
			task := MoveTask{
				SrcRelativePath: strings.TrimPrefix(rec.Path, string(tier)+"/"),
				SourceTier:      tier,
				TargetTier:      target,
			}
			e.enqueueMove(ctx, task)
		}
	}
}

// oldestInTier returns up to n records currently in tier, ordered by
// oldest last_access_time first, ties broken by larger file_size then
// lexicographic path (spec.md §4.2 Phase B tie-break rule).
func (e *Engine) oldestInTier(tier Tier, n int) []Record {
	var candidates []Record
	_ = e.store.Iter(func(r Record) {
		if r.Tier == tier {
			candidates = append(candidates, r)
		}
	})

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessTime.Equal(b.LastAccessTime) {
			return a.LastAccessTime.Before(b.LastAccessTime)
		}
		if a.FileSize != b.FileSize {
			return a.FileSize > b.FileSize
		}
		return a.Path < b.Path
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// scanPhasePromotion is Phase C: every record not already in hot that
// meets the access-count and recency thresholds, and has cleared the
// dwell-time guard since its last move, is enqueued for promotion.
// Promotions are unbounded per pass but deduped against the in-flight set
// (spec.md §4.2 Phase C).
func (e *Engine) scanPhasePromotion(ctx context.Context) {
	now := time.Now()
	minDwell := e.cfg.MinDwell

	var eligible []Record
	_ = e.store.Iter(func(r Record) {
		if r.Tier == TierHot {
			return
		}
		if r.AccessCount < e.cfg.PromoteAfterAccesses {
			return
		}
		if now.Sub(r.LastAccessTime) > e.cfg.AccessTimeThreshold {
			return
		}
		if r.Moved() && minDwell > 0 && now.Sub(r.LastTierMove) < minDwell {
			return
		}
		eligible = append(eligible, r)
	})

	for _, rec := range eligible {
		task := MoveTask{
			SrcRelativePath: strings.TrimPrefix(rec.Path, string(rec.Tier)+"/"),
			SourceTier:      rec.Tier,
			TargetTier:      TierHot,
		}
		e.enqueueMove(ctx, task)
	}
}
