package tiering

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// runReconcilerLoop is the periodic full-sweep validation task (spec.md
// §4.5): forward reconciliation (missing/mislabeled records) followed by
// reverse reconciliation (orphaned records). The Reconciler never
// enqueues moves; it only repairs metadata.
func (e *Engine) runReconcilerLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runReconcilePass(ctx)
		}
	}
}

// runReconcilePass executes one full Reconciler pass. It is also the
// recovery path for store-open corruption (spec.md §7: "Store
// open/corruption: attempt rebuild via Reconciler full pass").
func (e *Engine) runReconcilePass(ctx context.Context) {
	start := time.Now()
	e.logger.Info("reconciler pass starting")

	added, relabeled := e.reconcileForward(ctx)
	removed := e.reconcileReverse(ctx)

	if err := e.store.Flush(); err != nil {
		e.logger.Error("reconciler pass: store flush failed", map[string]interface{}{"error": err.Error()})
	}

	if e.metrics != nil {
		e.metrics.RecordScanPass("reconcile", time.Since(start))
		for i := 0; i < added; i++ {
			e.metrics.RecordReconcile("added")
		}
		for i := 0; i < relabeled; i++ {
			e.metrics.RecordReconcile("relabeled")
		}
		for i := 0; i < removed; i++ {
			e.metrics.RecordReconcile("removed")
		}
	}

	e.logger.Info("reconciler pass complete", map[string]interface{}{
		"added": added, "relabeled": relabeled, "removed": removed,
		"duration": time.Since(start).String(),
	})
}

// reconcileForward walks each tier root and inserts any missing file or
// corrects a record whose stored tier disagrees with the observed tier
// prefix (spec.md §4.5).
func (e *Engine) reconcileForward(ctx context.Context) (added, relabeled int) {
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		desc, ok := e.tiers[tier]
		if !ok || desc.Root == "" {
			continue
		}

		err := filepath.WalkDir(desc.Root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil || d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(desc.Root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			key := string(desc.Name) + "/" + rel

			rec, found := e.store.Get(key)
			if !found {
				info, statErr := d.Info()
				size := int64(0)
				observed := time.Now()
				if statErr == nil {
					size = info.Size()
					observed = accessTime(info)
				}
				e.store.Put(key, FileRecord{
					LastAccessTime: observed,
					AccessCount:    1,
					FileSize:       size,
					Tier:           desc.Name,
				})
				added++
				return nil
			}

			if rec.Tier != desc.Name {
				rec.Tier = desc.Name
				e.store.Put(key, rec)
				relabeled++
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			e.logger.Warn("reconciler: tier walk ended early", map[string]interface{}{
				"tier": string(desc.Name), "error": err.Error(),
			})
		}
	}
	return added, relabeled
}

// reconcileReverse iterates every record and deletes those whose backing
// file no longer exists on disk (spec.md §4.5).
func (e *Engine) reconcileReverse(ctx context.Context) (removed int) {
	var stale []string

	_ = e.store.Iter(func(r Record) {
		if ctx.Err() != nil {
			return
		}
		abs := e.absolutePath(r.Path)
		if abs == "" {
			return
		}
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			stale = append(stale, r.Path)
		}
	})

	for _, key := range stale {
		e.store.Delete(key)
		removed++
	}
	return removed
}

// absolutePath resolves a Metadata Store key ("<tier>/<relative>") back
// to its absolute path under the matching tier root.
func (e *Engine) absolutePath(key string) string {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	desc, ok := e.tiers[Tier(parts[0])]
	if !ok {
		return ""
	}
	return filepath.Join(desc.Root, parts[1])
}
