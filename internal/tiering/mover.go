package tiering

import (
	"context"
	"path/filepath"
	"time"
)

// runMoverWorker is one member of the fixed-size Mover Worker Pool
// (spec.md §4.3) draining the Move Queue. id is only used for logging.
func (e *Engine) runMoverWorker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-e.moveQueue:
			if !ok {
				return
			}
			e.reportQueueDepths()
			e.handleMoveTask(ctx, task)
		}
	}
}

// handleMoveTask runs one MoveTask to completion: spawn the copy tool,
// and on success update the Metadata Store; on any failure forward to the
// Retry Queue. The worker holds no lock across the child-process wait —
// only the brief in-flight-set and store operations are guarded (spec.md
// §4.3 step 5, §5).
func (e *Engine) handleMoveTask(ctx context.Context, task MoveTask) {
	start := time.Now()
	sourceDesc := e.tiers[task.SourceTier]
	targetDesc := e.tiers[task.TargetTier]

	src := filepath.Join(sourceDesc.Root, task.SrcRelativePath)
	dst := filepath.Join(targetDesc.Root, task.SrcRelativePath)

	err := e.moverBreaker.Execute(func() error {
		return e.copy.Copy(ctx, src, dst)
	})

	if err != nil {
		e.logger.Warn("move failed, forwarding to retry queue", map[string]interface{}{
			"path": task.SrcRelativePath, "source_tier": string(task.SourceTier),
			"target_tier": string(task.TargetTier), "error": err.Error(),
		})
		if e.metrics != nil {
			e.metrics.RecordMove(string(task.SourceTier), string(task.TargetTier), time.Since(start), 0, false)
			e.metrics.RecordError("mover", err)
		}
		e.forwardToRetry(ctx, task)
		return
	}

	now := time.Now()
	var movedSize int64

	// Tiering.DryRunMutatesStore resolves the dry-run Open Question: with
	// DryRunCopier in play and this set false, the copy "succeeds" without
	// ever touching disk, and the store is left exactly as it was so a
	// dry-run can be inspected afterward with no trace in the Metadata Store.
	skipStoreMutation := e.cfg.DryRun && !e.cfg.DryRunMutatesStore
	if !skipStoreMutation {
		moveErr := e.store.MoveKey(task.Key(), task.TargetKey(), func(rec FileRecord) FileRecord {
			rec.Tier = task.TargetTier
			rec.LastTierMove = now
			movedSize = rec.FileSize
			return rec
		})
		if moveErr != nil {
			e.logger.Error("move succeeded on disk but store update failed", map[string]interface{}{
				"path": task.SrcRelativePath, "error": moveErr.Error(),
			})
		}
		if err := e.store.Flush(); err != nil {
			e.logger.Error("move: store flush failed", map[string]interface{}{"error": err.Error()})
		}
	} else if rec, found := e.store.Get(task.Key()); found {
		movedSize = rec.FileSize
	}

	e.inflight.remove(task.Key())
	if e.status != nil {
		e.completeTrackedMove(task)
	}
	if e.metrics != nil {
		e.metrics.RecordMove(string(task.SourceTier), string(task.TargetTier), time.Since(start), movedSize, true)
	}

	e.logger.Info("move complete", map[string]interface{}{
		"path": task.SrcRelativePath, "source_tier": string(task.SourceTier),
		"target_tier": string(task.TargetTier), "duration": time.Since(start).String(),
	})
}

// completeTrackedMove finds the status Tracker's Operation for this move
// and marks it complete. The tracker indexes by opaque operation ID, not
// by path, so this does a small linear scan over currently-active
// operations — bounded by MoveQueueDepth + MoverWorkers in practice.
func (e *Engine) completeTrackedMove(task MoveTask) {
	for _, op := range e.status.GetAllOperations() {
		if op.Type != "move" {
			continue
		}
		if p, ok := op.Metadata["path"]; ok && p == task.SrcRelativePath {
			_ = e.status.CompleteOperation(op.ID)
			return
		}
	}
}

// forwardToRetry hands a failed task to the Retry Queue, preserving its
// in-flight membership (the task remains "in flight" until the Retry
// Worker drops it permanently or it completes on a later attempt).
func (e *Engine) forwardToRetry(ctx context.Context, task MoveTask) {
	if e.metrics != nil {
		e.metrics.RecordRetry("forwarded")
	}
	select {
	case e.retryQueue <- task:
		e.reportQueueDepths()
	case <-ctx.Done():
		e.inflight.remove(task.Key())
	}
}
