package tiering

import (
	"context"
	"time"

	"github.com/driftworks/drivetierd/pkg/errors"
)

// retryMinDelay is the permitted minimum re-entry delay (spec.md §4.4:
// "a minimum re-entry delay of one second is permitted to avoid tight
// loops when the queue is small"). This is not backoff — every task waits
// the same fixed delay regardless of attempt count.
const retryMinDelay = time.Second

// runRetryLoop is the single consumer of the Retry Queue (spec.md §4.4).
// It deliberately does not use pkg/retry: the bounded, backoff-free,
// 3-attempt policy here is spec-mandated and distinct from that package's
// exponential-backoff helper used elsewhere for ambient I/O.
func (e *Engine) runRetryLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-e.retryQueue:
			if !ok {
				return
			}
			e.reportQueueDepths()
			e.handleRetryTask(ctx, task)
		}
	}
}

// handleRetryTask re-enqueues task to the Move Queue if it has not
// exhausted MaxRetries, else logs a permanent failure and drops it
// (spec.md §4.4, §7 "Max retries exceeded").
func (e *Engine) handleRetryTask(ctx context.Context, task MoveTask) {
	if task.Retries >= MaxRetries {
		e.logger.Error("move task permanently failed after max retries", map[string]interface{}{
			"path": task.SrcRelativePath, "source_tier": string(task.SourceTier),
			"target_tier": string(task.TargetTier), "retries": task.Retries,
		})
		if e.metrics != nil {
			e.metrics.RecordRetry("exhausted")
			e.metrics.RecordError("retry", errors.New(errors.ErrCodeRetryExhausted, "move task exceeded max retries").
				WithDetail("path", task.SrcRelativePath))
		}
		if e.status != nil {
			e.failTrackedMove(task, errors.New(errors.ErrCodeRetryExhausted, "max retries exceeded"))
		}
		e.inflight.remove(task.Key())
		return
	}

	task.Retries++

	select {
	case <-time.After(retryMinDelay):
	case <-ctx.Done():
		e.inflight.remove(task.Key())
		return
	}

	select {
	case e.moveQueue <- task:
		e.reportQueueDepths()
		if e.metrics != nil {
			e.metrics.RecordRetry("requeued")
		}
	case <-ctx.Done():
		e.inflight.remove(task.Key())
	}
}

func (e *Engine) failTrackedMove(task MoveTask, cause error) {
	for _, op := range e.status.GetAllOperations() {
		if op.Type != "move" {
			continue
		}
		if p, ok := op.Metadata["path"]; ok && p == task.SrcRelativePath {
			_ = e.status.FailOperation(op.ID, cause)
			return
		}
	}
}
