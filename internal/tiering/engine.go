package tiering

import (
	"context"
	"sync"
	"time"

	"github.com/driftworks/drivetierd/internal/circuit"
	"github.com/driftworks/drivetierd/internal/config"
	"github.com/driftworks/drivetierd/internal/copier"
	"github.com/driftworks/drivetierd/internal/metrics"
	pkghealth "github.com/driftworks/drivetierd/pkg/health"
	pkgstatus "github.com/driftworks/drivetierd/pkg/status"
	"github.com/driftworks/drivetierd/pkg/utils"
)

// Engine is the wiring struct design note §9 calls for: it holds the
// immutable Config, the TierDescriptors, the copy primitive, and the
// Metadata Store/queues/in-flight set, and is passed to every worker. No
// worker holds a back-reference to anything outside this struct.
type Engine struct {
	cfg   config.TieringConfig
	tiers map[Tier]TierDescriptor

	store    *Store
	inflight *inflightSet

	moveQueue  chan MoveTask
	retryQueue chan MoveTask

	copy        copier.Interface
	moverBreaker *circuit.CircuitBreaker

	logger  *utils.StructuredLogger
	metrics *metrics.Collector
	health  *pkghealth.Tracker
	status  *pkgstatus.Tracker

	wg sync.WaitGroup
}

// NewEngine builds an Engine from a loaded Configuration and its derived
// TierDescriptors. cp is the copy primitive (a real Copier, or a
// DryRunCopier when Tiering.DryRun is set); the caller selects it, so the
// engine never chooses the copier itself. The engine reads Tiering.DryRun
// only in handleMoveTask, together with DryRunMutatesStore, to decide
// whether a successful move updates the Metadata Store.
func NewEngine(
	cfg config.TieringConfig,
	tiers []TierDescriptor,
	store *Store,
	cp copier.Interface,
	logger *utils.StructuredLogger,
	mc *metrics.Collector,
	ht *pkghealth.Tracker,
	st *pkgstatus.Tracker,
) *Engine {
	tierMap := make(map[Tier]TierDescriptor, len(tiers))
	for _, t := range tiers {
		tierMap[t.Name] = t
	}

	breaker := circuit.NewCircuitBreaker("mover.rsync", circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &Engine{
		cfg:          cfg,
		tiers:        tierMap,
		store:        store,
		inflight:     newInflightSet(),
		moveQueue:    make(chan MoveTask, maxInt(cfg.MoveQueueDepth, 1)),
		retryQueue:   make(chan MoveTask, maxInt(cfg.RetryQueueDepth, 1)),
		copy:         cp,
		moverBreaker: breaker,
		logger:       logger.WithComponent("tiering"),
		metrics:      mc,
		health:       ht,
		status:       st,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run starts the Scan, Mover pool, Retry, and Reconciler loops and blocks
// until ctx is canceled. Each loop observes ctx at the top of its
// iteration and exits after draining no more than its current item
// (spec.md §5 cancellation semantics).
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	go e.runScanLoop(ctx)

	e.wg.Add(1)
	go e.runReconcilerLoop(ctx)

	e.wg.Add(1)
	go e.runRetryLoop(ctx)

	for i := 0; i < e.cfg.MoverWorkers; i++ {
		e.wg.Add(1)
		go e.runMoverWorker(ctx, i)
	}

	e.logger.Info("tiering engine started", map[string]interface{}{
		"mover_workers": e.cfg.MoverWorkers,
		"scan_interval": e.cfg.ScanInterval.String(),
	})
}

// Wait blocks until every worker goroutine launched by Run has returned.
// Workers return once their current item finishes after ctx is canceled;
// in-flight rsync children are not killed (spec.md §5) — callers that need
// the bounded 30s grace period wrap Wait with their own timeout.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// reportQueueDepths publishes the current Move/Retry queue occupancy to
// the metrics collector, called after every enqueue/dequeue of note.
func (e *Engine) reportQueueDepths() {
	if e.metrics == nil {
		return
	}
	e.metrics.UpdateQueueDepth("move", len(e.moveQueue))
	e.metrics.UpdateQueueDepth("retry", len(e.retryQueue))
}

// enqueueMove adds a task to the Move Queue, marking it in-flight first.
// Returns false if the path is already in flight or the target tier has
// no eligible devices (spec.md §4.2 edge cases) — callers should treat
// false as "skipped, not an error".
func (e *Engine) enqueueMove(ctx context.Context, task MoveTask) bool {
	target, ok := e.tiers[task.TargetTier]
	if !ok || !target.Eligible() {
		e.logger.Warn("dropping move task: target tier has no eligible devices", map[string]interface{}{
			"path":        task.SrcRelativePath,
			"target_tier": string(task.TargetTier),
		})
		return false
	}

	if !e.inflight.tryAdd(task.Key()) {
		return false
	}

	select {
	case e.moveQueue <- task:
		e.reportQueueDepths()
		if e.status != nil {
			_, _ = e.status.StartOperation(ctx, "move", map[string]interface{}{
				"path":        task.SrcRelativePath,
				"source_tier": string(task.SourceTier),
				"target_tier": string(task.TargetTier),
			})
		}
		return true
	case <-ctx.Done():
		e.inflight.remove(task.Key())
		return false
	}
}
