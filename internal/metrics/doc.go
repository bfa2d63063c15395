/*
Package metrics provides Prometheus-based metrics collection for drivetierd.

# Overview

The metrics package tracks the tiering engine's moves, retries,
reconcile actions, scan-pass durations, queue depths, and per-tier
capacity usage. It exposes both a Prometheus scrape endpoint and a
couple of human-readable debug endpoints for troubleshooting without a
Prometheus stack on hand.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         │  /debug/moves   │
	│ - Gauges     │         └─────────────────┘
	└──────────────┘

# Core Components

Collector is the main metrics collector, constructed once at startup and
started alongside the tiering engine:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "drivetierd",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Moves

The Mover Worker Pool records every completed move, successful or not:

	start := time.Now()
	err := mover.Copy(ctx, src, dst)
	collector.RecordMove(string(sourceTier), string(targetTier), time.Since(start), fileSize, err == nil)

# Retry and Reconcile Tracking

	collector.RecordRetry("forwarded")  // or "requeued", "exhausted"
	collector.RecordReconcile("added")  // "added", "relabeled", "removed"
	collector.RecordScanPass("full", duration)  // or "reconcile"

# Error Tracking

	if err != nil {
		collector.RecordError("mover", err)
		return err
	}

# Prometheus Metrics

The collector exports metrics under the configured namespace (default
"drivetierd"):

Counters:
  - drivetierd_moves_total{source_tier,target_tier,status}: Completed moves by tier pair and outcome
  - drivetierd_retries_total{outcome}: Retry path outcomes (forwarded/requeued/exhausted)
  - drivetierd_reconcile_actions_total{action}: Reconciler actions (added/relabeled/removed)
  - drivetierd_errors_total{component,type}: Errors by component and classification

Histograms:
  - drivetierd_move_duration_seconds{source_tier,target_tier}: Move latency distribution
  - drivetierd_move_size_bytes{source_tier,target_tier}: Moved file size distribution
  - drivetierd_scan_pass_duration_seconds{phase}: Scan pass ("full") and reconcile pass ("reconcile") duration

Gauges:
  - drivetierd_queue_depth{queue}: Current Move/Retry queue depth
  - drivetierd_tier_used_fraction{tier}: Fraction of tier capacity in use
  - drivetierd_in_flight_moves: Number of paths with an in-flight move reservation

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)

	curl http://localhost:9090/metrics

/health - Health check endpoint

	curl http://localhost:9090/health
	{"status":"healthy","service":"drivetierd-metrics"}

/debug/metrics - Human-readable metrics summary

	curl http://localhost:9090/debug/metrics

/debug/moves - Tabular summary of move counts per source->target tier pair

	curl http://localhost:9090/debug/moves

# Configuration

	config := &metrics.Config{
		Enabled:        true,              // Enable/disable metrics collection
		Port:           9090,              // HTTP server port
		Path:           "/metrics",        // Prometheus metrics endpoint path
		Namespace:      "drivetierd",      // Prometheus namespace
		Subsystem:      "",                // Optional subsystem prefix
		UpdateInterval: 30 * time.Second,  // Tick of the periodic update loop (gauges are pushed by the engine)
		Labels: map[string]string{         // Custom labels applied to all metrics
			"env": "production",
		},
	}

# Thread Safety

All Collector methods are safe to call concurrently from multiple
goroutines (the Scan/Policy Worker, every Mover Worker, and the Retry
Worker all call into the same Collector).

# Integration with Monitoring Systems

Prometheus Setup:

	scrape_configs:
	  - job_name: 'drivetierd'
	    static_configs:
	      - targets: ['localhost:9090']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

# See Also

  - internal/health: Health monitoring and remediation
  - internal/circuit: Circuit breaker for reliability
  - pkg/errors: Structured error handling

For more information on Prometheus metrics and best practices, see:
https://prometheus.io/docs/practices/naming/
*/
package metrics
