/*
Package config provides configuration loading and validation for drivetierd.

Configuration comes from a YAML file overlaid with environment variable
overrides, plus a small set of CLI flag overrides applied by the caller
(cmd/drivetierd). There is no hot-reload: the daemon reads its configuration
once at startup.

# Configuration Architecture

Two-source hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (DRIVETIERD_*)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault())                       │
	└─────────────────────────────────────────────┘

# Configuration Structure

	Global     — log level/file, metrics/health/profile ports
	Tiering    — union root, tier list, scan/reconcile intervals, mover
	             worker count, queue depths, capacity threshold, promotion
	             thresholds, dry-run knobs
	Bootstrap  — one-shot device discovery/format/mount/union settings
	Store      — Metadata Store file path and flush/sync behavior
	Network    — retry and circuit breaker parameters for bootstrap's
	             device commands (mount, format)
	Security   — RequireRoot (bootstrap needs block-device access)
	Monitoring — metrics, health check, and logging settings

# Usage

Loading configuration:

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/drivetierd/config.yaml"); err != nil {
		log.Fatal(err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	# drivetierd configuration
	global:
	  log_level: INFO
	  log_file: "/var/log/drivetierd.log"
	  metrics_port: 9090
	  health_port: 8081
	  profile_port: 6060

	tiering:
	  union_root: /mnt/merged
	  tiers:
	    - name: hot
	      root: /mnt/hot
	      devices: ["nvme0n1"]
	    - name: warm
	      root: /mnt/warm
	    - name: cold
	      root: /mnt/cold
	  scan_interval: 30s
	  mover_workers: 4
	  move_queue_depth: 64
	  retry_queue_depth: 64
	  tier_capacity_threshold: 0.8
	  promote_after_accesses: 3
	  access_time_threshold: 1h
	  reconcile_interval: 10m
	  dry_run: false

	bootstrap:
	  enabled: false
	  filesystem: xfs

	store:
	  path: /var/lib/drivetierd/metadata.db
	  flush_on_write: true

Environment variable mapping, one override per YAML path:

	DRIVETIERD_LOG_LEVEL="DEBUG"
	DRIVETIERD_LOG_FILE="/var/log/drivetierd.log"
	DRIVETIERD_METRICS_PORT="9090"
	DRIVETIERD_UNION_ROOT="/mnt/merged"
	DRIVETIERD_SCAN_INTERVAL="30s"
	DRIVETIERD_MOVER_WORKERS="4"

# Validation

Validate() checks structural invariants that the zero value or a
partially-filled YAML document could otherwise leave broken:

  - tiering.union_root must be set
  - tiering.tiers must name at least one tier, with unique names drawn
    from the known tier set (hot/warm/cold)
  - tiering.mover_workers must be positive (queue depths are not checked)
  - tiering.tier_capacity_threshold must fall within (0, 1]
  - store.path must be set
  - global.metrics_port and global.health_port must differ
  - global.log_level must be exactly one of DEBUG, INFO, WARN, ERROR

This package provides the configuration foundation for drivetierd's
daemon entrypoint and its bootstrap/tiering subsystems.
*/
package config
