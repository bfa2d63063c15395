package bootstrap

import (
	"context"
	"os"

	"github.com/driftworks/drivetierd/internal/circuit"
	"github.com/driftworks/drivetierd/internal/config"
	"github.com/driftworks/drivetierd/internal/tiering"
	"github.com/driftworks/drivetierd/pkg/errors"
	"github.com/driftworks/drivetierd/pkg/recovery"
	"github.com/driftworks/drivetierd/pkg/retry"
	"github.com/driftworks/drivetierd/pkg/utils"
)

// Run performs the full one-shot sequence spec.md §1 treats as an
// external collaborator: discover, classify, conditionally format, mount,
// and union every local block device, then hand back the three
// TierDescriptors the core tiering engine depends on (design note §9:
// "Bootstrap constructs all three and hands them to the engine").
func Run(ctx context.Context, cfg config.Configuration, logger *utils.StructuredLogger) ([]tiering.TierDescriptor, error) {
	log := logger.WithComponent("bootstrap")

	rm := recovery.NewRecoveryManager(recovery.RecoveryConfig{
		DefaultStrategy:    recovery.StrategyRetry,
		RetryConfig: retry.Config{
			MaxAttempts:  cfg.Network.Retry.MaxAttempts,
			InitialDelay: cfg.Network.Retry.BaseDelay,
			MaxDelay:     cfg.Network.Retry.MaxDelay,
			Multiplier:   2,
		},
		EnableAutoRecovery: true,
		CircuitBreakerConfig: circuit.Config{
			Timeout: cfg.Network.CircuitBreaker.Timeout,
		},
		Logger: logger,
	})

	disks, err := Discover(ctx)
	if err != nil {
		return nil, err
	}

	var devices []BlockDevice
	for _, path := range disks {
		dev, err := Classify(ctx, path)
		if err != nil {
			log.Warn("classify failed, skipping device", map[string]interface{}{
				"device": path, "error": err.Error(),
			})
			continue
		}
		devices = append(devices, dev)
	}
	devices = ExcludeKnown(devices, cfg.Bootstrap.ExcludeDrives)

	for i, dev := range devices {
		if NeedsFormat(dev, cfg.Bootstrap.Filesystem) {
			log.Info("formatting device", map[string]interface{}{"device": dev.Path, "class": string(dev.Class)})
			if err := Format(ctx, rm, dev, cfg.Bootstrap.Filesystem); err != nil {
				return nil, err
			}
			reclassified, err := Classify(ctx, dev.Path)
			if err != nil {
				return nil, err
			}
			devices[i] = reclassified
			dev = reclassified
		}
		if err := Mount(ctx, rm, dev); err != nil {
			return nil, err
		}
	}

	grouped := GroupByClass(devices)
	for class, group := range grouped {
		if err := Union(ctx, group, cfg.Tiering.UnionRoot, cfg.Bootstrap.MergerfsOpts, cfg.Bootstrap.Foreground); err != nil {
			return nil, err
		}
		log.Info("union tier ready", map[string]interface{}{
			"class": string(class), "devices": len(group),
		})
	}

	return buildTierDescriptors(cfg, grouped), nil
}

// buildTierDescriptors maps the configured tiers (internal/config's
// TieringConfig.Tiers) onto the devices this bootstrap pass actually
// unioned, so a tier with zero backing devices reports as ineligible
// (spec.md §4.2 edge case: "If the target tier has no eligible devices").
func buildTierDescriptors(cfg config.Configuration, grouped map[BlockClass][]BlockDevice) []tiering.TierDescriptor {
	descriptors := make([]tiering.TierDescriptor, 0, len(cfg.Tiering.Tiers))
	for _, t := range cfg.Tiering.Tiers {
		var serials []string
		for _, d := range grouped[BlockClass(t.Name)] {
			serials = append(serials, d.Serial)
		}
		descriptors = append(descriptors, tiering.TierDescriptor{
			Name:    tiering.Tier(t.Name),
			Root:    t.Root,
			Devices: serials,
		})
	}
	return descriptors
}

// VerifyTierRoots checks that the root of every eligible tier (one with at
// least one device) exists and is a directory, the startup fatal condition
// spec.md §7 names ("Tier root absent at startup"); tiers with no devices
// are not checked. Called after Run (or instead of it, when
// Bootstrap.Enabled is false and the union filesystem is assumed
// pre-configured).
func VerifyTierRoots(descriptors []tiering.TierDescriptor) error {
	for _, d := range descriptors {
		if !d.Eligible() {
			continue
		}
		if err := verifyDir(d.Root); err != nil {
			return errors.Wrap(errors.ErrCodeTierRootMissing, "tier root missing or not a directory", err).
				WithContext("tier", string(d.Name)).WithContext("root", d.Root)
		}
	}
	return nil
}

func verifyDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(errors.ErrCodePathInvalid, "path is not a directory").WithContext("path", path)
	}
	return nil
}
