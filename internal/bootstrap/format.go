package bootstrap

import (
	"context"
	"os/exec"
	"strings"

	"github.com/driftworks/drivetierd/pkg/errors"
	"github.com/driftworks/drivetierd/pkg/recovery"
)

// NeedsFormat reports whether dev must be wiped and reformatted instead
// of mounted as-is: SPEC_FULL.md §4's conditional format-vs-mount
// decision is "a drive already carrying the configured filesystem with a
// single partition is mounted as-is; anything else is wiped,
// partitioned, and reformatted".
func NeedsFormat(dev BlockDevice, wantFilesystem string) bool {
	if !dev.HasSinglePartition() {
		return true
	}
	return !strings.EqualFold(dev.Partitions[0].FSType, wantFilesystem)
}

// Format unmounts every existing partition on dev, wipes it with a fresh
// GPT label and single partition, and creates the configured filesystem
// on it, ported from the original's format_drive (SPEC_FULL.md §4).
func Format(ctx context.Context, rm *recovery.RecoveryManager, dev BlockDevice, filesystem string) error {
	if err := Unmount(ctx, dev); err != nil {
		return err
	}

	return rm.Execute(ctx, "bootstrap", "format", func() error {
		if err := exec.CommandContext(ctx, "parted", "-s", dev.Path, "mklabel", "gpt").Run(); err != nil {
			return errors.Wrap(errors.ErrCodeFormatFailed, "partition table creation failed", err).
				WithContext("device", dev.Path)
		}
		if err := exec.CommandContext(ctx, "parted", "-s", dev.Path, "mkpart", "primary", "0%", "100%").Run(); err != nil {
			return errors.Wrap(errors.ErrCodeFormatFailed, "partition creation failed", err).
				WithContext("device", dev.Path)
		}

		partitionPath := dev.Path + "1"
		mkfsArgs := []string{"-t", strings.ToLower(filesystem), partitionPath}
		if err := exec.CommandContext(ctx, "mkfs", mkfsArgs...).Run(); err != nil {
			return errors.Wrap(errors.ErrCodeFormatFailed, "mkfs failed", err).
				WithContext("device", partitionPath).WithContext("filesystem", filesystem)
		}
		return nil
	})
}
