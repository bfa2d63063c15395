package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/driftworks/drivetierd/pkg/errors"
	"github.com/driftworks/drivetierd/pkg/recovery"
)

// physicalMountRoot is the per-device mountpoint root, ported from the
// original's `/mnt/physical/{class}/{serial}` convention.
const physicalMountRoot = "/mnt/physical"

// MountPoint returns the per-device mountpoint for dev, matching the
// original's mount_drive path convention.
func MountPoint(dev BlockDevice) string {
	return fmt.Sprintf("%s/%s/%s", physicalMountRoot, dev.Class, dev.Serial)
}

// Mount mounts dev's single data partition at its class/serial mountpoint
// if it is not already mounted there, via the recovery manager so a
// transient device-busy failure gets retried before it is treated as
// fatal (SPEC_FULL.md §3: pkg/recovery used for bootstrap mount/format).
func Mount(ctx context.Context, rm *recovery.RecoveryManager, dev BlockDevice) error {
	if !dev.HasSinglePartition() {
		return errors.New(errors.ErrCodeMountFailed, "device does not have exactly one partition").
			WithContext("device", dev.Path)
	}

	mountPoint := MountPoint(dev)
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeMountFailed, "create mount point directory", err).
			WithContext("mount_point", mountPoint)
	}

	part := dev.Partitions[0]
	if part.MountPoint == mountPoint {
		return nil
	}

	return rm.Execute(ctx, "bootstrap", "mount", func() error {
		if err := exec.CommandContext(ctx, "mount", part.Path, mountPoint).Run(); err != nil {
			return errors.Wrap(errors.ErrCodeMountFailed, "mount command failed", err).
				WithContext("device", part.Path).WithContext("mount_point", mountPoint)
		}
		return nil
	})
}

// Unmount lazily unmounts every partition of dev, used before a reformat
// (ported from format_drive's umount loop, SPEC_FULL.md §4).
func Unmount(ctx context.Context, dev BlockDevice) error {
	for _, part := range dev.Partitions {
		if part.MountPoint == "" {
			continue
		}
		if err := exec.CommandContext(ctx, "umount", "-l", part.Path).Run(); err != nil {
			return errors.Wrap(errors.ErrCodeMountFailed, "umount command failed", err).
				WithContext("partition", part.Path)
		}
	}
	return nil
}
