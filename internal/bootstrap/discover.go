package bootstrap

import (
	"context"
	"encoding/json"
	"os/exec"

	"github.com/driftworks/drivetierd/pkg/errors"
)

// lsblkDiscoverOutput mirrors the shape of `lsblk -dno path,type --json`.
type lsblkDiscoverOutput struct {
	BlockDevices []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"blockdevices"`
}

// Discover lists every whole-disk block device on the host, ported from
// the original's get_block_devices (SPEC_FULL.md §4).
func Discover(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "lsblk", "-dno", "path,type", "--json").Output()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBootstrapFailed, "lsblk discovery failed", err)
	}

	var parsed lsblkDiscoverOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBootstrapFailed, "parse lsblk discovery output", err)
	}

	var disks []string
	for _, d := range parsed.BlockDevices {
		if d.Type == "disk" {
			disks = append(disks, d.Path)
		}
	}
	return disks, nil
}

// ExcludeKnown filters out any device path whose serial is in the
// configured exclude_drives list (SPEC_FULL.md §4). Callers classify
// first to obtain serials, then filter.
func ExcludeKnown(devices []BlockDevice, excludeSerials []string) []BlockDevice {
	if len(excludeSerials) == 0 {
		return devices
	}
	excluded := make(map[string]struct{}, len(excludeSerials))
	for _, s := range excludeSerials {
		excluded[s] = struct{}{}
	}

	kept := devices[:0:0]
	for _, d := range devices {
		if _, skip := excluded[d.Serial]; skip {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
