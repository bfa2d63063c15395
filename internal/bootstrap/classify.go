package bootstrap

import (
	"context"
	"encoding/json"
	"os/exec"

	"github.com/driftworks/drivetierd/pkg/errors"
)

// lsblkClassifyOutput mirrors `lsblk --json -po NAME,PATH,FSTYPE,MOUNTPOINT,SERIAL,ROTA,TRAN`,
// ported from the original's update_block_device (SPEC_FULL.md §4).
type lsblkClassifyOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	FSType     string        `json:"fstype"`
	MountPoint string        `json:"mountpoint"`
	Serial     string        `json:"serial"`
	Rota       bool          `json:"rota"`
	Tran       string        `json:"tran"`
	Children   []lsblkDevice `json:"children"`
}

// Classify runs lsblk against a single device path and derives its
// BlockClass from the rotational flag and transport: non-rotational +
// nvme transport is hot, non-rotational + anything else is warm
// (SATA/USB SSD), rotational is cold.
func Classify(ctx context.Context, devicePath string) (BlockDevice, error) {
	out, err := exec.CommandContext(ctx, "lsblk", "--json", "-po",
		"NAME,PATH,FSTYPE,MOUNTPOINT,SERIAL,ROTA,TRAN", devicePath).Output()
	if err != nil {
		return BlockDevice{}, errors.Wrap(errors.ErrCodeBootstrapFailed, "lsblk classify failed", err).
			WithContext("device", devicePath)
	}

	var parsed lsblkClassifyOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return BlockDevice{}, errors.Wrap(errors.ErrCodeBootstrapFailed, "parse lsblk classify output", err)
	}
	if len(parsed.BlockDevices) == 0 {
		return BlockDevice{}, errors.New(errors.ErrCodeBootstrapFailed, "lsblk returned no devices").
			WithContext("device", devicePath)
	}

	raw := parsed.BlockDevices[0]
	dev := BlockDevice{
		Name:      raw.Name,
		Path:      raw.Path,
		Serial:    raw.Serial,
		Rota:      raw.Rota,
		Transport: raw.Tran,
		Class:     classOf(raw.Rota, raw.Tran),
	}
	for _, c := range raw.Children {
		dev.Partitions = append(dev.Partitions, Partition{
			Name:       c.Name,
			Path:       c.Path,
			FSType:     c.FSType,
			MountPoint: c.MountPoint,
		})
	}
	return dev, nil
}

func classOf(rota bool, transport string) BlockClass {
	if rota {
		return ClassCold
	}
	if transport == "nvme" {
		return ClassHot
	}
	return ClassWarm
}
