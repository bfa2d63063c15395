// Package bootstrap implements the one-shot drive discovery, classification,
// conditional format, mount, and union setup that spec.md §1 scopes out of
// the core as an external collaborator, specified only at its interface
// (spec.md §6): it hands the core three TierDescriptors pointing at mounted,
// unioned tier roots and nothing more.
package bootstrap

// BlockClass is the coarse hot/warm/cold classification derived from a
// device's rotational flag and transport (SPEC_FULL.md §4, ported from the
// original's update_block_device).
type BlockClass string

const (
	ClassHot  BlockClass = "hot"  // non-rotational, nvme transport
	ClassWarm BlockClass = "warm" // non-rotational, non-nvme transport (SATA/USB SSD)
	ClassCold BlockClass = "cold" // rotational
)

// Partition describes one child partition of a BlockDevice, as reported by
// lsblk.
type Partition struct {
	Name       string
	Path       string
	FSType     string
	MountPoint string
}

// BlockDevice is a whole disk as reported by lsblk, annotated with its
// derived BlockClass once classified.
type BlockDevice struct {
	Name       string
	Path       string
	Serial     string
	Rota       bool
	Transport  string
	Class      BlockClass
	Partitions []Partition
}

// HasSinglePartition reports whether the device carries exactly one
// partition, the precondition for "mount as-is" instead of reformat
// (SPEC_FULL.md §4).
func (d BlockDevice) HasSinglePartition() bool {
	return len(d.Partitions) == 1
}
