package bootstrap

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/driftworks/drivetierd/pkg/errors"
)

// defaultMergerfsOpts is used when Bootstrap.MergerfsOpts is unset. Based
// on the original's setup_mergerfs option string (SPEC_FULL.md §4), with
// two deliberate deviations: allow_other is kept (non-root readers of the
// union mount need it), but cache.files uses partial rather than the
// original's auto-full — the movers relocate files out from under open
// readers mid-scan, and auto-full's page-cache-as-source-of-truth
// behavior doesn't revalidate against the branch filesystem the way
// partial does.
const defaultMergerfsOpts = "allow_other,cache.files=partial,dropcacheonclose=true,category.create=mfs"

// Union runs mergerfs over every mounted device of one class, producing
// the tier root the core engine reads from (e.g. <unionRoot>/hot),
// ported from the original's setup_mergerfs (SPEC_FULL.md §4). foreground
// mirrors the original's dry-run `-f` behavior for observability during
// development.
func Union(ctx context.Context, devices []BlockDevice, unionRoot string, opts string, foreground bool) error {
	if len(devices) == 0 {
		return nil
	}

	target := unionRoot + "/" + string(devices[0].Class)
	if err := os.MkdirAll(target, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeUnionFailed, "create tier root directory", err).
			WithContext("target", target)
	}

	if opts == "" {
		opts = defaultMergerfsOpts
	}

	var sources []string
	for _, d := range devices {
		sources = append(sources, MountPoint(d))
	}
	source := strings.Join(sources, ":")

	args := []string{"-o", opts}
	if foreground {
		args = append(args, "-f")
	}
	args = append(args, source, target)

	if err := exec.CommandContext(ctx, "mergerfs", args...).Run(); err != nil {
		return errors.Wrap(errors.ErrCodeUnionFailed, "mergerfs mount failed", err).
			WithContext("target", target).WithContext("source", source)
	}
	return nil
}

// GroupByClass partitions devices into per-tier slices, the input shape
// Union expects (one call per non-empty class).
func GroupByClass(devices []BlockDevice) map[BlockClass][]BlockDevice {
	grouped := make(map[BlockClass][]BlockDevice)
	for _, d := range devices {
		grouped[d.Class] = append(grouped[d.Class], d)
	}
	return grouped
}
