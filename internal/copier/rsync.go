// Package copier implements the "copy primitive" design note of spec.md §9:
// a capability that, given src and dst, returns success or failure, backed
// by the external rsync program (spec.md §6).
package copier

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/driftworks/drivetierd/pkg/errors"
)

// Copier moves a file from src to dst using rsync's attribute-preserving,
// remove-source-on-success flags. Exit 0 is the only success; any other
// exit, or a failure to spawn the process at all, is a failure (spec.md §7).
type Copier struct {
	// Bin is the rsync binary to invoke, overridable for testing.
	Bin string
}

// New returns a Copier invoking the rsync found on PATH.
func New() *Copier {
	return &Copier{Bin: "rsync"}
}

// rsyncArgs are spec.md §6's literal flags: archive, preserve xattrs/ACLs,
// preallocate the destination, and delete the source on success so a
// caller observing only the filesystem sees what looks like an atomic
// move.
var rsyncArgs = []string{"-axqHAXWES", "--preallocate", "--remove-source-files"}

// Copy creates dst's parent directory if absent, then runs rsync(src, dst).
// A non-zero exit or spawn error both return a *errors.DriveTierError
// classified for the Mover's "forward to Retry Queue" path (spec.md §4.3
// step 5); the caller does not need to distinguish the two.
func (c *Copier) Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(errors.ErrCodeCopySpawnFailed, "create destination directory", err).
			WithContext("dst", dst)
	}

	args := append(append([]string{}, rsyncArgs...), src, dst)
	cmd := exec.CommandContext(ctx, c.Bin, args...)

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return errors.Wrap(errors.ErrCodeCopyFailed, "rsync exited non-zero", err).
				WithContext("src", src).WithContext("dst", dst)
		}
		return errors.Wrap(errors.ErrCodeCopySpawnFailed, "rsync spawn failed", err).
			WithContext("src", src).WithContext("dst", dst)
	}
	return nil
}

// DryRunCopier never spawns rsync; it reports success unconditionally and
// is used when Tiering.DryRun is set (spec.md §6, Config.dryrun).
type DryRunCopier struct{}

// Copy implements the same signature as Copier.Copy without touching the
// filesystem, matching spec.md's dry-run scenario (§8 scenario 6): the
// Mover proceeds as though the copy tool ran, updating the store, but no
// child process is spawned and no filesystem change occurs.
func (DryRunCopier) Copy(ctx context.Context, src, dst string) error {
	return nil
}

// Interface both Copier and DryRunCopier satisfy, consumed by the Mover
// Worker Pool.
type Interface interface {
	Copy(ctx context.Context, src, dst string) error
}

var (
	_ Interface = (*Copier)(nil)
	_ Interface = DryRunCopier{}
)
