// Package tests holds black-box, multi-component scenarios exercising the
// tiering engine end to end: a real bbolt-backed store, a real filesystem
// layout under tiers, and the engine's own scan/mover/retry loops running on
// a ticker instead of being driven method-by-method.
package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftworks/drivetierd/internal/config"
	"github.com/driftworks/drivetierd/internal/copier"
	"github.com/driftworks/drivetierd/internal/tiering"
	"github.com/driftworks/drivetierd/pkg/utils"
)

// relocatingCopier stands in for rsync: it copies bytes from src to dst and
// removes src on success, matching the --remove-source-files semantics the
// real Copier relies on, without shelling out to a binary.
type relocatingCopier struct{}

func (relocatingCopier) Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}

func testLogger(t *testing.T) *utils.StructuredLogger {
	t.Helper()
	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  utils.FATAL,
		Output: os.Stderr,
		Format: utils.FormatText,
	})
	require.NoError(t, err)
	return logger
}

func TestEndToEnd_PromoteOnHeat(t *testing.T) {
	hotRoot := t.TempDir()
	coldRoot := t.TempDir()

	coldFile := filepath.Join(coldRoot, "report.csv")
	require.NoError(t, os.WriteFile(coldFile, []byte("quarterly numbers"), 0o644))

	store, err := tiering.OpenStore(filepath.Join(t.TempDir(), "metadata.db"), testLogger(t))
	require.NoError(t, err)
	defer store.Close()

	store.Put("cold/report.csv", tiering.FileRecord{
		Tier:           tiering.TierCold,
		AccessCount:    5,
		LastAccessTime: time.Now(),
		FileSize:       18,
	})

	cfg := config.TieringConfig{
		ScanInterval:         20 * time.Millisecond,
		ReconcileInterval:    time.Hour,
		MoverWorkers:         2,
		MoveQueueDepth:       8,
		RetryQueueDepth:      8,
		PromoteAfterAccesses: 3,
		AccessTimeThreshold:  time.Hour,
		TierCapacityThreshold: 0.9,
	}
	descriptors := []tiering.TierDescriptor{
		{Name: tiering.TierHot, Root: hotRoot, Devices: []string{"nvme0"}},
		{Name: tiering.TierCold, Root: coldRoot, Devices: []string{"sda"}},
	}

	engine := tiering.NewEngine(cfg, descriptors, store, relocatingCopier{}, testLogger(t), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Run(ctx)

	require.Eventually(t, func() bool {
		rec, found := store.Get("hot/report.csv")
		return found && rec.Tier == tiering.TierHot
	}, 2*time.Second, 10*time.Millisecond, "expected report.csv to be promoted to hot")

	cancel()
	waitWithTimeout(t, engine, 2*time.Second)

	if _, err := os.Stat(filepath.Join(hotRoot, "report.csv")); err != nil {
		t.Fatalf("expected promoted file to exist under the hot root: %v", err)
	}
	if _, err := os.Stat(coldFile); !os.IsNotExist(err) {
		t.Fatalf("expected source file under cold root to be gone after promotion")
	}
}

func TestEndToEnd_DryRunNeverTouchesDisk(t *testing.T) {
	hotRoot := t.TempDir()
	coldRoot := t.TempDir()

	coldFile := filepath.Join(coldRoot, "archive.tar")
	require.NoError(t, os.WriteFile(coldFile, []byte("archived payload"), 0o644))

	store, err := tiering.OpenStore(filepath.Join(t.TempDir(), "metadata.db"), testLogger(t))
	require.NoError(t, err)
	defer store.Close()

	store.Put("cold/archive.tar", tiering.FileRecord{
		Tier:           tiering.TierCold,
		AccessCount:    10,
		LastAccessTime: time.Now(),
		FileSize:       17,
	})

	cfg := config.TieringConfig{
		ScanInterval:         20 * time.Millisecond,
		ReconcileInterval:    time.Hour,
		MoverWorkers:         1,
		MoveQueueDepth:       8,
		RetryQueueDepth:      8,
		PromoteAfterAccesses: 1,
		AccessTimeThreshold:  time.Hour,
		TierCapacityThreshold: 0.9,
		DryRun:               true,
		DryRunMutatesStore:   true,
	}
	descriptors := []tiering.TierDescriptor{
		{Name: tiering.TierHot, Root: hotRoot, Devices: []string{"nvme0"}},
		{Name: tiering.TierCold, Root: coldRoot, Devices: []string{"sda"}},
	}

	// The dry-run copier never touches the filesystem; the caller (not the
	// engine) is responsible for selecting it based on Tiering.DryRun.
	engine := tiering.NewEngine(cfg, descriptors, store, copier.DryRunCopier{}, testLogger(t), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Run(ctx)

	require.Eventually(t, func() bool {
		rec, found := store.Get("hot/archive.tar")
		return found && rec.Tier == tiering.TierHot
	}, 2*time.Second, 10*time.Millisecond, "expected the store to reflect a dry-run move")

	cancel()
	waitWithTimeout(t, engine, 2*time.Second)

	if _, err := os.Stat(coldFile); err != nil {
		t.Fatalf("expected dry-run to leave the source file untouched on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(hotRoot, "archive.tar")); !os.IsNotExist(err) {
		t.Fatalf("expected dry-run to never create a destination file on disk")
	}
}

func waitWithTimeout(t *testing.T, engine *tiering.Engine, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("engine did not shut down within the expected grace period")
	}
}
