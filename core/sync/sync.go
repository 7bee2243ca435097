// Package sync stages a local code tree into the working directory jobs run
// from. The scheduler gates job admission on a successful sync when the job
// names a source tree.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"training-manager/core/models"
)

// Syncer copies a source tree to a target directory, honoring exclude
// patterns, and reports the attempt as an immutable SyncRecord.
type Syncer interface {
	Sync(ctx context.Context, source, target string, excludes []string) (*models.SyncRecord, error)
}

// RsyncSyncer shells out to rsync for the copy.
type RsyncSyncer struct {
	// Timeout bounds one sync attempt. Zero means no bound.
	Timeout time.Duration
}

// NewRsyncSyncer creates a syncer with the given per-attempt timeout
func NewRsyncSyncer(timeout time.Duration) *RsyncSyncer {
	return &RsyncSyncer{Timeout: timeout}
}

// Sync implements Syncer. The returned record is always populated, also on
// failure, so the attempt can be persisted either way.
func (s *RsyncSyncer) Sync(ctx context.Context, source, target string, excludes []string) (*models.SyncRecord, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	args := []string{"-a", "--delete"}
	for _, pattern := range excludes {
		args = append(args, "--exclude", pattern)
	}
	// Trailing slash: copy the contents of source, not the directory itself.
	args = append(args, source+"/", target)

	cmd := exec.CommandContext(ctx, "rsync", args...)
	output, err := cmd.CombinedOutput()

	rec := &models.SyncRecord{
		SourcePath: source,
		TargetPath: target,
		Status:     models.SyncStatusSuccess,
		Output:     string(output),
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		rec.Status = models.SyncStatusFailed
		rec.Output = fmt.Sprintf("%s\n%v", output, err)
		slog.Error("code sync failed", "source", source, "target", target, "error", err)
		return rec, fmt.Errorf("rsync %s -> %s: %w", source, target, err)
	}

	slog.Info("code sync completed", "source", source, "target", target)
	return rec, nil
}
