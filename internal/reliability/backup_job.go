package reliability

import (
	"context"
	"time"
)

// BackupJob runs a backup then rotates old archives. It satisfies the
// scheduler's Job interface.
type BackupJob struct {
	service   *BackupService
	keepCount int
	timeout   time.Duration
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService, keepCount int) *BackupJob {
	return &BackupJob{
		service:   service,
		keepCount: keepCount,
		timeout:   30 * time.Minute,
	}
}

// Name implements the scheduler Job interface.
func (j *BackupJob) Name() string {
	return "data_backup"
}

// Run implements the scheduler Job interface.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, j.keepCount)
}
