package catalogsync

import (
	"context"
	"fmt"
)

// syncJob adapts one account's scheduled sync to the worker pool.
type syncJob struct {
	accountID string
	service   *Service
}

func (j *syncJob) ID() string { return j.accountID }

func (j *syncJob) Description() string {
	return fmt.Sprintf("library sync for account %s", j.accountID)
}

// Execute always returns the result, alongside its error, so the bulk
// summary keeps failure details.
func (j *syncJob) Execute(ctx context.Context) (*SyncResult, error) {
	res := j.service.sync(ctx, j.accountID, TriggerScheduled)
	return res, res.Err
}
