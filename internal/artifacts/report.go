package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// CompletionReport is the terse JSON record written once a handle
// finishes: how many tasks ran, how long it took, and a coarse per-VP
// utilization breakdown. It carries no per-task trace.
type CompletionReport struct {
	HandleID      uint32          `json:"handle_id"`
	TotalTasks    int64           `json:"total_tasks"`
	WallTimeMS    int64           `json:"wall_time_ms"`
	VPUtilization []VPUtilization `json:"vp_utilization,omitempty"`
}

// VPUtilization is one VP's share of a completion report.
type VPUtilization struct {
	VPID     int   `json:"vp_id"`
	TasksRun int64 `json:"tasks_run"`
}

// PutReport marshals report and uploads it to store under key.
func PutReport(ctx context.Context, store Store, key string, report CompletionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("artifacts: marshal completion report: %w", err)
	}
	if err := store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("artifacts: upload completion report: %w", err)
	}
	return nil
}

// GetReport downloads and unmarshals the completion report stored under
// key.
func GetReport(ctx context.Context, store Store, key string) (*CompletionReport, error) {
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var report CompletionReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return nil, fmt.Errorf("artifacts: decode completion report: %w", err)
	}
	return &report, nil
}
