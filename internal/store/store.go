package store

import (
	"context"

	"github.com/TTT3216/ic2/internal/model"
)

// TaskStats holds aggregate statistics over journaled tasks.
type TaskStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	TimedOut      int            `json:"timed_out"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the task journal. The journal
// only ever sees terminal summaries; live task state stays in memory.
type Store interface {
	RecordTask(ctx context.Context, s model.TaskSummary) error
	GetTask(ctx context.Context, id string) (*model.TaskSummary, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskSummary, int, error)
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}
