package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

type taskRepo struct{ db *gorm.DB }

func (s *gormStore) ScheduledTasks() store.ScheduledTaskStore { return &taskRepo{s.db} }

func (r *taskRepo) Create(ctx context.Context, t *model.ScheduledTask) error {
	row := taskFromModel(t)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("scheduled_tasks: create", err)
	}
	t.ID = row.ID.String()
	return nil
}

func (r *taskRepo) GetByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	var row ScheduledTask
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("scheduled_tasks: get by id", err)
	}
	return taskToModel(&row), nil
}

func (r *taskRepo) Update(ctx context.Context, t *model.ScheduledTask) error {
	row := taskFromModel(t)
	result := r.db.WithContext(ctx).Save(row)
	if result.Error != nil {
		return translate("scheduled_tasks: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&ScheduledTask{}, "id = ?", id)
	if result.Error != nil {
		return translate("scheduled_tasks: delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *taskRepo) ListEnabled(ctx context.Context) ([]model.ScheduledTask, error) {
	var rows []ScheduledTask
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, translate("scheduled_tasks: list enabled", err)
	}
	out := make([]model.ScheduledTask, len(rows))
	for i := range rows {
		out[i] = *taskToModel(&rows[i])
	}
	return out, nil
}

func (r *taskRepo) RecordRun(ctx context.Context, id string, ranAt time.Time, status model.TaskStatus, errMsg string, nextRunAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&ScheduledTask{}).Where("id = ?", id).Updates(map[string]any{
		"last_run_at": ranAt,
		"run_count":   gorm.Expr("run_count + 1"),
		"last_status": string(status),
		"last_error":  errMsg,
		"next_run_at": nextRunAt,
	})
	if result.Error != nil {
		return translate("scheduled_tasks: record run", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
