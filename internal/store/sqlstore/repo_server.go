package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

type serverRepo struct{ db *gorm.DB }

func (s *gormStore) Servers() store.ServerStore { return &serverRepo{s.db} }

func (r *serverRepo) Create(ctx context.Context, sv *model.Server) error {
	row := serverFromModel(sv)
	if row.UUID == "" {
		row.UUID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("servers: create", err)
	}
	sv.ID = row.ID.String()
	sv.UUID = row.UUID
	sv.CreatedAt, sv.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (r *serverRepo) GetByID(ctx context.Context, id string) (*model.Server, error) {
	var row Server
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("servers: get by id", err)
	}
	return serverToModel(&row), nil
}

// GetByUUIDOrID resolves a server by its externally-visible uuid first, then
// falls back to the internal primary key, so both identifier forms are
// accepted on the wire (spec §3: "message routing MUST accept either").
func (r *serverRepo) GetByUUIDOrID(ctx context.Context, x string) (*model.Server, error) {
	var row Server
	err := r.db.WithContext(ctx).First(&row, "uuid = ?", x).Error
	if err == nil {
		return serverToModel(&row), nil
	}
	if err := r.db.WithContext(ctx).First(&row, "id = ?", x).Error; err != nil {
		return nil, translate("servers: get by uuid or id", err)
	}
	return serverToModel(&row), nil
}

func (r *serverRepo) Update(ctx context.Context, sv *model.Server) error {
	row := serverFromModel(sv)
	result := r.db.WithContext(ctx).Save(row)
	if result.Error != nil {
		return translate("servers: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *serverRepo) UpdateStatus(ctx context.Context, id string, status model.ServerStatus) error {
	result := r.db.WithContext(ctx).Model(&Server{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return translate("servers: update status", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *serverRepo) RecordCrash(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&Server{}).Where("id = ?", id).
		Updates(map[string]any{
			"crash_count":   gorm.Expr("crash_count + 1"),
			"last_crash_at": at,
		})
	if result.Error != nil {
		return translate("servers: record crash", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *serverRepo) ListByNode(ctx context.Context, nodeID string) ([]model.Server, error) {
	var rows []Server
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Find(&rows).Error; err != nil {
		return nil, translate("servers: list by node", err)
	}
	out := make([]model.Server, len(rows))
	for i := range rows {
		out[i] = *serverToModel(&rows[i])
	}
	return out, nil
}

func (r *serverRepo) ListByStatus(ctx context.Context, status model.ServerStatus) ([]model.Server, error) {
	var rows []Server
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, translate("servers: list by status", err)
	}
	out := make([]model.Server, len(rows))
	for i := range rows {
		out[i] = *serverToModel(&rows[i])
	}
	return out, nil
}
