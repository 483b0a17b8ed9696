package sqlstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

type backupRepo struct{ db *gorm.DB }

func (s *gormStore) Backups() store.BackupStore { return &backupRepo{s.db} }

// Upsert inserts a new backup, or updates the existing row if one with the
// same id (or, lacking an id, the same (serverId, name) pair) already
// exists — matching the agent's backup_complete report, which may or may
// not carry a backend-assigned id (spec §4.1).
func (r *backupRepo) Upsert(ctx context.Context, b *model.Backup) error {
	row := backupFromModel(b)

	if b.ID == "" {
		var existing Backup
		err := r.db.WithContext(ctx).First(&existing, "server_id = ? AND name = ?", b.ServerID, b.Name).Error
		switch {
		case err == nil:
			row.ID = existing.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return translate("backups: upsert lookup", err)
		}
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error; err != nil {
		return translate("backups: upsert", err)
	}
	b.ID = row.ID.String()
	return nil
}

func (r *backupRepo) GetByID(ctx context.Context, id string) (*model.Backup, error) {
	var row Backup
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("backups: get by id", err)
	}
	return backupToModel(&row), nil
}

func (r *backupRepo) GetByServerAndName(ctx context.Context, serverID, name string) (*model.Backup, error) {
	var row Backup
	if err := r.db.WithContext(ctx).First(&row, "server_id = ? AND name = ?", serverID, name).Error; err != nil {
		return nil, translate("backups: get by server and name", err)
	}
	return backupToModel(&row), nil
}

func (r *backupRepo) ListByServer(ctx context.Context, serverID string, opts store.ListOptions) ([]model.Backup, error) {
	var rows []Backup
	q := r.db.WithContext(ctx).Where("server_id = ?", serverID).Order("created_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("backups: list by server", err)
	}
	out := make([]model.Backup, len(rows))
	for i := range rows {
		out[i] = *backupToModel(&rows[i])
	}
	return out, nil
}
