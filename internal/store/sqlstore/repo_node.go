package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

type nodeRepo struct{ db *gorm.DB }

func (s *gormStore) Nodes() store.NodeStore { return &nodeRepo{s.db} }

func (r *nodeRepo) Create(ctx context.Context, n *model.Node) error {
	row := nodeFromModel(n)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("nodes: create", err)
	}
	n.ID = row.ID.String()
	n.CreatedAt, n.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (r *nodeRepo) GetByID(ctx context.Context, id string) (*model.Node, error) {
	var row Node
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("nodes: get by id", err)
	}
	return nodeToModel(&row), nil
}

func (r *nodeRepo) Update(ctx context.Context, n *model.Node) error {
	row := nodeFromModel(n)
	result := r.db.WithContext(ctx).Save(row)
	if result.Error != nil {
		return translate("nodes: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *nodeRepo) SetOnline(ctx context.Context, id string, online bool, lastSeenAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&Node{}).Where("id = ?", id).Updates(map[string]any{
		"is_online":    online,
		"last_seen_at": lastSeenAt,
	})
	if result.Error != nil {
		return translate("nodes: set online", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *nodeRepo) List(ctx context.Context, opts store.ListOptions) ([]model.Node, error) {
	var rows []Node
	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("nodes: list", err)
	}
	out := make([]model.Node, len(rows))
	for i := range rows {
		out[i] = *nodeToModel(&rows[i])
	}
	return out, nil
}

func (r *nodeRepo) ListOfflineSince(ctx context.Context, cutoff time.Time) ([]model.Node, error) {
	var rows []Node
	if err := r.db.WithContext(ctx).
		Where("is_online = ? AND last_seen_at < ?", true, cutoff).
		Find(&rows).Error; err != nil {
		return nil, translate("nodes: list offline since", err)
	}
	out := make([]model.Node, len(rows))
	for i := range rows {
		out[i] = *nodeToModel(&rows[i])
	}
	return out, nil
}
