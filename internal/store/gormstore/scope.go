package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steward/internal/order"
	"steward/internal/store"
	"steward/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) Scope(ctx context.Context) ([]order.TrackingScopeEntry, error) {
	var models []model.TrackingScopeModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]order.TrackingScopeEntry, 0, len(models))
	for _, m := range models {
		out = append(out, scopeModelToEntry(m))
	}
	return out, nil
}

func (s *GormStore) ScopeEntry(ctx context.Context, symbol string) (*order.TrackingScopeEntry, error) {
	var m model.TrackingScopeModel
	err := s.db.WithContext(ctx).First(&m, "symbol = ?", symbol).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e := scopeModelToEntry(m)
	return &e, nil
}

func (s *GormStore) SaveScopeEntry(ctx context.Context, entry *order.TrackingScopeEntry) error {
	if entry == nil {
		return fmt.Errorf("gorm store: nil scope entry")
	}
	if entry.SystemTrackedQty < 0 {
		return fmt.Errorf("gorm store: system_tracked_qty must be >= 0 (symbol=%s qty=%f)", entry.Symbol, entry.SystemTrackedQty)
	}
	now := time.Now().Unix()
	m := model.TrackingScopeModel{
		Symbol:           entry.Symbol,
		SystemTrackedQty: entry.SystemTrackedQty,
		PreExistingQty:   entry.PreExistingQty,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !entry.LastReconciledAt.IsZero() {
		m.LastReconciledAt = entry.LastReconciledAt.Unix()
	}
	// pre_existing_qty is frozen at scope creation and never updated.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]any{
				"system_tracked_qty": m.SystemTrackedQty,
				"last_reconciled_at": m.LastReconciledAt,
				"updated_at":         m.UpdatedAt,
			}),
		}).
		Create(&m).Error
}

func (s *GormStore) DeleteScopeEntry(ctx context.Context, symbol string) error {
	return s.db.WithContext(ctx).
		Delete(&model.TrackingScopeModel{}, "symbol = ?", symbol).Error
}

func scopeModelToEntry(m model.TrackingScopeModel) order.TrackingScopeEntry {
	e := order.TrackingScopeEntry{
		Symbol:           m.Symbol,
		SystemTrackedQty: m.SystemTrackedQty,
		PreExistingQty:   m.PreExistingQty,
	}
	if m.LastReconciledAt > 0 {
		e.LastReconciledAt = time.Unix(m.LastReconciledAt, 0)
	}
	return e
}
