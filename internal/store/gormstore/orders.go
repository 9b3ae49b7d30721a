package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steward/internal/order"
	"steward/internal/store"
	"steward/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var terminalStatuses = []string{string(order.StatusClosed), string(order.StatusCancelled)}

func (s *GormStore) Upsert(ctx context.Context, o *order.Order, prev order.Status) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if o == nil {
		return fmt.Errorf("gorm store: nil order")
	}
	now := time.Now().Unix()
	m := orderToModel(o)
	m.UpdatedAt = now

	if o.ID == 0 {
		m.CreatedAt = now
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				return store.ErrActiveOrderExists
			}
			return err
		}
		o.ID = m.ID
		o.CreatedAt = time.Unix(m.CreatedAt, 0)
		o.UpdatedAt = time.Unix(m.UpdatedAt, 0)
		return nil
	}

	res := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("id = ? AND status = ?", o.ID, string(prev)).
		Updates(orderUpdateColumns(m))
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return store.ErrActiveOrderExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&model.OrderModel{}).
			Where("id = ?", o.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return store.ErrStaleWrite
	}
	o.UpdatedAt = time.Unix(now, 0)
	return nil
}

func (s *GormStore) Get(ctx context.Context, id int64) (*order.Order, error) {
	var m model.OrderModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o := modelToOrder(m)
	return &o, nil
}

func (s *GormStore) ByBrokerOrderID(ctx context.Context, brokerOrderID string) (*order.Order, error) {
	if brokerOrderID == "" {
		return nil, store.ErrNotFound
	}
	var m model.OrderModel
	err := s.db.WithContext(ctx).First(&m, "broker_order_id = ?", brokerOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o := modelToOrder(m)
	return &o, nil
}

func (s *GormStore) ActiveBySymbol(ctx context.Context, symbol string) (*order.Order, error) {
	var m model.OrderModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status NOT IN ?", symbol, terminalStatuses).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o := modelToOrder(m)
	return &o, nil
}

func (s *GormStore) ListNonTerminal(ctx context.Context) ([]order.Order, error) {
	var models []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return modelsToOrders(models), nil
}

func (s *GormStore) ListFailed(ctx context.Context) ([]order.Order, error) {
	var models []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(order.StatusFailed)).
		Order("first_failed_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return modelsToOrders(models), nil
}

func (s *GormStore) ListStale(ctx context.Context, olderThan time.Time) ([]order.Order, error) {
	var models []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("status NOT IN ? AND created_at < ?", terminalStatuses, olderThan.Unix()).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return modelsToOrders(models), nil
}

func (s *GormStore) CountersSince(ctx context.Context, since time.Time) (store.Counters, error) {
	var c store.Counters
	cutoff := since.Unix()
	// Placed keys on creation alone; rows merely touched after the cutoff
	// (archived, expired) are not the day's placements.
	err := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("created_at >= ?", cutoff).
		Count(&c.Placed).Error
	if err != nil {
		return c, err
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err = s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Select("status, COUNT(*) AS n").
		Where("created_at >= ? OR updated_at >= ?", cutoff, cutoff).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return c, err
	}
	for _, r := range rows {
		switch order.Status(r.Status) {
		case order.StatusOngoing, order.StatusClosed:
			c.Executed += r.N
		case order.StatusFailed, order.StatusCancelled:
			c.Rejected += r.N
		case order.StatusPending:
			c.Pending += r.N
		}
	}
	return c, nil
}

func (s *GormStore) ArchiveTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("status IN ? AND archived_at = 0 AND updated_at < ?", terminalStatuses, olderThan.Unix()).
		Update("archived_at", time.Now().Unix())
	return res.RowsAffected, res.Error
}

func orderToModel(o *order.Order) model.OrderModel {
	m := model.OrderModel{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		RequestedQty:   o.RequestedQty,
		RequestedPrice: o.RequestedPrice,
		Kind:           string(o.Kind),
		Variety:        string(o.Variety),
		BrokerOrderID:  o.BrokerOrderID,
		Status:         string(o.Status),
		Reason:         o.Reason,
		RetryCount:     o.RetryCount,
		ExecutionPrice: o.ExecutionPrice,
		ExecutionQty:   o.ExecutionQty,
	}
	if o.Raw != "" {
		m.RawData = datatypes.JSON(o.Raw)
	}
	if !o.FirstFailedAt.IsZero() {
		m.FirstFailedAt = o.FirstFailedAt.Unix()
	}
	if !o.LastRetryAttempt.IsZero() {
		m.LastRetryAttempt = o.LastRetryAttempt.Unix()
	}
	if !o.ExecutionTime.IsZero() {
		m.ExecutionTime = o.ExecutionTime.Unix()
	}
	if !o.ArchivedAt.IsZero() {
		m.ArchivedAt = o.ArchivedAt.Unix()
	}
	if !o.CreatedAt.IsZero() {
		m.CreatedAt = o.CreatedAt.Unix()
	}
	return m
}

// orderUpdateColumns lists every mutable column explicitly so zero values
// (e.g. a cleared broker_order_id) still persist.
func orderUpdateColumns(m model.OrderModel) map[string]any {
	return map[string]any{
		"broker_order_id":    m.BrokerOrderID,
		"status":             m.Status,
		"reason":             m.Reason,
		"requested_qty":      m.RequestedQty,
		"requested_price":    m.RequestedPrice,
		"retry_count":        m.RetryCount,
		"first_failed_at":    m.FirstFailedAt,
		"last_retry_attempt": m.LastRetryAttempt,
		"execution_price":    m.ExecutionPrice,
		"execution_qty":      m.ExecutionQty,
		"execution_time":     m.ExecutionTime,
		"raw_data":           m.RawData,
		"archived_at":        m.ArchivedAt,
		"updated_at":         m.UpdatedAt,
	}
}

func modelToOrder(m model.OrderModel) order.Order {
	o := order.Order{
		ID:             m.ID,
		Symbol:         m.Symbol,
		Side:           order.Side(m.Side),
		RequestedQty:   m.RequestedQty,
		RequestedPrice: m.RequestedPrice,
		Kind:           order.Kind(m.Kind),
		Variety:        order.Variety(m.Variety),
		BrokerOrderID:  m.BrokerOrderID,
		Status:         order.Status(m.Status),
		Reason:         m.Reason,
		RetryCount:     m.RetryCount,
		ExecutionPrice: m.ExecutionPrice,
		ExecutionQty:   m.ExecutionQty,
		Raw:            string(m.RawData),
	}
	if m.FirstFailedAt > 0 {
		o.FirstFailedAt = time.Unix(m.FirstFailedAt, 0)
	}
	if m.LastRetryAttempt > 0 {
		o.LastRetryAttempt = time.Unix(m.LastRetryAttempt, 0)
	}
	if m.ExecutionTime > 0 {
		o.ExecutionTime = time.Unix(m.ExecutionTime, 0)
	}
	if m.ArchivedAt > 0 {
		o.ArchivedAt = time.Unix(m.ArchivedAt, 0)
	}
	if m.CreatedAt > 0 {
		o.CreatedAt = time.Unix(m.CreatedAt, 0)
	}
	if m.UpdatedAt > 0 {
		o.UpdatedAt = time.Unix(m.UpdatedAt, 0)
	}
	return o
}

func modelsToOrders(models []model.OrderModel) []order.Order {
	out := make([]order.Order, 0, len(models))
	for _, m := range models {
		out = append(out, modelToOrder(m))
	}
	return out
}
