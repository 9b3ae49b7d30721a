package model

import (
	"gorm.io/datatypes"
)

type OrderModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	Symbol           string         `gorm:"column:symbol;index"`
	Side             string         `gorm:"column:side"`
	RequestedQty     float64        `gorm:"column:requested_qty"`
	RequestedPrice   float64        `gorm:"column:requested_price"`
	Kind             string         `gorm:"column:order_kind"`
	Variety          string         `gorm:"column:variety"`
	BrokerOrderID    string         `gorm:"column:broker_order_id;index"`
	Status           string         `gorm:"column:status;index"`
	Reason           string         `gorm:"column:reason"`
	RetryCount       int            `gorm:"column:retry_count"`
	FirstFailedAt    int64          `gorm:"column:first_failed_at"`
	LastRetryAttempt int64          `gorm:"column:last_retry_attempt"`
	ExecutionPrice   float64        `gorm:"column:execution_price"`
	ExecutionQty     float64        `gorm:"column:execution_qty"`
	ExecutionTime    int64          `gorm:"column:execution_time"`
	RawData          datatypes.JSON `gorm:"column:raw_data;type:TEXT"`
	ArchivedAt       int64          `gorm:"column:archived_at"`
	CreatedAt        int64          `gorm:"column:created_at"`
	UpdatedAt        int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

type TrackingScopeModel struct {
	Symbol           string  `gorm:"column:symbol;primaryKey"`
	SystemTrackedQty float64 `gorm:"column:system_tracked_qty"`
	PreExistingQty   float64 `gorm:"column:pre_existing_qty"`
	LastReconciledAt int64   `gorm:"column:last_reconciled_at"`
	CreatedAt        int64   `gorm:"column:created_at"`
	UpdatedAt        int64   `gorm:"column:updated_at"`
}

func (TrackingScopeModel) TableName() string { return "tracking_scope" }
