package block

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// hysteresis is the share of the cash limit a balance must fall to before an
// automatic block is lifted
var hysteresis = decimal.RequireFromString("0.8")

// Status is the block state of one rider. Rows are created on the first
// balance observation and never deleted.
type Status struct {
	ID                   uint                `json:"-" gorm:"primaryKey;autoIncrement"`
	Tenant               string              `json:"tenant" gorm:"type:varchar(64);not null;uniqueIndex:idx_block_status_rider"`
	EmployeeID           string              `json:"employeeId" gorm:"type:varchar(64);not null;uniqueIndex:idx_block_status_rider"`
	CityID               int64               `json:"cityId" gorm:"index"`
	IsAutoBlocked        bool                `json:"isAutoBlocked"`
	IsManualBlocked      bool                `json:"isManualBlocked"`
	LastBalance          decimal.NullDecimal `json:"lastBalance" gorm:"type:decimal(12,2)"`
	LastBalanceCheckedAt *time.Time          `json:"lastBalanceCheckedAt,omitempty"`
	AutoBlockedAt        *time.Time          `json:"autoBlockedAt,omitempty"`
	AutoUnblockedAt      *time.Time          `json:"autoUnblockedAt,omitempty"`
	ManualBlockedAt      *time.Time          `json:"manualBlockedAt,omitempty"`
	ManualReason         string              `json:"manualReason,omitempty" gorm:"type:text"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// TableName implements gorm's tabler
func (Status) TableName() string { return "rider_block_status" }

// CityConfig is the cash limit of one city
type CityConfig struct {
	Tenant           string          `json:"tenant" gorm:"primaryKey;type:varchar(64)"`
	CityID           int64           `json:"cityId" gorm:"primaryKey;autoIncrement:false"`
	Enabled          bool            `json:"enabled"`
	CashLimit        decimal.Decimal `json:"cashLimit" gorm:"type:decimal(12,2);not null"`
	UnblockThreshold decimal.Decimal `json:"unblockThreshold" gorm:"type:decimal(14,4);not null"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TableName implements gorm's tabler
func (CityConfig) TableName() string { return "city_block_config" }

// SetCashLimit sets the limit and its unblock threshold
func (c *CityConfig) SetCashLimit(limit decimal.Decimal) {
	c.CashLimit = limit
	c.UnblockThreshold = limit.Mul(hysteresis)
}

// BeforeSave keeps the threshold derived from the limit on every write
func (c *CityConfig) BeforeSave(*gorm.DB) error {
	c.SetCashLimit(c.CashLimit)
	return nil
}

// AfterFind derives the threshold from the stored limit so it never carries
// column rounding
func (c *CityConfig) AfterFind(*gorm.DB) error {
	c.UnblockThreshold = c.CashLimit.Mul(hysteresis)
	return nil
}

// Models lists the tables the block engine persists
func Models() []any {
	return []any{&Status{}, &CityConfig{}}
}
