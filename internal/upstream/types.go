// Package upstream talks to the partner platform. Payload fields the
// partner may omit are pointers so absence is explicit.
package upstream

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vehicle is the rider vehicle as reported by either view
type Vehicle struct {
	Type  *string `json:"type,omitempty"`
	Plate *string `json:"plate,omitempty"`
}

// CityCourier is one entry of the live per-city feed
type CityCourier struct {
	EmployeeID          string           `json:"employee_id"`
	CityID              *int64           `json:"city_id,omitempty"`
	Name                *string          `json:"name,omitempty"`
	Phone               *string          `json:"phone,omitempty"`
	Email               *string          `json:"email,omitempty"`
	WorkStatus          *string          `json:"work_status,omitempty"`
	ContractType        *string          `json:"contract_type,omitempty"`
	IsWorking           *bool            `json:"is_working,omitempty"`
	HasActiveDelivery   *bool            `json:"has_active_delivery,omitempty"`
	Vehicle             *Vehicle         `json:"vehicle,omitempty"`
	CompletedDeliveries *int             `json:"completed_deliveries,omitempty"`
	CancelledDeliveries *int             `json:"cancelled_deliveries,omitempty"`
	Balance             *decimal.Decimal `json:"balance,omitempty"`
	ShiftStartedAt      *time.Time       `json:"shift_started_at,omitempty"`
}

// CourierPage is one page of the live feed
type CourierPage struct {
	Content []CityCourier
	IsLast  bool
	// Skipped counts entries dropped as malformed
	Skipped int
}

// Employee is one entry of the roster directory
type Employee struct {
	EmployeeID      string           `json:"employee_id"`
	CityID          *int64           `json:"city_id,omitempty"`
	Name            *string          `json:"name,omitempty"`
	Phone           *string          `json:"phone,omitempty"`
	Email           *string          `json:"email,omitempty"`
	Status          *string          `json:"status,omitempty"`
	ContractType    *string          `json:"contract_type,omitempty"`
	Vehicle         *Vehicle         `json:"vehicle,omitempty"`
	TotalDeliveries *int             `json:"total_deliveries,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
}

// StartingPoint is a permitted work location of a city
type StartingPoint struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
