// Package rider is the merged rider view: records built from the live and
// roster partner views, search criteria, ordering and pagination.
package rider

import (
	"slices"
	"time"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/upstream"

	"github.com/shopspring/decimal"
)

// Record is one rider. Nil fields were reported by neither view.
type Record struct {
	EmployeeID        string            `json:"employeeId"`
	Name              *string           `json:"name,omitempty"`
	Phone             *string           `json:"phone,omitempty"`
	Email             *string           `json:"email,omitempty"`
	CityID            *int64            `json:"cityId,omitempty"`
	Status            *string           `json:"status,omitempty"`
	ContractType      *string           `json:"contractType,omitempty"`
	IsWorking         *bool             `json:"isWorking,omitempty"`
	HasActiveDelivery *bool             `json:"hasActiveDelivery,omitempty"`
	Vehicle           *upstream.Vehicle `json:"vehicle,omitempty"`
	// live session counters, as reported for the current shift
	CompletedDeliveries *int       `json:"completedDeliveries,omitempty"`
	CancelledDeliveries *int       `json:"cancelledDeliveries,omitempty"`
	ShiftStartedAt      *time.Time `json:"shiftStartedAt,omitempty"`
	// lifetime counter from the roster
	TotalDeliveries *int             `json:"totalDeliveries,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Sources         []cnst.Source    `json:"sources"`
}

// FromCourier converts a live feed entry
func FromCourier(c upstream.CityCourier) Record {
	return Record{
		EmployeeID:          c.EmployeeID,
		Name:                c.Name,
		Phone:               c.Phone,
		Email:               c.Email,
		CityID:              c.CityID,
		Status:              c.WorkStatus,
		ContractType:        c.ContractType,
		IsWorking:           c.IsWorking,
		HasActiveDelivery:   c.HasActiveDelivery,
		Vehicle:             c.Vehicle,
		CompletedDeliveries: c.CompletedDeliveries,
		CancelledDeliveries: c.CancelledDeliveries,
		ShiftStartedAt:      c.ShiftStartedAt,
		Balance:             c.Balance,
		Sources:             []cnst.Source{cnst.SourceLive},
	}
}

// FromEmployee converts a roster entry
func FromEmployee(e upstream.Employee) Record {
	return Record{
		EmployeeID:      e.EmployeeID,
		Name:            e.Name,
		Phone:           e.Phone,
		Email:           e.Email,
		CityID:          e.CityID,
		Status:          e.Status,
		ContractType:    e.ContractType,
		Vehicle:         e.Vehicle,
		TotalDeliveries: e.TotalDeliveries,
		Balance:         e.Balance,
		Sources:         []cnst.Source{cnst.SourceRoster},
	}
}

// Active reports whether the rider is working or delivering right now
func (r Record) Active() bool {
	return (r.IsWorking != nil && *r.IsWorking) || (r.HasActiveDelivery != nil && *r.HasActiveDelivery)
}

func pick[T any](live, roster *T) *T {
	if live != nil {
		return live
	}
	return roster
}

// Merge overlays a live record on a roster record of the same rider. Every
// field present in live wins.
func Merge(live, roster Record) Record {
	out := Record{
		EmployeeID:          live.EmployeeID,
		Name:                pick(live.Name, roster.Name),
		Phone:               pick(live.Phone, roster.Phone),
		Email:               pick(live.Email, roster.Email),
		CityID:              pick(live.CityID, roster.CityID),
		Status:              pick(live.Status, roster.Status),
		ContractType:        pick(live.ContractType, roster.ContractType),
		IsWorking:           pick(live.IsWorking, roster.IsWorking),
		HasActiveDelivery:   pick(live.HasActiveDelivery, roster.HasActiveDelivery),
		Vehicle:             pick(live.Vehicle, roster.Vehicle),
		CompletedDeliveries: pick(live.CompletedDeliveries, roster.CompletedDeliveries),
		CancelledDeliveries: pick(live.CancelledDeliveries, roster.CancelledDeliveries),
		ShiftStartedAt:      pick(live.ShiftStartedAt, roster.ShiftStartedAt),
		TotalDeliveries:     pick(live.TotalDeliveries, roster.TotalDeliveries),
		Balance:             pick(live.Balance, roster.Balance),
	}
	out.Sources = append(slices.Clone(live.Sources), roster.Sources...)
	slices.Sort(out.Sources)
	out.Sources = slices.Compact(out.Sources)
	return out
}

// MergeAll unions both views by employee id. Live entries override roster
// entries of the same rider; roster-only entries are appended. Duplicate ids
// inside one view keep the last entry.
func MergeAll(live, roster []Record) []Record {
	index := make(map[string]int, len(live)+len(roster))
	out := make([]Record, 0, len(live)+len(roster))
	for _, r := range live {
		if i, ok := index[r.EmployeeID]; ok {
			out[i] = r
			continue
		}
		index[r.EmployeeID] = len(out)
		out = append(out, r)
	}
	liveCount := len(out)
	for _, r := range roster {
		i, ok := index[r.EmployeeID]
		switch {
		case !ok:
			index[r.EmployeeID] = len(out)
			out = append(out, r)
		case i < liveCount:
			out[i] = Merge(out[i], r)
		default:
			out[i] = r
		}
	}
	return out
}
