package upstream

import (
	"fmt"
	"strconv"
	"time"

	"github.com/amoylab/riderwatch/internal/common/errorx"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Live feed entry:
//
//	{"employee_id": "e-1", "city": {"id": 804}, "name": "...", "phone": "...",
//	 "work_status": "ONLINE", "is_working": true, "has_active_delivery": false,
//	 "vehicle": {"type": "BIKE", "plate": "..."},
//	 "deliveries": {"completed": 4, "cancelled": 0},
//	 "wallet": {"balance": "120.50"}, "shift_started_at": "2026-01-01T08:00:00Z"}
func decodeCourier(r gjson.Result) (CityCourier, error) {
	if !r.IsObject() {
		return CityCourier{}, fmt.Errorf("entry is not an object")
	}
	id, err := idString(r.Get("employee_id"))
	if err != nil {
		return CityCourier{}, err
	}
	c := CityCourier{EmployeeID: id}
	if c.CityID, err = optInt64(r.Get("city.id")); err != nil {
		return CityCourier{}, err
	}
	c.Name = optString(r.Get("name"))
	c.Phone = optString(r.Get("phone"))
	c.Email = optString(r.Get("email"))
	c.WorkStatus = optString(r.Get("work_status"))
	c.ContractType = optString(r.Get("contract_type"))
	c.IsWorking = optBool(r.Get("is_working"))
	c.HasActiveDelivery = optBool(r.Get("has_active_delivery"))
	c.Vehicle = optVehicle(r.Get("vehicle"))
	if c.CompletedDeliveries, err = optInt(r.Get("deliveries.completed")); err != nil {
		return CityCourier{}, err
	}
	if c.CancelledDeliveries, err = optInt(r.Get("deliveries.cancelled")); err != nil {
		return CityCourier{}, err
	}
	if c.Balance, err = optDecimal(r.Get("wallet.balance")); err != nil {
		return CityCourier{}, err
	}
	if c.ShiftStartedAt, err = optTime(r.Get("shift_started_at")); err != nil {
		return CityCourier{}, err
	}
	return c, nil
}

// Roster entry:
//
//	{"id": 17, "full_name": "...", "phone_number": "...", "email": "...",
//	 "city_id": 804, "status": "ACTIVE", "contract": {"type": "FREELANCE"},
//	 "vehicle": {...}, "total_deliveries": 1200, "balance": 35.2}
func decodeEmployee(r gjson.Result) (Employee, error) {
	if !r.IsObject() {
		return Employee{}, fmt.Errorf("entry is not an object")
	}
	id, err := idString(r.Get("id"))
	if err != nil {
		return Employee{}, err
	}
	e := Employee{EmployeeID: id}
	if e.CityID, err = optInt64(r.Get("city_id")); err != nil {
		return Employee{}, err
	}
	e.Name = optString(r.Get("full_name"))
	e.Phone = optString(r.Get("phone_number"))
	e.Email = optString(r.Get("email"))
	e.Status = optString(r.Get("status"))
	e.ContractType = optString(r.Get("contract.type"))
	e.Vehicle = optVehicle(r.Get("vehicle"))
	if e.TotalDeliveries, err = optInt(r.Get("total_deliveries")); err != nil {
		return Employee{}, err
	}
	if e.Balance, err = optDecimal(r.Get("balance")); err != nil {
		return Employee{}, err
	}
	return e, nil
}

// decodeEach decodes every element of a JSON array, skipping the ones that
// fail. It reports each failure as a MalformedRecord error.
func decodeEach[T any](arr gjson.Result, decode func(gjson.Result) (T, error), skip func(idx int, err error)) []T {
	out := make([]T, 0, len(arr.Array()))
	idx := 0
	arr.ForEach(func(_, v gjson.Result) bool {
		rec, err := decode(v)
		if err != nil {
			skip(idx, errorx.New(errorx.KindMalformedRecord, "upstream.decode", "", err))
		} else {
			out = append(out, rec)
		}
		idx++
		return true
	})
	return out
}

func idString(r gjson.Result) (string, error) {
	switch r.Type {
	case gjson.String:
		if r.Str != "" {
			return r.Str, nil
		}
	case gjson.Number:
		return r.Raw, nil
	}
	return "", fmt.Errorf("missing employee id")
}

func optString(r gjson.Result) *string {
	if r.Type != gjson.String {
		return nil
	}
	s := r.Str
	return &s
}

func optBool(r gjson.Result) *bool {
	if r.Type != gjson.True && r.Type != gjson.False {
		return nil
	}
	b := r.Bool()
	return &b
}

func optInt64(r gjson.Result) (*int64, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	raw := r.Raw
	if r.Type == gjson.String {
		raw = r.Str
	} else if r.Type != gjson.Number {
		return nil, fmt.Errorf("expected integer, got %s", r.Type)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optInt(r gjson.Result) (*int, error) {
	v, err := optInt64(r)
	if v == nil || err != nil {
		return nil, err
	}
	i := int(*v)
	return &i, nil
}

func optDecimal(r gjson.Result) (*decimal.Decimal, error) {
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = r.Str
	case gjson.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected amount, got %s", r.Type)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optTime(r gjson.Result) (*time.Time, error) {
	if r.Type != gjson.String || r.Str == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, r.Str)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optVehicle(r gjson.Result) *Vehicle {
	if !r.IsObject() {
		return nil
	}
	v := &Vehicle{Type: optString(r.Get("type")), Plate: optString(r.Get("plate"))}
	if v.Type == nil && v.Plate == nil {
		return nil
	}
	return v
}
