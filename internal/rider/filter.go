package rider

import (
	"slices"
	"strings"
)

// Filter is the search criteria. Zero values mean "any".
type Filter struct {
	CityID            *int64 `form:"cityId" json:"cityId,omitempty"`
	RiderID           string `form:"riderId" json:"riderId,omitempty"`
	Name              string `form:"name" json:"name,omitempty"`
	Phone             string `form:"phone" json:"phone,omitempty"`
	Email             string `form:"email" json:"email,omitempty"`
	Status            string `form:"status" json:"status,omitempty"`
	ContractType      string `form:"contractType" json:"contractType,omitempty"`
	IsWorking         *bool  `form:"isWorking" json:"isWorking,omitempty"`
	HasActiveDelivery *bool  `form:"hasActiveDelivery" json:"hasActiveDelivery,omitempty"`
}

// Caller is the identity a search runs for
type Caller struct {
	Tenant string
	// AllowedCities restricts the caller; empty means unrestricted
	AllowedCities []int64
}

// Scope is the effective set of cities a search covers
type Scope struct {
	// All is set when neither the filter nor the caller restricts cities
	All    bool
	Cities []int64
}

// Empty reports whether the scope can match nothing
func (s Scope) Empty() bool {
	return !s.All && len(s.Cities) == 0
}

// Contains reports whether a city is in scope
func (s Scope) Contains(city int64) bool {
	return s.All || slices.Contains(s.Cities, city)
}

// ResolveScope intersects the filter city with the caller's allowed cities.
// A filter city the caller may not see yields an empty scope, not an error.
func ResolveScope(f Filter, c Caller) Scope {
	if f.CityID != nil {
		if len(c.AllowedCities) == 0 || slices.Contains(c.AllowedCities, *f.CityID) {
			return Scope{Cities: []int64{*f.CityID}}
		}
		return Scope{}
	}
	if len(c.AllowedCities) == 0 {
		return Scope{All: true}
	}
	cities := slices.Clone(c.AllowedCities)
	slices.Sort(cities)
	return Scope{Cities: slices.Compact(cities)}
}

// MatchMode selects how fields missing from a record are treated
type MatchMode int

const (
	// Lenient lets a record pass a criterion on a field it does not carry.
	// Used on a single view before merging, when the other view may still
	// supply the field.
	Lenient MatchMode = iota
	// Strict fails a criterion on a missing field. Missing work flags
	// count as false.
	Strict
)

// Match reports whether the record satisfies the filter within scope
func (f Filter) Match(r Record, scope Scope, mode MatchMode) bool {
	if !scope.All {
		if r.CityID == nil {
			if mode == Strict {
				return false
			}
		} else if !scope.Contains(*r.CityID) {
			return false
		}
	}
	if f.RiderID != "" && r.EmployeeID != f.RiderID {
		return false
	}
	if !matchText(f.Name, r.Name, mode, containsFold) ||
		!matchText(f.Phone, r.Phone, mode, containsPhone) ||
		!matchText(f.Email, r.Email, mode, strings.EqualFold) ||
		!matchText(f.Status, r.Status, mode, strings.EqualFold) ||
		!matchText(f.ContractType, r.ContractType, mode, strings.EqualFold) {
		return false
	}
	return matchFlag(f.IsWorking, r.IsWorking, mode) &&
		matchFlag(f.HasActiveDelivery, r.HasActiveDelivery, mode)
}

func matchText(want string, got *string, mode MatchMode, eq func(got, want string) bool) bool {
	if want == "" {
		return true
	}
	if got == nil {
		return mode == Lenient
	}
	return eq(*got, want)
}

func matchFlag(want, got *bool, mode MatchMode) bool {
	if want == nil {
		return true
	}
	if got == nil {
		if mode == Lenient {
			return true
		}
		return !*want
	}
	return *got == *want
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// containsPhone compares digits only so "+1 (555) 010" finds "+15550100"
func containsPhone(s, substr string) bool {
	d := digits(substr)
	if d == "" {
		return containsFold(s, substr)
	}
	return strings.Contains(digits(s), d)
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
