package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

var firstNames = []string{"Ana", "Bruno", "Carla", "Diego", "Elena", "Felipe", "Gabriela", "Hugo", "Iris", "Joao"}

var vehicleTypes = []string{"bicycle", "motorcycle", "car"}

// Rider is one mock rider. Online riders show up in the live feed.
type Rider struct {
	ID           string
	CityID       int64
	Name         string
	Phone        string
	Email        string
	ContractType string
	Vehicle      string
	Online       bool
	Delivering   bool
	Completed    int
	Cancelled    int
	Total        int
	Balance      decimal.Decimal
}

// Fleet is the in-memory partner state
type Fleet struct {
	mu          sync.RWMutex
	cities      []int64
	riders      map[int64][]*Rider
	byID        map[string]*Rider
	points      map[int64][]StartingPoint
	assignments map[string][]int64
}

// StartingPoint is a permitted work location
type StartingPoint struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewFleet generates perCity riders for every city. Every third rider is
// offline and only appears in the roster.
func NewFleet(cities []int64, perCity int) *Fleet {
	f := &Fleet{
		cities:      slices.Clone(cities),
		riders:      make(map[int64][]*Rider),
		byID:        make(map[string]*Rider),
		points:      make(map[int64][]StartingPoint),
		assignments: make(map[string][]int64),
	}
	for _, city := range cities {
		for i := range 3 {
			id := city*100 + int64(i)
			f.points[city] = append(f.points[city], StartingPoint{ID: id, Name: fmt.Sprintf("Hub %d-%d", city, i+1)})
		}
		for i := range perCity {
			r := &Rider{
				ID:           fmt.Sprintf("%d%04d", city, i),
				CityID:       city,
				Name:         fmt.Sprintf("%s %d", firstNames[i%len(firstNames)], i),
				Phone:        fmt.Sprintf("+55 11 9%04d-%04d", city%10000, i),
				Email:        fmt.Sprintf("rider%d.%d@example.com", city, i),
				ContractType: []string{"freelancer", "employee"}[i%2],
				Vehicle:      vehicleTypes[i%len(vehicleTypes)],
				Online:       i%3 != 0,
				Delivering:   i%4 == 1,
				Completed:    i % 9,
				Cancelled:    i % 2,
				Total:        100 + i*7,
				Balance:      decimal.New(int64((i*3700)%20000), -2),
			}
			f.riders[city] = append(f.riders[city], r)
			f.byID[r.ID] = r
			f.assignments[r.ID] = f.pointIDs(city)
		}
	}
	return f
}

func (f *Fleet) pointIDs(city int64) []int64 {
	ids := make([]int64, 0, len(f.points[city]))
	for _, p := range f.points[city] {
		ids = append(ids, p.ID)
	}
	return ids
}

// Online returns the live riders of a city
func (f *Fleet) Online(city int64) []*Rider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Rider
	for _, r := range f.riders[city] {
		if r.Online {
			out = append(out, r)
		}
	}
	return out
}

// All returns every rider of every city
func (f *Fleet) All() []*Rider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Rider
	for _, city := range f.cities {
		out = append(out, f.riders[city]...)
	}
	return out
}

// StartingPoints returns the work locations of a city
func (f *Fleet) StartingPoints(city int64) ([]StartingPoint, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	points, ok := f.points[city]
	return slices.Clone(points), ok
}

// Assign replaces the permitted work locations of a rider
func (f *Fleet) Assign(employeeID string, ids []int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[employeeID]; !ok {
		return false
	}
	f.assignments[employeeID] = slices.Clone(ids)
	return true
}

// Assignment returns the permitted work locations of a rider
func (f *Fleet) Assignment(employeeID string) ([]int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids, ok := f.assignments[employeeID]
	return slices.Clone(ids), ok
}

// Update changes the wallet balance and online flag of a rider. Nil values
// are left as they are.
func (f *Fleet) Update(employeeID string, balance *decimal.Decimal, online *bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[employeeID]
	if !ok {
		return false
	}
	if balance != nil {
		r.Balance = *balance
	}
	if online != nil {
		r.Online = *online
	}
	return true
}
