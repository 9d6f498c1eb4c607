package rider

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestMergeAll_LiveWinsAndAppearsOnce(t *testing.T) {
	live := []Record{FromCourier(upstream.CityCourier{
		EmployeeID: "17",
		Name:       ptr("Ana Live"),
		CityID:     ptr(int64(804)),
		IsWorking:  ptr(true),
		Balance:    ptr(decimal.RequireFromString("151.00")),
	})}
	roster := []Record{
		FromEmployee(upstream.Employee{
			EmployeeID:      "17",
			Name:            ptr("Ana Roster"),
			Phone:           ptr("+34600000017"),
			CityID:          ptr(int64(804)),
			TotalDeliveries: ptr(1200),
			Balance:         ptr(decimal.RequireFromString("90.00")),
		}),
		FromEmployee(upstream.Employee{EmployeeID: "18", Name: ptr("Bo")}),
	}

	merged := MergeAll(live, roster)
	require.Len(t, merged, 2)

	ana := merged[0]
	assert.Equal(t, "17", ana.EmployeeID)
	assert.Equal(t, "Ana Live", *ana.Name)
	assert.Equal(t, "+34600000017", *ana.Phone, "roster enriches missing fields")
	assert.Equal(t, 1200, *ana.TotalDeliveries)
	assert.True(t, ana.Balance.Equal(decimal.RequireFromString("151")))
	assert.Equal(t, []cnst.Source{cnst.SourceLive, cnst.SourceRoster}, ana.Sources)

	assert.Equal(t, "18", merged[1].EmployeeID)
	assert.Equal(t, []cnst.Source{cnst.SourceRoster}, merged[1].Sources)
}

func TestMergeAll_OrderIndependentUnion(t *testing.T) {
	live := []Record{{EmployeeID: "1", Name: ptr("L1")}, {EmployeeID: "2", Name: ptr("L2")}}
	roster := []Record{{EmployeeID: "2", Name: ptr("R2")}, {EmployeeID: "3", Name: ptr("R3")}, {EmployeeID: "1"}}

	byID := func(rs []Record) map[string]string {
		m := map[string]string{}
		for _, r := range rs {
			m[r.EmployeeID] = *r.Name
		}
		return m
	}
	a := MergeAll(live, roster)
	b := MergeAll([]Record{live[1], live[0]}, []Record{roster[2], roster[1], roster[0]})
	assert.Equal(t, map[string]string{"1": "L1", "2": "L2", "3": "R3"}, byID(a))
	assert.Equal(t, byID(a), byID(b))
}

func TestResolveScope(t *testing.T) {
	city := int64(804)
	assert.True(t, ResolveScope(Filter{}, Caller{}).All)
	assert.Equal(t, []int64{804}, ResolveScope(Filter{CityID: &city}, Caller{}).Cities)
	assert.Equal(t, []int64{804}, ResolveScope(Filter{CityID: &city}, Caller{AllowedCities: []int64{902, 804}}).Cities)
	assert.Equal(t, []int64{17, 902}, ResolveScope(Filter{}, Caller{AllowedCities: []int64{902, 17, 902}}).Cities)

	dropped := ResolveScope(Filter{CityID: &city}, Caller{AllowedCities: []int64{902}})
	assert.True(t, dropped.Empty())
}

func TestFilter_Match(t *testing.T) {
	r := Record{
		EmployeeID:   "17",
		Name:         ptr("Ana Pérez"),
		Phone:        ptr("+34 600 000 017"),
		Email:        ptr("Ana@Example.com"),
		CityID:       ptr(int64(804)),
		Status:       ptr("ACTIVE"),
		ContractType: ptr("FREELANCE"),
		IsWorking:    ptr(true),
	}
	all := Scope{All: true}

	assert.True(t, Filter{Name: "ana"}.Match(r, all, Strict))
	assert.True(t, Filter{Phone: "600000017"}.Match(r, all, Strict))
	assert.True(t, Filter{Email: "ana@example.com"}.Match(r, all, Strict))
	assert.True(t, Filter{Status: "active", ContractType: "freelance"}.Match(r, all, Strict))
	assert.True(t, Filter{IsWorking: ptr(true)}.Match(r, all, Strict))
	assert.False(t, Filter{IsWorking: ptr(false)}.Match(r, all, Strict))
	assert.False(t, Filter{RiderID: "18"}.Match(r, all, Strict))
	assert.False(t, Filter{}.Match(r, Scope{Cities: []int64{902}}, Strict))

	// missing fields
	bare := Record{EmployeeID: "18"}
	assert.True(t, Filter{Name: "ana", HasActiveDelivery: ptr(true)}.Match(bare, Scope{Cities: []int64{804}}, Lenient))
	assert.False(t, Filter{Name: "ana"}.Match(bare, all, Strict))
	assert.False(t, Filter{}.Match(bare, Scope{Cities: []int64{804}}, Strict))
	assert.True(t, Filter{HasActiveDelivery: ptr(false)}.Match(bare, all, Strict))
	assert.False(t, Filter{HasActiveDelivery: ptr(true)}.Match(bare, all, Strict))
}

func TestCompare(t *testing.T) {
	records := []Record{
		{EmployeeID: "10", Name: ptr("bo")},
		{EmployeeID: "9", Name: ptr("Bo")},
		{EmployeeID: "3", Name: ptr("Zed"), IsWorking: ptr(true)},
		{EmployeeID: "4"},
		{EmployeeID: "1", Name: ptr("ana")},
		{EmployeeID: "2", Name: ptr("Xavi"), HasActiveDelivery: ptr(true)},
	}
	page := Paginate(records, 0, 10, PageOptions{FullSortThreshold: 100})
	var ids []string
	for _, r := range page.Items {
		ids = append(ids, r.EmployeeID)
	}
	assert.Equal(t, []string{"2", "3", "1", "9", "10", "4"}, ids)
}

func TestPaginate_Bounds(t *testing.T) {
	records := make([]Record, 45)
	for i := range records {
		records[i] = Record{EmployeeID: fmt.Sprint(i), Name: ptr(fmt.Sprintf("rider-%02d", i))}
	}
	opts := PageOptions{FullSortThreshold: 1000}

	p := Paginate(records, 2, 20, opts)
	assert.Equal(t, 45, p.TotalElements)
	assert.Len(t, p.Items, 5)
	assert.Equal(t, "40", p.Items[0].EmployeeID)

	p = Paginate(records, 3, 20, opts)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)
	assert.Equal(t, 45, p.TotalElements)

	p = Paginate(nil, 0, 20, opts)
	assert.Equal(t, 0, p.TotalElements)
	assert.Empty(t, p.Items)
}

func TestPaginate_WindowedSortMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	records := make([]Record, 500)
	for i := range records {
		records[i] = Record{
			EmployeeID: fmt.Sprint(rng.Intn(100000)*1000 + i),
			Name:       ptr(fmt.Sprintf("n%03d", rng.Intn(200))),
			IsWorking:  ptr(rng.Intn(3) == 0),
		}
	}
	for _, page := range []int{0, 1, 4, 24, 25} {
		full := Paginate(records, page, 20, PageOptions{FullSortThreshold: 1000})
		windowed := Paginate(records, page, 20, PageOptions{FullSortThreshold: 10, LookAheadPages: 2})
		assert.Equal(t, full, windowed, "page %d", page)
	}
}
