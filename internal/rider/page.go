package rider

import (
	"cmp"
	"container/heap"
	"slices"
	"strconv"
	"strings"

	"github.com/amoylab/riderwatch/internal/common/cnst"
)

// Page is one page of search results
type Page struct {
	Items         []Record `json:"items"`
	Page          int      `json:"page"`
	PageSize      int      `json:"pageSize"`
	TotalElements int      `json:"totalElements"`
	// Degraded names the views that timed out or failed for this search
	Degraded []cnst.Source `json:"degraded,omitempty"`
}

// EmptyPage returns a page without items
func EmptyPage(page, size int) Page {
	return Page{Items: []Record{}, Page: page, PageSize: size}
}

// Compare orders active riders first, then by name ignoring case, then by
// numeric employee id. Riders without a name sort after named ones.
func Compare(a, b Record) int {
	if aa, ba := a.Active(), b.Active(); aa != ba {
		if aa {
			return -1
		}
		return 1
	}
	if c := compareName(a.Name, b.Name); c != 0 {
		return c
	}
	return compareID(a.EmployeeID, b.EmployeeID)
}

func compareName(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return strings.Compare(strings.ToLower(*a), strings.ToLower(*b))
}

// compareID orders numeric ids numerically, before any non-numeric id
func compareID(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(ai, bi)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// PageOptions tune Paginate
type PageOptions struct {
	// FullSortThreshold is the largest result set sorted in full
	FullSortThreshold int
	// LookAheadPages extends the partially sorted window past the requested page
	LookAheadPages int
}

// Paginate orders records and cuts page (zero based) of the given size.
// Result sets above the threshold only sort the leading window needed for
// the requested page plus the look-ahead.
func Paginate(records []Record, page, size int, opts PageOptions) Page {
	out := EmptyPage(page, size)
	out.TotalElements = len(records)
	if size <= 0 || page < 0 {
		return out
	}
	start := page * size
	if start >= len(records) {
		return out
	}

	var ordered []Record
	if len(records) <= opts.FullSortThreshold {
		ordered = slices.Clone(records)
		slices.SortStableFunc(ordered, Compare)
	} else {
		window := min(len(records), (page+1+max(opts.LookAheadPages, 0))*size)
		ordered = smallest(records, window)
	}
	end := min(start+size, len(ordered))
	out.Items = slices.Clone(ordered[start:end])
	return out
}

// smallest returns the k first records in Compare order, sorted
func smallest(records []Record, k int) []Record {
	h := &maxHeap{}
	for _, r := range records {
		if h.Len() < k {
			heap.Push(h, r)
			continue
		}
		if Compare(r, h.items[0]) < 0 {
			h.items[0] = r
			heap.Fix(h, 0)
		}
	}
	out := h.items
	slices.SortFunc(out, Compare)
	return out
}

// maxHeap keeps the largest record on top so it can be evicted
type maxHeap struct {
	items []Record
}

func (h *maxHeap) Len() int           { return len(h.items) }
func (h *maxHeap) Less(i, j int) bool { return Compare(h.items[i], h.items[j]) > 0 }
func (h *maxHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *maxHeap) Push(x any)         { h.items = append(h.items, x.(Record)) }
func (h *maxHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}
