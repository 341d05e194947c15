// Package matcher picks the supplier an order should be routed to.
package matcher

import (
	"strings"

	"supplyrouter/internal/domain"
)

// Options tunes Match.
type Options struct {
	// Fallback returns the first eligible supplier when no filter matches.
	Fallback bool
}

// Result describes how a supplier was chosen.
type Result struct {
	Supplier *domain.Supplier
	Priority int
	Keyword  string
	Fallback bool
}

// Match returns the best supplier for text, or nil. It is Best with the
// fallback policy enabled.
func Match(text string, suppliers []domain.Supplier) *domain.Supplier {
	return Best(text, suppliers, Options{Fallback: true}).Supplier
}

// Best scans eligible suppliers in registry order. A supplier's score is the
// highest priority among its active filters whose keyword occurs in text,
// ignoring case. The highest score wins and ties go to the earlier supplier.
func Best(text string, suppliers []domain.Supplier, opts Options) Result {
	lower := strings.ToLower(text)
	var (
		best     Result
		found    bool
		fallback *domain.Supplier
	)
	for i := range suppliers {
		s := &suppliers[i]
		if !s.IsEligible() {
			continue
		}
		if fallback == nil {
			fallback = s
		}
		score, keyword, ok := score(lower, s.Filters)
		if !ok {
			continue
		}
		if !found || score > best.Priority {
			best = Result{Supplier: s, Priority: score, Keyword: keyword}
			found = true
		}
	}
	if found {
		return best
	}
	if opts.Fallback && fallback != nil {
		return Result{Supplier: fallback, Fallback: true}
	}
	return Result{}
}

func score(lowerText string, filters []domain.Filter) (int, string, bool) {
	var (
		max     int
		keyword string
		ok      bool
	)
	for _, f := range filters {
		if !f.Active {
			continue
		}
		kw := strings.ToLower(strings.TrimSpace(f.Keyword))
		if kw == "" || !strings.Contains(lowerText, kw) {
			continue
		}
		if !ok || f.Priority > max {
			max = f.Priority
			keyword = f.Keyword
			ok = true
		}
	}
	return max, keyword, ok
}
