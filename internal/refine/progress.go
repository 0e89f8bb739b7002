// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

// progress tracks consecutive dispatches of a section that produced no new
// evidence. A section reaching the limit is unresolvable for the rest of
// the run.
type progress struct {
	limit        int
	streak       map[string]int
	unresolvable map[string]bool
	order        []string
}

func newProgress(limit int) *progress {
	return &progress{
		limit:        limit,
		streak:       make(map[string]int),
		unresolvable: make(map[string]bool),
	}
}

// record notes the number of items inserted for a dispatched section and
// reports whether the section just became unresolvable.
func (p *progress) record(section string, inserted int) bool {
	if inserted > 0 {
		p.streak[section] = 0
		return false
	}
	p.streak[section]++
	if p.limit <= 0 || p.unresolvable[section] || p.streak[section] < p.limit {
		return false
	}
	p.unresolvable[section] = true
	p.order = append(p.order, section)
	return true
}

func (p *progress) isUnresolvable(section string) bool {
	return p.unresolvable[section]
}

// sections returns the unresolvable sections in the order they were marked.
func (p *progress) sections() []string {
	return append([]string(nil), p.order...)
}
