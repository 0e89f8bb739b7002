// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence holds the deduplicating evidence store shared by a
// research run. Items are kept in insertion order and indexed by section
// membership, source locator, and content fingerprint.
package evidence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pdiddy/deep-research/pkg/types"
)

var (
	// ErrInvalidItem is returned for items that fail validation or whose id
	// is already held by different evidence.
	ErrInvalidItem = errors.New("invalid evidence item")

	// ErrCorrupt is returned when the indexes disagree with the items.
	ErrCorrupt = errors.New("evidence store corrupt")
)

// Outcome reports what Insert did with an item.
type Outcome int

const (
	// OutcomeInserted means the item was appended and indexed.
	OutcomeInserted Outcome = iota
	// OutcomeDeduplicated means an item with the same fingerprint was
	// already present; the store kept the first one.
	OutcomeDeduplicated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDeduplicated:
		return "deduplicated"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// InsertResult describes a successful Insert.
type InsertResult struct {
	Outcome Outcome

	// ID is the id of the retained item. For a duplicate this is the id of
	// the first item with the same fingerprint.
	ID string

	Fingerprint string

	// Linked is set when a duplicate added a section the retained item was
	// not yet a member of.
	Linked bool
}

// Filter selects items in Query. Zero fields match everything.
type Filter struct {
	Section string
	Source  types.SourceKind
	Tag     string
}

// View is the read-only face of a Store handed to analyzers and observers.
type View interface {
	Len() int
	Get(id string) (types.EvidenceItem, bool)
	Section(name string) []types.EvidenceItem
	Query(f Filter) []types.EvidenceItem
	Coverage(plan types.ResearchPlan) map[string]int
	Snapshot() Snapshot
}

// Store is a deduplicating, indexed collection of evidence items. It is
// safe for concurrent use; every insertion updates the items and all
// indexes under one lock.
type Store struct {
	mu sync.RWMutex

	items        []types.EvidenceItem
	fingerprints []string       // parallel to items
	byID         map[string]int // id → position in items

	bySection  map[string][]string // section → ids, membership order
	sectionSet map[string]map[string]struct{}
	bySource   map[string][]string // locator → ids
	hashIndex  map[string][]string // fingerprint → ids
}

var _ View = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:       make(map[string]int),
		bySection:  make(map[string][]string),
		sectionSet: make(map[string]map[string]struct{}),
		bySource:   make(map[string][]string),
		hashIndex:  make(map[string][]string),
	}
}

// Insert validates item and adds it unless evidence with the same
// fingerprint is already stored. A duplicate tagged to a new section makes
// the retained item a member of that section as well. Invalid items leave
// the store unchanged and return an error wrapping ErrInvalidItem.
func (s *Store) Insert(item types.EvidenceItem) (InsertResult, error) {
	if err := item.Validate(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	fp := Fingerprint(item)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ids := s.hashIndex[fp]; len(ids) > 0 {
		retained := ids[0]
		linked := s.addMembership(item.Section, retained)
		return InsertResult{Outcome: OutcomeDeduplicated, ID: retained, Fingerprint: fp, Linked: linked}, nil
	}
	if _, taken := s.byID[item.ID]; taken {
		return InsertResult{}, fmt.Errorf("%w: id %q already holds different evidence", ErrInvalidItem, item.ID)
	}

	item = item.Clone()
	s.byID[item.ID] = len(s.items)
	s.items = append(s.items, item)
	s.fingerprints = append(s.fingerprints, fp)
	s.addMembership(item.Section, item.ID)
	loc := Locator(item)
	s.bySource[loc] = append(s.bySource[loc], item.ID)
	s.hashIndex[fp] = append(s.hashIndex[fp], item.ID)

	return InsertResult{Outcome: OutcomeInserted, ID: item.ID, Fingerprint: fp}, nil
}

// addMembership records id under section and reports whether it was new.
// The caller holds the write lock.
func (s *Store) addMembership(section, id string) bool {
	set, ok := s.sectionSet[section]
	if !ok {
		set = make(map[string]struct{})
		s.sectionSet[section] = set
	}
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	s.bySection[section] = append(s.bySection[section], id)
	return true
}

// Merge inserts items in order and reports per-section counts, keyed by
// each item's Section. Merging the same items twice leaves the store
// unchanged the second time.
func (s *Store) Merge(items []types.EvidenceItem) MergeReport {
	var report MergeReport
	for _, item := range items {
		res, err := s.Insert(item)
		switch {
		case err != nil:
			report.add(item.Section, SectionCounts{Rejected: 1})
			report.Errors = append(report.Errors, err.Error())
		case res.Outcome == OutcomeInserted:
			report.add(item.Section, SectionCounts{Inserted: 1})
		default:
			c := SectionCounts{Deduplicated: 1}
			if res.Linked {
				c.Linked = 1
			}
			report.add(item.Section, c)
		}
	}
	return report
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (types.EvidenceItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return types.EvidenceItem{}, false
	}
	return s.items[i].Clone(), true
}

// Section returns the members of a section in insertion order, including
// items linked from other sections by deduplication.
func (s *Store) Section(name string) []types.EvidenceItem {
	return s.Query(Filter{Section: name})
}

// Query returns the items matching every non-zero field of f, in
// insertion order. An empty filter returns all items.
func (s *Store) Query(f Filter) []types.EvidenceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var members map[string]struct{}
	if f.Section != "" {
		members = s.sectionSet[f.Section]
		if len(members) == 0 {
			return nil
		}
	}

	var out []types.EvidenceItem
	for _, item := range s.items {
		if members != nil {
			if _, ok := members[item.ID]; !ok {
				continue
			}
		}
		if f.Source != "" && item.Source != f.Source {
			continue
		}
		if f.Tag != "" && !item.HasTag(f.Tag) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

// Coverage returns the number of members of each plan section. Sections
// without evidence are present with a zero count.
func (s *Store) Coverage(plan types.ResearchPlan) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cov := make(map[string]int, len(plan.Sections))
	for _, sec := range plan.Sections {
		cov[sec.Name] = len(s.bySection[sec.Name])
	}
	return cov
}

// SourceIDs returns the ids stored under a source locator.
func (s *Store) SourceIDs(locator string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.bySource[locator]...)
}

// FingerprintIDs returns the ids stored under a content fingerprint.
func (s *Store) FingerprintIDs(fp string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.hashIndex[fp]...)
}
