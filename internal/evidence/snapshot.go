// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Snapshot is a point-in-time copy of a store: the items in insertion
// order and the three indexes. It serializes as plain YAML or JSON.
type Snapshot struct {
	Items     []types.EvidenceItem `json:"items" yaml:"items"`
	BySection map[string][]string  `json:"by_section" yaml:"by_section"`
	BySource  map[string][]string  `json:"by_source" yaml:"by_source"`
	HashIndex map[string][]string  `json:"hash_index" yaml:"hash_index"`
}

// Snapshot copies the store. Later inserts do not affect the copy.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Items:     make([]types.EvidenceItem, len(s.items)),
		BySection: cloneIndex(s.bySection),
		BySource:  cloneIndex(s.bySource),
		HashIndex: cloneIndex(s.hashIndex),
	}
	for i, item := range s.items {
		snap.Items[i] = item.Clone()
	}
	return snap
}

// SectionIDs returns the member ids of a section in membership order.
func (snap Snapshot) SectionIDs(name string) []string {
	return snap.BySection[name]
}

// Sections returns the section names present in the snapshot, sorted.
func (snap Snapshot) Sections() []string {
	return slices.Sorted(maps.Keys(snap.BySection))
}

// Restore rebuilds a store from a snapshot. Items are re-inserted in
// order, then section membership is taken from the snapshot. Indexes present
// in the snapshot must match the rebuilt ones, otherwise Restore returns
// an error wrapping ErrCorrupt.
func Restore(snap Snapshot) (*Store, error) {
	s := NewStore()
	for _, item := range snap.Items {
		res, err := s.Insert(item)
		if err != nil {
			return nil, fmt.Errorf("%w: restoring %q: %v", ErrCorrupt, item.ID, err)
		}
		if res.Outcome != OutcomeInserted {
			return nil, fmt.Errorf("%w: snapshot holds duplicate of %q as %q", ErrCorrupt, res.ID, item.ID)
		}
	}

	if snap.BySection != nil {
		s.bySection = make(map[string][]string)
		s.sectionSet = make(map[string]map[string]struct{})
		for _, sec := range snap.Sections() {
			for _, id := range snap.BySection[sec] {
				if _, ok := s.byID[id]; !ok {
					return nil, fmt.Errorf("%w: section %q lists unknown id %q", ErrCorrupt, sec, id)
				}
				s.addMembership(sec, id)
			}
		}
	}

	if snap.BySource != nil && !indexEqual(snap.BySource, s.bySource) {
		return nil, fmt.Errorf("%w: source index does not match items", ErrCorrupt)
	}
	if snap.HashIndex != nil && !indexEqual(snap.HashIndex, s.hashIndex) {
		return nil, fmt.Errorf("%w: fingerprint index does not match items", ErrCorrupt)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

func cloneIndex(idx map[string][]string) map[string][]string {
	out := make(map[string][]string, len(idx))
	for k, ids := range idx {
		out[k] = slices.Clone(ids)
	}
	return out
}

func indexEqual(a, b map[string][]string) bool {
	return maps.EqualFunc(a, b, slices.Equal[[]string])
}
