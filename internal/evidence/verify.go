// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import "fmt"

// Verify checks that every index agrees with the items: each item is
// reachable under its id, its own section, its locator, and its
// fingerprint, and no index names an id that is not stored. It returns an
// error wrapping ErrCorrupt describing the first disagreement.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byID) != len(s.items) || len(s.fingerprints) != len(s.items) {
		return fmt.Errorf("%w: %d items, %d ids, %d fingerprints",
			ErrCorrupt, len(s.items), len(s.byID), len(s.fingerprints))
	}

	wantSource := make(map[string][]string)
	wantHash := make(map[string][]string)
	for i, item := range s.items {
		if pos, ok := s.byID[item.ID]; !ok || pos != i {
			return fmt.Errorf("%w: id %q not indexed at position %d", ErrCorrupt, item.ID, i)
		}
		fp := Fingerprint(item)
		if fp != s.fingerprints[i] {
			return fmt.Errorf("%w: item %q changed after insertion", ErrCorrupt, item.ID)
		}
		if _, ok := s.sectionSet[item.Section][item.ID]; !ok {
			return fmt.Errorf("%w: item %q missing from its section %q", ErrCorrupt, item.ID, item.Section)
		}
		loc := Locator(item)
		wantSource[loc] = append(wantSource[loc], item.ID)
		wantHash[fp] = append(wantHash[fp], item.ID)
	}

	if !indexEqual(wantSource, s.bySource) {
		return fmt.Errorf("%w: source index does not match items", ErrCorrupt)
	}
	if !indexEqual(wantHash, s.hashIndex) {
		return fmt.Errorf("%w: fingerprint index does not match items", ErrCorrupt)
	}
	for fp, ids := range s.hashIndex {
		if len(ids) != 1 {
			return fmt.Errorf("%w: fingerprint %s held by %d items", ErrCorrupt, fp[:12], len(ids))
		}
	}

	for sec, ids := range s.bySection {
		if len(ids) != len(s.sectionSet[sec]) {
			return fmt.Errorf("%w: section %q membership out of sync", ErrCorrupt, sec)
		}
		for _, id := range ids {
			if _, ok := s.byID[id]; !ok {
				return fmt.Errorf("%w: section %q lists unknown id %q", ErrCorrupt, sec, id)
			}
			if _, ok := s.sectionSet[sec][id]; !ok {
				return fmt.Errorf("%w: section %q membership out of sync", ErrCorrupt, sec)
			}
		}
	}
	return nil
}
