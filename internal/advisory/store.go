package advisory

import (
	"sync"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Store keeps a bounded, insertion-ordered collection of advisories.
// When the bound is exceeded the oldest entries fall off. Reads return
// copies; callers never share the backing slice.
type Store struct {
	mu         sync.RWMutex
	max        int
	advisories []models.Advisory
}

// NewStore returns an empty store bounded at max advisories.
func NewStore(max int) *Store {
	return &Store{max: max}
}

// Append adds an advisory at the tail, evicting the oldest entries if
// the bound would be exceeded.
func (s *Store) Append(adv models.Advisory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advisories = append(s.advisories, adv)
	if len(s.advisories) > s.max {
		s.advisories = s.advisories[len(s.advisories)-s.max:]
	}
}

// Recent returns up to limit advisories, newest first. A severity value
// filters to that tier; the empty string matches everything. A
// non-positive limit means no limit.
func (s *Store) Recent(limit int, severity models.Severity) []models.Advisory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.advisories) {
		limit = len(s.advisories)
	}
	out := make([]models.Advisory, 0, limit)
	for i := len(s.advisories) - 1; i >= 0 && len(out) < limit; i-- {
		if severity != "" && s.advisories[i].Severity != severity {
			continue
		}
		out = append(out, s.advisories[i])
	}
	return out
}

// ForFingerprint returns every stored advisory for fp in insertion
// order.
func (s *Store) ForFingerprint(fp string) []models.Advisory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Advisory
	for _, adv := range s.advisories {
		if adv.Fingerprint == fp {
			out = append(out, adv)
		}
	}
	return out
}

// ByID returns the advisory with the given id.
func (s *Store) ByID(id string) (models.Advisory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, adv := range s.advisories {
		if adv.AdvisoryID == id {
			return adv, true
		}
	}
	return models.Advisory{}, false
}

// Len returns the number of stored advisories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.advisories)
}
