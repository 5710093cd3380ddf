// Package room holds the per-room authoritative state and the serialized
// processing loop that owns it, plus the registry managing room lifecycles.
package room

import (
	"time"

	"github.com/google/uuid"

	"collaborative-canvas/internal/domain"
)

// ElementStore is one room's ordered, versioned element collection. It has
// no internal locking: it is mutated only by the owning room's processing
// loop, which serializes all operations for that room.
type ElementStore struct {
	order []*domain.Element
	byID  map[string]*domain.Element
}

func NewElementStore() *ElementStore {
	return &ElementStore{byID: make(map[string]*domain.Element)}
}

// Create assigns a fresh identifier, sets version 1 and appends the element.
// Append order defines the default stacking order.
func (s *ElementStore) Create(elType domain.ElementType, props domain.ElementProperties, authorSessionID string) domain.Element {
	now := time.Now().UTC()
	el := &domain.Element{
		ID:         uuid.NewString(),
		Type:       elType,
		Properties: props,
		Version:    1,
		CreatedBy:  authorSessionID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.order = append(s.order, el)
	s.byID[el.ID] = el
	return *el
}

// Update merges the patch into the element. When expectedVersion is non-nil
// and does not match the stored version the update is rejected with a
// *domain.VersionConflictError carrying the current version; the caller
// decides whether to retry. On success the version increases by exactly one.
func (s *ElementStore) Update(id string, patch domain.ElementPatch, expectedVersion *uint64) (domain.Element, error) {
	el, ok := s.byID[id]
	if !ok || el.IsDeleted {
		// Tombstoned elements reject late updates instead of resurrecting.
		return domain.Element{}, domain.ErrElementNotFound
	}
	if expectedVersion != nil && *expectedVersion != el.Version {
		return domain.Element{}, &domain.VersionConflictError{
			ElementID:       id,
			ExpectedVersion: *expectedVersion,
			CurrentVersion:  el.Version,
		}
	}
	el.Properties.Apply(patch)
	el.Version++
	el.UpdatedAt = time.Now().UTC()
	return *el, nil
}

// Delete tombstones the element, incrementing its version one final time.
// The record stays in the store so stale updates fail cleanly.
func (s *ElementStore) Delete(id string) (domain.Element, error) {
	el, ok := s.byID[id]
	if !ok || el.IsDeleted {
		return domain.Element{}, domain.ErrElementNotFound
	}
	el.IsDeleted = true
	el.Version++
	el.UpdatedAt = time.Now().UTC()
	return *el, nil
}

// Clear removes all elements unconditionally, tombstones included, and
// returns how many records were purged.
func (s *ElementStore) Clear() int {
	n := len(s.order)
	s.order = nil
	s.byID = make(map[string]*domain.Element)
	return n
}

// Snapshot returns copies of the non-deleted elements in stacking order.
func (s *ElementStore) Snapshot() []domain.Element {
	out := make([]domain.Element, 0, len(s.order))
	for _, el := range s.order {
		if el.IsDeleted {
			continue
		}
		cp := *el
		cp.Properties.Points = append([]domain.Point(nil), el.Properties.Points...)
		out = append(out, cp)
	}
	return out
}

// Get returns a copy of the element, tombstones included.
func (s *ElementStore) Get(id string) (domain.Element, bool) {
	el, ok := s.byID[id]
	if !ok {
		return domain.Element{}, false
	}
	return *el, true
}

// Len counts all records, tombstones included.
func (s *ElementStore) Len() int { return len(s.order) }
