package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"copyflow.org/internal/ids"
)

// InMemory is a Store backed by process memory. Used in tests and as the
// default backend when no database is configured.
type InMemory struct {
	mu       sync.RWMutex
	items    map[string]*Item
	comments map[string][]*Comment
	seq      uint64
	now      func() time.Time
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		items:    make(map[string]*Item),
		comments: make(map[string][]*Comment),
		now:      time.Now,
	}
}

func (s *InMemory) CreateContent(ctx context.Context, item *Item) (*Item, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	if _, ok := s.items[cp.ID]; ok {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrConflict, cp.ID)
	}
	s.items[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *InMemory) GetContent(ctx context.Context, orgID, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok || it.OrgID != orgID {
		return nil, fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	cp := *it
	cp.Publications = append([]Publication(nil), it.Publications...)
	return &cp, nil
}

func (s *InMemory) ListContent(ctx context.Context, orgID string, f ListFilter) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0)
	for _, it := range s.items {
		if it.OrgID != orgID || !matches(*it, f) {
			continue
		}
		cp := *it
		cp.Publications = append([]Publication(nil), it.Publications...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemory) UpdateContent(ctx context.Context, orgID, id string, expectedVersion int64, upd Update) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.OrgID != orgID {
		return nil, fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	if it.Version != expectedVersion {
		return nil, fmt.Errorf("%w: content %s at version %d, expected %d", ErrConflict, id, it.Version, expectedVersion)
	}
	if upd.EditedContent != nil {
		it.EditedContent = *upd.EditedContent
	}
	if upd.Status != nil {
		it.Status = *upd.Status
	}
	if upd.AddPublication != nil {
		it.Publications = append(it.Publications, *upd.AddPublication)
	}
	if upd.UpdatedAt.IsZero() {
		it.UpdatedAt = s.now().UTC()
	} else {
		it.UpdatedAt = upd.UpdatedAt
	}
	it.Version++

	cp := *it
	cp.Publications = append([]Publication(nil), it.Publications...)
	return &cp, nil
}

func (s *InMemory) AddComment(ctx context.Context, orgID, contentID string, c *Comment) (*Comment, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil comment", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[contentID]
	if !ok || it.OrgID != orgID {
		return nil, fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}

	cp := *c
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	cp.ContentID = contentID
	cp.CreatedAt = s.now().UTC()
	s.seq++
	cp.Seq = s.seq
	s.comments[contentID] = append(s.comments[contentID], &cp)

	out := cp
	return &out, nil
}

func (s *InMemory) ListComments(ctx context.Context, orgID, contentID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[contentID]
	if !ok || it.OrgID != orgID {
		return nil, fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}

	out := make([]Comment, 0, len(s.comments[contentID]))
	for _, c := range s.comments[contentID] {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }
