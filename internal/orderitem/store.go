package orderitem

import (
	"context"
	"fmt"
	"sync"
)

// Store owns the item collection of the page. Readers receive deep copies; the
// only writer is Update, which swaps in a complete new snapshot.
type Store struct {
	mu      sync.RWMutex
	items   []OrderItem
	loaded  bool
	version uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Load replaces the collection with the items supplied by src.
func (s *Store) Load(ctx context.Context, src Source) error {
	if src == nil {
		return fmt.Errorf("orderitem: source not configured")
	}
	items, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("orderitem: load items: %w", err)
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = CloneAll(items)
	s.loaded = true
	s.version++
	return nil
}

// Loaded reports whether the source has resolved.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// List returns a copy of every item in order.
func (s *Store) List() ([]OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	return CloneAll(s.items), nil
}

// Get returns a copy of the item with the provided id.
func (s *Store) Get(id string) (OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return OrderItem{}, ErrNotLoaded
	}
	for _, it := range s.items {
		if it.ID == id {
			return it.Clone(), nil
		}
	}
	return OrderItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Version increments on every successful Load or Update.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update hands fn a private copy of the collection and stores the returned slice.
// When fn fails, or panics, the stored collection is left untouched.
func (s *Store) Update(fn func([]OrderItem) ([]OrderItem, error)) error {
	if fn == nil {
		return fmt.Errorf("orderitem: update func not provided")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	next, err := fn(CloneAll(s.items))
	if err != nil {
		return err
	}
	s.items = CloneAll(next)
	s.version++
	return nil
}
