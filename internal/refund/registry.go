package refund

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// DefaultDialogIdleTTL bounds how long an untouched dialog is kept.
const DefaultDialogIdleTTL = 30 * time.Minute

// DialogRegistry keeps open dialogs addressable by id.
type DialogRegistry struct {
	IdleTTL      time.Duration
	NoticeTTL    time.Duration
	Formatter    pricing.Formatter
	OnTransition func(from, to State)

	mu      sync.Mutex
	dialogs map[string]*Dialog
	now     func() time.Time
}

// NewDialogRegistry returns an empty registry.
func NewDialogRegistry(idleTTL, noticeTTL time.Duration, f pricing.Formatter) *DialogRegistry {
	if idleTTL <= 0 {
		idleTTL = DefaultDialogIdleTTL
	}
	return &DialogRegistry{
		IdleTTL:   idleTTL,
		NoticeTTL: noticeTTL,
		Formatter: f,
		dialogs:   make(map[string]*Dialog),
		now:       time.Now,
	}
}

// Open creates a dialog for item and puts it in Editing.
func (r *DialogRegistry) Open(item orderitem.OrderItem) (*Dialog, error) {
	d := NewDialog(uuid.NewString())
	d.NoticeTTL = r.NoticeTTL
	d.Formatter = r.Formatter
	d.OnTransition = r.OnTransition
	d.now = r.now
	if err := d.Open(item); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.dialogs[d.ID] = d
	return d, nil
}

// Get returns the dialog with id or ErrDialogNotFound.
func (r *DialogRegistry) Get(id string) (*Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	d, ok := r.dialogs[id]
	if !ok {
		return nil, ErrDialogNotFound
	}
	return d, nil
}

// Close closes and forgets the dialog with id.
func (r *DialogRegistry) Close(id string) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := d.Close(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.dialogs, id)
	r.mu.Unlock()
	return nil
}

// Len reports how many dialogs are held.
func (r *DialogRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dialogs)
}

func (r *DialogRegistry) sweepLocked() {
	cutoff := r.now().Add(-r.IdleTTL)
	for id, d := range r.dialogs {
		if d.State() == Submitting {
			continue
		}
		if d.lastActivity().Before(cutoff) {
			delete(r.dialogs, id)
		}
	}
}
