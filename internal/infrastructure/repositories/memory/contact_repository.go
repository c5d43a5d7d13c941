package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
)

type MemoryContactRepository struct {
	mu       sync.RWMutex
	names    map[domain.IdentityID]string
	contacts map[domain.IdentityID]map[domain.IdentityID]struct{}
}

func NewMemoryContactRepository() *MemoryContactRepository {
	return &MemoryContactRepository{
		names:    make(map[domain.IdentityID]string),
		contacts: make(map[domain.IdentityID]map[domain.IdentityID]struct{}),
	}
}

var _ ports.ContactDirectory = (*MemoryContactRepository)(nil)

func (r *MemoryContactRepository) IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[id]
	return ok, nil
}

func (r *MemoryContactRepository) RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contacts[from][to]
	return ok, nil
}

func (r *MemoryContactRepository) DisplayName(ctx context.Context, id domain.IdentityID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[id]
	if !ok {
		return "", fmt.Errorf("identity %s: %w", id, domain.ErrUnknownIdentity)
	}
	return name, nil
}

// PutIdentity creates or renames an identity. Contacts listed on identity
// are added; existing ones are kept.
func (r *MemoryContactRepository) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("identity without id: %w", domain.ErrInvalidMessage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.names[identity.ID] = identity.Name
	for _, c := range identity.Contacts {
		r.addLocked(identity.ID, c)
	}
	return nil
}

func (r *MemoryContactRepository) AddContact(ctx context.Context, owner, contact domain.IdentityID) error {
	if owner == contact {
		return fmt.Errorf("identity %s cannot list itself: %w", owner, domain.ErrInvalidMessage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[owner]; !ok {
		return fmt.Errorf("identity %s: %w", owner, domain.ErrUnknownIdentity)
	}
	r.addLocked(owner, contact)
	return nil
}

func (r *MemoryContactRepository) RemoveContact(ctx context.Context, owner, contact domain.IdentityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.contacts[owner], contact)
	return nil
}

// Contacts returns the identities owner lists, sorted.
func (r *MemoryContactRepository) Contacts(ctx context.Context, owner domain.IdentityID) ([]domain.IdentityID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.IdentityID, 0, len(r.contacts[owner]))
	for id := range r.contacts[owner] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MemoryContactRepository) addLocked(owner, contact domain.IdentityID) {
	if owner == contact || contact == "" {
		return
	}
	set, ok := r.contacts[owner]
	if !ok {
		set = make(map[domain.IdentityID]struct{})
		r.contacts[owner] = set
	}
	set[contact] = struct{}{}
}
