package ports

import (
	"context"

	"ringline/internal/core/domain"
)

// ContactStore is the identity & relationship store owned outside the core.
// Relationships are directional: RelationshipExists(a, b) means a lists b.
type ContactStore interface {
	IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error)
	RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error)
	DisplayName(ctx context.Context, id domain.IdentityID) (string, error)
}

// ContactDirectory is a ContactStore that can also be written to. Seeding and
// the contact listing endpoint use it; the signaling core never does.
type ContactDirectory interface {
	ContactStore
	PutIdentity(ctx context.Context, identity domain.Identity) error
	AddContact(ctx context.Context, owner, contact domain.IdentityID) error
	RemoveContact(ctx context.Context, owner, contact domain.IdentityID) error
	Contacts(ctx context.Context, owner domain.IdentityID) ([]domain.IdentityID, error)
}
