package domain

type IdentityID string

type ConnectionID string

type Identity struct {
	ID   IdentityID `yaml:"id" json:"id"`
	Name string     `yaml:"name" json:"name"`
	// Contacts lists the identities this one has added.
	Contacts []IdentityID `yaml:"contacts" json:"contacts"`
}
