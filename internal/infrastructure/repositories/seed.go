package repositories

import (
	"context"
	"fmt"
	"os"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/pkg/validation"

	"gopkg.in/yaml.v2"
)

// SeedFile is the on-disk contact directory format:
//
//	identities:
//	  - id: "1001"
//	    name: Alice
//	    contacts: ["1002"]
type SeedFile struct {
	Identities []domain.Identity `yaml:"identities"`
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.UnmarshalStrict(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	seen := make(map[domain.IdentityID]struct{}, len(seed.Identities))
	for i, ident := range seed.Identities {
		if err := validation.ValidateIdentityID(string(ident.ID)); err != nil {
			return nil, fmt.Errorf("identities[%d]: %w", i, err)
		}
		if err := validation.ValidateDisplayName(ident.Name); err != nil {
			return nil, fmt.Errorf("identities[%d] %s: %w", i, ident.ID, err)
		}
		if _, dup := seen[ident.ID]; dup {
			return nil, fmt.Errorf("identities[%d]: duplicate id %s", i, ident.ID)
		}
		seen[ident.ID] = struct{}{}

		for _, c := range ident.Contacts {
			if err := validation.ValidateIdentityID(string(c)); err != nil {
				return nil, fmt.Errorf("identities[%d] %s contact: %w", i, ident.ID, err)
			}
		}
	}
	return &seed, nil
}

// LoadSeed reads path and writes every identity into dir. It returns the
// number of identities written.
func LoadSeed(ctx context.Context, path string, dir ports.ContactDirectory) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	for _, ident := range seed.Identities {
		if err := dir.PutIdentity(ctx, ident); err != nil {
			return 0, fmt.Errorf("failed to seed identity %s: %w", ident.ID, err)
		}
	}
	return len(seed.Identities), nil
}
