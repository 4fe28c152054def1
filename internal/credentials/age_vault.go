package credentials

import (
	"context"
	"fmt"

	"filippo.io/age"

	"github.com/rjlane/courses/internal/secrets"
)

// Lookup fetches the raw (possibly ENC[age:...]-wrapped) secret value for
// (ownerID, key) from wherever it is persisted. The vault storage layer
// itself is out of spec's scope; Lookup is the seam a real implementation
// plugs into.
type Lookup func(ctx context.Context, ownerID, key string) (string, error)

// AgeVault is a Resolver that decrypts values at rest with the server's age
// identity, reusing the same ENC[age:...] envelope format the teacher's
// internal/secrets package uses for its own config secrets.
type AgeVault struct {
	Identity *age.X25519Identity
	Lookup   Lookup
}

func NewAgeVault(identity *age.X25519Identity, lookup Lookup) *AgeVault {
	return &AgeVault{Identity: identity, Lookup: lookup}
}

func (v *AgeVault) Resolve(ctx context.Context, ownerID, key string) (string, error) {
	raw, err := v.Lookup(ctx, ownerID, key)
	if err != nil {
		return "", fmt.Errorf("credentials: lookup %s/%s: %w", ownerID, key, err)
	}
	if !secrets.IsEncrypted(raw) {
		return raw, nil
	}
	plain, err := secrets.Decrypt(raw, v.Identity)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt %s/%s: %w", ownerID, key, err)
	}
	return plain, nil
}
