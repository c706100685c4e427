package ports

import (
	"context"
)

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string
	Version   string
	Metadata  map[string]string
	CreatedAt string
}

// SecretManagerAdapter reads secrets from a secret management service.
// Implementations cache values with a TTL.
type SecretManagerAdapter interface {
	// GetSecret retrieves a secret by its path. Path format depends on the
	// backend:
	//   - AWS: "phonepay/carrier/auth-token" or a full ARN
	//   - Vault: "phonepay/carrier" under the configured KV mount
	//   - Local: a file path relative to the base directory
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
