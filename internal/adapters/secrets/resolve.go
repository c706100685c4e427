package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/ports"
)

// Config selects a secret backend
type Config struct {
	Provider string // "aws", "vault", "local" or "" for none
	AWS      *AWSSecretsManagerConfig
	Vault    *VaultConfig
	// LocalPath is the base directory for the "local" provider
	LocalPath string
}

// New builds the configured backend. A nil adapter with a nil error means no
// provider is configured and only literal values can be used.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "aws":
		return NewAWSSecretsManagerAdapter(ctx, cfg.AWS, logger)
	case "vault":
		return NewVaultAdapter(ctx, cfg.Vault, logger)
	case "local":
		return NewLocalSecretManager(cfg.LocalPath, logger), nil
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// Resolve returns the secret at ref when ref is set, otherwise literal.
// Config values can therefore carry either the value or a reference to it.
func Resolve(ctx context.Context, sm ports.SecretManagerAdapter, ref, literal string) (string, error) {
	if ref == "" {
		return literal, nil
	}
	if sm == nil {
		return "", fmt.Errorf("secret reference %q set but no secret provider configured", ref)
	}
	secret, err := sm.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}
