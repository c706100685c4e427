package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/ports"
)

// VaultConfig contains configuration for HashiCorp Vault adapter
type VaultConfig struct {
	Address string

	// AuthMethod is "token" or "approle"
	AuthMethod string

	Token string

	RoleID   string
	SecretID string

	// Vault namespace (Vault Enterprise)
	Namespace string

	// KV secrets engine mount path (default: "secret")
	MountPath string

	// KV version: "v1" or "v2" (default: "v2")
	KVVersion string

	CacheTTL    time.Duration
	EnableCache bool

	TLSSkipVerify bool
}

// DefaultVaultConfig returns default configuration for Vault adapter
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:     address,
		AuthMethod:  "token",
		MountPath:   "secret",
		KVVersion:   "v2",
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

type vaultAdapter struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewVaultAdapter creates a new HashiCorp Vault adapter
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault adapter initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion),
	)

	return &vaultAdapter{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads a KV entry. A reference of the form "phonepay/ivr#db_url"
// selects one field of the entry; without a field the "value" key is used,
// falling back to the entry's only string field.
func (a *vaultAdapter) GetSecret(ctx context.Context, ref string) (*ports.Secret, error) {
	if cached := a.cache.get(ref); cached != nil {
		return cached, nil
	}

	path, field, _ := strings.Cut(ref, "#")

	started := time.Now()
	secret, err := a.client.Logical().ReadWithContext(ctx, a.kvPath(path))
	if err != nil {
		a.logger.Error("Vault read failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("read %s from vault: %w", path, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	data, meta := a.kvData(secret)
	if data == nil {
		return nil, fmt.Errorf("secret %s has no KV data", path)
	}

	value, err := pickField(data, field)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", path, err)
	}

	a.logger.Debug("Secret read from Vault",
		zap.String("path", path),
		zap.String("field", field),
		zap.Duration("elapsed", time.Since(started)),
	)

	result := &ports.Secret{Value: value, Version: "1", Metadata: make(map[string]string)}
	if meta != nil {
		if v, ok := meta["version"].(json.Number); ok {
			result.Version = v.String()
		}
		result.CreatedAt, _ = meta["created_time"].(string)
	}
	for k, v := range data {
		if str, ok := v.(string); ok && k != field && k != "value" {
			result.Metadata[k] = str
		}
	}

	a.cache.set(ref, result)
	return result, nil
}

func (a *vaultAdapter) kvPath(path string) string {
	if a.config.KVVersion == "v2" {
		return a.config.MountPath + "/data/" + path
	}
	return a.config.MountPath + "/" + path
}

// kvData unwraps the v2 envelope; v1 entries are returned as-is
func (a *vaultAdapter) kvData(secret *vault.Secret) (data, meta map[string]interface{}) {
	if a.config.KVVersion != "v2" {
		return secret.Data, nil
	}
	data, _ = secret.Data["data"].(map[string]interface{})
	meta, _ = secret.Data["metadata"].(map[string]interface{})
	return data, meta
}

func pickField(data map[string]interface{}, field string) (string, error) {
	if field != "" {
		v, _ := data[field].(string)
		if v == "" {
			return "", fmt.Errorf("field %q is empty or missing", field)
		}
		return v, nil
	}
	if v, _ := data["value"].(string); v != "" {
		return v, nil
	}

	var only string
	for _, v := range data {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if only != "" {
			return "", fmt.Errorf("no \"value\" field and more than one candidate; name one with #field")
		}
		only = str
	}
	if only == "" {
		return "", fmt.Errorf("secret value is empty")
	}
	return only, nil
}
