package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/ports"
)

// localSecretManager reads secrets from files under a base directory.
// Development only.
type localSecretManager struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSecretManager creates a new local filesystem secret manager
func NewLocalSecretManager(basePath string, logger *zap.Logger) ports.SecretManagerAdapter {
	return &localSecretManager{
		basePath: basePath,
		logger:   logger,
	}
}

// GetSecret accepts either a JSON document with a "value" field or a plain
// text file. Trailing newlines are trimmed.
func (m *localSecretManager) GetSecret(_ context.Context, secretPath string) (*ports.Secret, error) {
	filePath := filepath.Join(m.basePath, filepath.Clean("/"+secretPath))

	m.logger.Debug("Reading secret from filesystem",
		zap.String("path", secretPath),
	)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", secretPath)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	var secretData struct {
		Value     string            `json:"value"`
		Tags      map[string]string `json:"tags"`
		CreatedAt string            `json:"created_at"`
	}
	if err := json.Unmarshal(data, &secretData); err == nil && secretData.Value != "" {
		return &ports.Secret{
			Value:     secretData.Value,
			Version:   "v1",
			Metadata:  secretData.Tags,
			CreatedAt: secretData.CreatedAt,
		}, nil
	}

	return &ports.Secret{
		Value:   strings.TrimRight(string(data), "\r\n"),
		Version: "v1",
	}, nil
}
