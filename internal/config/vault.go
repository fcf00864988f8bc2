package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading OAuth client secrets
// and IMAP credentials out of band from plain environment variables.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at address, authenticated
// with token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at path and returns its raw data map. For KV v2
// backends the caller must unwrap the nested "data" key, or call GetKV2.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// StringSecret extracts a string field from a KV2 secret map.
func StringSecret(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
