package secrets

import (
	"context"
	"os"
	"strings"
)

const defaultEnvPrefix = "ENVCTL_SECRET_"

// EnvProvider reads secrets from environment variables. A key "db-password"
// maps to ENVCTL_SECRET_DB_PASSWORD; keys that look like literal variable
// names are also tried verbatim.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an env provider with the default prefix.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: defaultEnvPrefix}
}

// NewEnvProviderWithPrefix creates an env provider with a custom prefix.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string {
	return "env"
}

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	if value, ok := os.LookupEnv(p.envName(key)); ok {
		return value, nil
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, nil
	}
	return "", ErrSecretNotFound
}

func (p *EnvProvider) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	results := make(map[string]string)
	for _, key := range keys {
		if value, err := p.Get(ctx, key); err == nil {
			results[key] = value
		}
	}
	return results, nil
}

func (p *EnvProvider) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, entry := range os.Environ() {
		name, _, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, p.prefix) {
			continue
		}
		key := p.keyName(name)
		if prefix == "" || strings.HasPrefix(key, strings.ToLower(prefix)) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return os.Setenv(p.envName(key), value)
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(p.envName(key))
}

func (p *EnvProvider) envName(key string) string {
	return p.prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func (p *EnvProvider) keyName(envName string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(envName, p.prefix), "_", "-"))
}

var _ Provider = (*EnvProvider)(nil)
