package secrets

import "context"

// Provider fetches a secret by name and returns its key-value map.
type Provider interface {
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}
