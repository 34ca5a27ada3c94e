package secrets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/market-index/pkg/secrets"
	"github.com/Checker-Finance/market-index/pkg/utils"
)

// AWSResolver resolves service settings from AWS Secrets Manager and caches them.
// It is generic over the resolved type so the database DSN and the webhook URL share one path.
//
// Secret naming convention: {env}/{service}/{name}
type AWSResolver[T any] struct {
	logger   *zap.Logger
	env      string
	service  string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
}

// NewAWSResolver constructs a resolver for one value type.
func NewAWSResolver[T any](
	logger *zap.Logger,
	env string,
	service string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *AWSResolver[T] {
	return &AWSResolver[T]{
		logger:   logger,
		env:      env,
		service:  service,
		provider: provider,
		cache:    cache,
	}
}

// SecretName builds the AWS Secrets Manager key. A name that already contains a slash is
// taken as a full secret id.
func (r *AWSResolver[T]) SecretName(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, r.service, name))
}

// Resolve fetches or returns the cached T for name.
// parse extracts T from the raw secret map; it should validate required fields.
func (r *AWSResolver[T]) Resolve(ctx context.Context, name string, parse func(map[string]string) (T, error)) (T, error) {
	secretName := r.SecretName(name)

	if v, ok := r.cache.Get(secretName); ok {
		return v, nil
	}

	secretMap, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", secretName),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve %q: %w", name, err)
	}

	v, err := parse(secretMap)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", secretName, err)
	}

	r.cache.Put(secretName, v)
	r.logger.Info("aws.secret_resolved", zap.String("key", secretName))
	return v, nil
}

// ParseDSN accepts either a "dsn" field or the RDS-style host/port/username/password/dbname set.
func ParseDSN(m map[string]string) (string, error) {
	if dsn := m["dsn"]; dsn != "" {
		return dsn, nil
	}
	host, user, db := m["host"], m["username"], m["dbname"]
	if host == "" || user == "" || db == "" {
		return "", errors.New("secret needs dsn or host, username and dbname")
	}
	port := m["port"]
	if port == "" {
		port = "5432"
	}
	sslmode := m["sslmode"]
	if sslmode == "" {
		sslmode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, m["password"]),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String(), nil
}

// ParseWebhookURL reads the "url" field.
func ParseWebhookURL(m map[string]string) (string, error) {
	raw := m["url"]
	if raw == "" {
		return "", errors.New("secret has no url")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid url %s: %w", utils.MaskURL(raw), err)
	}
	return raw, nil
}
