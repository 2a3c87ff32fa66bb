package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the store
// uses, so tests can substitute it.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretStore reads per-environment credential bundles from AWS Secrets
// Manager. Each bundle is a JSON object; the configured keys pick the
// database and mail passwords out of it.
type AWSSecretStore struct {
	client  SecretsManagerAPI
	cache   *Cache[*Credentials]
	bundles map[Environment]config.SecretBundle
	logger  logger.Logger
}

// NewAWSSecretStore creates a store backed by a Secrets Manager client built
// from awsCfg. A non-empty EndpointURL points the client at LocalStack or a
// similar emulator.
func NewAWSSecretStore(awsCfg aws.Config, cfg config.SecretsConfig, log logger.Logger) (*AWSSecretStore, error) {
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})
	return NewAWSSecretStoreWithClient(client, cfg, log)
}

// NewAWSSecretStoreWithClient validates the configured bundles and builds a
// store around client. Bundle keys must be exact environment names.
func NewAWSSecretStoreWithClient(client SecretsManagerAPI, cfg config.SecretsConfig, log logger.Logger) (*AWSSecretStore, error) {
	bundles := make(map[Environment]config.SecretBundle, len(cfg.Bundles))
	for name, bundle := range cfg.Bundles {
		env, err := ParseEnvironment(name)
		if err != nil {
			return nil, fmt.Errorf("invalid secret bundle: %w", err)
		}
		if bundle.SecretID == "" {
			return nil, fmt.Errorf("secret bundle for %s has no secret id", env)
		}
		bundles[env] = bundle
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	log.Info().
		Int("bundles", len(bundles)).
		Dur("cache_ttl", ttl).
		Msg("Initializing AWS Secrets Manager credential store")

	return &AWSSecretStore{
		client:  client,
		cache:   NewCache[*Credentials](ttl, len(bundles)+1),
		bundles: bundles,
		logger:  log,
	}, nil
}

// Credentials returns the environment's credentials, from cache when fresh.
func (s *AWSSecretStore) Credentials(ctx context.Context, env Environment) (*Credentials, error) {
	bundle, ok := s.bundles[env]
	if !ok {
		return nil, fmt.Errorf("%w: no secret bundle for %q", ErrUnknownEnvironment, env)
	}

	if cached, ok := s.cache.Get(string(env)); ok {
		s.logger.Debug().
			Str("environment", string(env)).
			Msg("Retrieved credentials from cache")
		return cached, nil
	}

	values, err := s.fetch(ctx, bundle.SecretID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("environment", string(env)).
			Str("secret_id", bundle.SecretID).
			Msg("Failed to fetch credentials from AWS Secrets Manager")
		return nil, err
	}

	creds := &Credentials{}
	if bundle.DBPasswordKey != "" {
		if creds.DBPassword, err = lookup(values, bundle.SecretID, bundle.DBPasswordKey); err != nil {
			return nil, err
		}
	}
	if bundle.MailPasswordKey != "" {
		if creds.MailPassword, err = lookup(values, bundle.SecretID, bundle.MailPasswordKey); err != nil {
			return nil, err
		}
	}

	s.cache.Set(string(env), creds)

	s.logger.Info().
		Str("environment", string(env)).
		Str("secret_id", bundle.SecretID).
		Msg("Resolved and cached credentials")

	return creds, nil
}

func (s *AWSSecretStore) fetch(ctx context.Context, secretID string) (map[string]any, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		var decryptErr *types.DecryptionFailure
		var internalErr *types.InternalServiceError
		var invalidReq *types.InvalidRequestException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("secret %s not found: %w", secretID, err)
		}
		if errors.As(err, &decryptErr) || errors.As(err, &internalErr) || errors.As(err, &invalidReq) {
			return nil, fmt.Errorf("error retrieving secret %s: %w", secretID, err)
		}
		return nil, fmt.Errorf("failed to retrieve secret %s: %w", secretID, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretID)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s: %w", secretID, err)
	}
	return values, nil
}

func lookup(values map[string]any, secretID, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrSecretKeyMissing, key, secretID)
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return fmt.Sprint(raw), nil
}

// InvalidateCache drops one environment's cached credentials.
func (s *AWSSecretStore) InvalidateCache(env Environment) {
	s.cache.Delete(string(env))
}

func (s *AWSSecretStore) CacheMetrics() CacheMetrics {
	return s.cache.Metrics()
}

// Close releases resources used by the store.
func (s *AWSSecretStore) Close() error {
	s.cache.Close()
	s.logger.Debug().Msg("Closed AWS Secrets Manager credential store")
	return nil
}
