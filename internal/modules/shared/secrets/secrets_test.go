package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

type mockSecretsManager struct {
	calls          int
	getSecretValue func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	return m.getSecretValue(ctx, params)
}

func newTestLogger() logger.Logger {
	return logger.New("info", false)
}

func testSecretsConfig() config.SecretsConfig {
	return config.SecretsConfig{
		Enabled:  true,
		CacheTTL: time.Minute,
		Bundles: map[string]config.SecretBundle{
			"dev":  {SecretID: "kloo-dev-environment-variables", DBPasswordKey: "Dev_DB_PASSWORD"},
			"prod": {SecretID: "kloo_environment_variable_prod", DBPasswordKey: "Production_DB_Password", MailPasswordKey: "EMAIL_PASSWORD"},
		},
	}
}

func TestParseEnvironment(t *testing.T) {
	for _, name := range []string{"dev", "stage", "demo", "prod"} {
		env, err := ParseEnvironment(name)
		require.NoError(t, err)
		assert.Equal(t, Environment(name), env)
	}

	// Host-like strings that merely contain an environment name are rejected.
	for _, name := range []string{"", "Prod", "mysql-kloo-prod.internal", "development"} {
		_, err := ParseEnvironment(name)
		assert.ErrorIs(t, err, ErrUnknownEnvironment, name)
	}
}

func TestAWSSecretStoreCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves and caches", func(t *testing.T) {
		mock := &mockSecretsManager{
			getSecretValue: func(_ context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
				assert.Equal(t, "kloo_environment_variable_prod", aws.ToString(params.SecretId))
				return &secretsmanager.GetSecretValueOutput{
					SecretString: aws.String(`{"Production_DB_Password":"db-secret","EMAIL_PASSWORD":"mail-secret","Other":1}`),
				}, nil
			},
		}
		store, err := NewAWSSecretStoreWithClient(mock, testSecretsConfig(), newTestLogger())
		require.NoError(t, err)
		defer store.Close()

		creds, err := store.Credentials(ctx, Prod)
		require.NoError(t, err)
		assert.Equal(t, "db-secret", creds.DBPassword)
		assert.Equal(t, "mail-secret", creds.MailPassword)

		_, err = store.Credentials(ctx, Prod)
		require.NoError(t, err)
		assert.Equal(t, 1, mock.calls)

		metrics := store.CacheMetrics()
		assert.Equal(t, int64(1), metrics.Hits)
		assert.Equal(t, int64(1), metrics.Misses)

		store.InvalidateCache(Prod)
		_, err = store.Credentials(ctx, Prod)
		require.NoError(t, err)
		assert.Equal(t, 2, mock.calls)
	})

	t.Run("environment without bundle", func(t *testing.T) {
		store, err := NewAWSSecretStoreWithClient(&mockSecretsManager{}, testSecretsConfig(), newTestLogger())
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Credentials(ctx, Stage)
		assert.ErrorIs(t, err, ErrUnknownEnvironment)
	})

	t.Run("missing key", func(t *testing.T) {
		mock := &mockSecretsManager{
			getSecretValue: func(context.Context, *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"something":"else"}`)}, nil
			},
		}
		store, err := NewAWSSecretStoreWithClient(mock, testSecretsConfig(), newTestLogger())
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Credentials(ctx, Dev)
		assert.ErrorIs(t, err, ErrSecretKeyMissing)
	})

	t.Run("secret not found", func(t *testing.T) {
		mock := &mockSecretsManager{
			getSecretValue: func(context.Context, *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
				return nil, &types.ResourceNotFoundException{Message: aws.String("gone")}
			},
		}
		store, err := NewAWSSecretStoreWithClient(mock, testSecretsConfig(), newTestLogger())
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Credentials(ctx, Dev)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		var notFound *types.ResourceNotFoundException
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("empty and malformed values", func(t *testing.T) {
		outputs := []*secretsmanager.GetSecretValueOutput{
			{},
			{SecretString: aws.String("not json")},
		}
		for _, out := range outputs {
			mock := &mockSecretsManager{
				getSecretValue: func(context.Context, *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
					return out, nil
				},
			}
			store, err := NewAWSSecretStoreWithClient(mock, testSecretsConfig(), newTestLogger())
			require.NoError(t, err)

			_, err = store.Credentials(ctx, Dev)
			assert.Error(t, err)
			store.Close()
		}
	})
}

func TestNewAWSSecretStoreRejectsBadBundles(t *testing.T) {
	cfg := testSecretsConfig()
	cfg.Bundles["qa"] = config.SecretBundle{SecretID: "x"}
	_, err := NewAWSSecretStoreWithClient(&mockSecretsManager{}, cfg, newTestLogger())
	assert.ErrorIs(t, err, ErrUnknownEnvironment)

	cfg = testSecretsConfig()
	cfg.Bundles["stage"] = config.SecretBundle{}
	_, err = NewAWSSecretStoreWithClient(&mockSecretsManager{}, cfg, newTestLogger())
	assert.Error(t, err)
}

func TestStaticStore(t *testing.T) {
	store := NewStaticStore(newTestLogger())
	store.Put(Dev, Credentials{DBPassword: "local"})

	creds, err := store.Credentials(context.Background(), Dev)
	require.NoError(t, err)
	assert.Equal(t, "local", creds.DBPassword)

	_, err = store.Credentials(context.Background(), Prod)
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
	assert.NoError(t, store.Close())
}

func TestCache(t *testing.T) {
	now := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)
	c := NewCache[string](time.Minute, 2)
	defer c.Close()
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	now = now.Add(time.Second)
	c.Set("b", "2")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// At capacity the entry expiring first is evicted.
	now = now.Add(time.Second)
	c.Set("c", "3")
	assert.Equal(t, int64(2), c.Metrics().TotalSize)
	_, ok = c.Get("a")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("c")
	assert.False(t, ok, "entry should expire after TTL")

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Evictions)
	assert.Equal(t, int64(3), m.TotalReads)
	assert.InDelta(t, 33.3, m.HitRate(), 0.1)
}
