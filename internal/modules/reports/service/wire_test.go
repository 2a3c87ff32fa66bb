package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/shared/secrets"
	"github.com/gaborage/go-bricks/logger"
)

type countingSecretsManager struct {
	calls int
}

func (m *countingSecretsManager) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"Dev_DB_PASSWORD":"rotated"}`),
	}, nil
}

func TestRefreshingConnectorInvalidatesCredentialsOnFailure(t *testing.T) {
	ctx := context.Background()
	client := &countingSecretsManager{}
	store, err := secrets.NewAWSSecretStoreWithClient(client, config.SecretsConfig{
		Enabled: true,
		Bundles: map[string]config.SecretBundle{
			"dev": {SecretID: "kloo-dev-environment-variables", DBPasswordKey: "Dev_DB_PASSWORD"},
		},
	}, logger.New("info", false))
	require.NoError(t, err)
	defer store.Close()

	db := newReportDB(t)
	refused := true
	connect := func(ctx context.Context) (*sql.DB, error) {
		creds, err := store.Credentials(ctx, secrets.Dev)
		if err != nil {
			return nil, err
		}
		assert.Equal(t, "rotated", creds.DBPassword)
		if refused {
			return nil, errors.New("access denied for user 'reporter'")
		}
		return db, nil
	}
	connector := refreshingConnector(connect, func() { store.InvalidateCache(secrets.Dev) })

	_, err = connector.Connect(ctx)
	require.Error(t, err)
	_, err = connector.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, client.calls, "a failed connect must not reuse cached credentials")

	refused = false
	conn, err := connector.Connect(ctx)
	require.NoError(t, err)
	assert.NotNil(t, conn)
	_, err = connector.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls, "credentials stay cached after a successful connect")
}

func TestRefreshingConnectorWithoutInvalidation(t *testing.T) {
	connector := refreshingConnector(func(context.Context) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	}, nil)

	conn, err := connector.Connect(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Nil(t, conn)
}
