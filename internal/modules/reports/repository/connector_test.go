package repository

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

func testDatabaseConfig(driver string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:         driver,
		Host:           "reporting.internal",
		Port:           3306,
		Name:           "kloo",
		Username:       "reporter",
		ConnectTimeout: 5 * time.Second,
	}
}

func TestBuildDSNMySQL(t *testing.T) {
	dsn, err := BuildDSN(testDatabaseConfig(DriverMySQL), "s3cret")
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "reporter", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "reporting.internal:3306", parsed.Addr)
	assert.Equal(t, "kloo", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, 5*time.Second, parsed.Timeout)
}

func TestBuildDSNPostgres(t *testing.T) {
	cfg := testDatabaseConfig(DriverPostgres)
	cfg.Port = 5432
	cfg.SSLMode = "require"

	dsn, err := BuildDSN(cfg, "p@ss word")
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "reporting.internal:5432", u.Host)
	assert.Equal(t, "/kloo", u.Path)
	assert.Equal(t, "reporter", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
}

func TestBuildDSNUnsupportedDriver(t *testing.T) {
	_, err := BuildDSN(testDatabaseConfig("oracle"), "x")
	assert.ErrorContains(t, err, "unsupported database driver")
}

// newSQLiteConnector routes Connect to an in-memory database and records
// the DSN it would have used.
func newSQLiteConnector(cfg config.DatabaseConfig, password PasswordSource, dsn *string) *SQLConnector {
	c := NewSQLConnector(cfg, password, logger.New("info", false))
	c.open = func(_, d string) (*sql.DB, error) {
		*dsn = d
		return sql.Open("sqlite", ":memory:")
	}
	return c
}

func TestConnectResolvesPasswordFromSource(t *testing.T) {
	var dsn string
	calls := 0
	source := func(context.Context) (string, error) {
		calls++
		return "from-secrets", nil
	}

	db, err := newSQLiteConnector(testDatabaseConfig(DriverMySQL), source, &dsn).Connect(context.Background())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, calls)
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "from-secrets", parsed.Passwd)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestConnectPrefersConfiguredPassword(t *testing.T) {
	var dsn string
	cfg := testDatabaseConfig(DriverMySQL)
	cfg.Password = "from-config"
	source := func(context.Context) (string, error) {
		t.Fatal("password source must not be consulted")
		return "", nil
	}

	db, err := newSQLiteConnector(cfg, source, &dsn).Connect(context.Background())
	require.NoError(t, err)
	defer db.Close()

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "from-config", parsed.Passwd)
}

func TestConnectPasswordSourceFailure(t *testing.T) {
	var dsn string
	source := func(context.Context) (string, error) {
		return "", errors.New("secret not found")
	}

	_, err := newSQLiteConnector(testDatabaseConfig(DriverMySQL), source, &dsn).Connect(context.Background())
	assert.ErrorContains(t, err, "secret not found")
	assert.Empty(t, dsn, "no connection attempt without a password")
}

func TestConnectOpenFailure(t *testing.T) {
	c := NewSQLConnector(testDatabaseConfig(DriverMySQL), nil, logger.New("info", false))
	c.open = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver missing")
	}

	_, err := c.Connect(context.Background())
	assert.ErrorContains(t, err, "driver missing")
}
