package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// PasswordSource resolves the database password at connect time.
type PasswordSource func(ctx context.Context) (string, error)

// SQLConnector opens the single connection a pipeline run owns.
type SQLConnector struct {
	cfg      config.DatabaseConfig
	password PasswordSource
	logger   logger.Logger
	open     func(driver, dsn string) (*sql.DB, error)
}

func NewSQLConnector(cfg config.DatabaseConfig, password PasswordSource, log logger.Logger) *SQLConnector {
	return &SQLConnector{
		cfg:      cfg,
		password: password,
		logger:   log,
		open:     sql.Open,
	}
}

// Connect opens and pings the database. The returned handle is capped at
// one open connection; the caller closes it.
func (c *SQLConnector) Connect(ctx context.Context) (*sql.DB, error) {
	password := c.cfg.Password
	if password == "" && c.password != nil {
		p, err := c.password(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database password: %w", err)
		}
		password = p
	}

	dsn, err := BuildDSN(c.cfg, password)
	if err != nil {
		return nil, err
	}

	db, err := c.open(c.cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", c.cfg.Driver, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	c.logger.Info().
		Str("driver", c.cfg.Driver).
		Str("host", c.cfg.Host).
		Int("port", c.cfg.Port).
		Str("database", c.cfg.Name).
		Msg("Database connection established")

	return db, nil
}

// BuildDSN renders a driver-specific data source name.
func BuildDSN(cfg config.DatabaseConfig, password string) (string, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	switch cfg.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Loc = time.UTC
		if cfg.ConnectTimeout > 0 {
			mc.Timeout = cfg.ConnectTimeout
		}
		return mc.FormatDSN(), nil

	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.Username, password),
			Host:   addr,
			Path:   "/" + cfg.Name,
		}
		q := url.Values{}
		if cfg.SSLMode != "" {
			q.Set("sslmode", cfg.SSLMode)
		}
		if cfg.ConnectTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String(), nil

	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
