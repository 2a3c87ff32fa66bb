// Package secrets resolves the credentials the report job needs (database
// and mail passwords) for an explicitly chosen deployment environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrSecretKeyMissing   = errors.New("secret key missing")
)

// Environment selects which credential bundle to read.
type Environment string

const (
	Dev   Environment = "dev"
	Stage Environment = "stage"
	Demo  Environment = "demo"
	Prod  Environment = "prod"
)

// ParseEnvironment accepts only the exact environment names.
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case Dev, Stage, Demo, Prod:
		return env, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
}

// Credentials holds the resolved secrets. MailPassword is empty when the
// bundle does not carry one.
type Credentials struct {
	DBPassword   string
	MailPassword string
}

// Store resolves credentials for an environment.
type Store interface {
	Credentials(ctx context.Context, env Environment) (*Credentials, error)
	Close() error
}
