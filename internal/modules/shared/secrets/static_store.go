package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/gaborage/go-bricks/logger"
)

// StaticStore serves credentials held in memory. It backs local runs with
// secrets disabled and tests that must not reach AWS.
type StaticStore struct {
	creds  map[Environment]*Credentials
	logger logger.Logger
	mu     sync.RWMutex
}

func NewStaticStore(log logger.Logger) *StaticStore {
	return &StaticStore{
		creds:  make(map[Environment]*Credentials),
		logger: log,
	}
}

func (m *StaticStore) Credentials(_ context.Context, env Environment) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds, ok := m.creds[env]
	if !ok {
		m.logger.Warn().
			Str("environment", string(env)).
			Msg("No credentials registered in static store")
		return nil, fmt.Errorf("%w: no credentials for %q", ErrUnknownEnvironment, env)
	}
	return creds, nil
}

// Put registers credentials for an environment.
func (m *StaticStore) Put(env Environment, creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[env] = &creds
}

func (m *StaticStore) Close() error {
	return nil
}
