package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory implements in-process Registry shared by serving node and
// orchestrators living in the same process. Its state does not outlive the
// process, therefore it is not offered by configuration or command line tools.
type Memory struct {
	mu       sync.Mutex
	versions map[string][]Version
	aliases  map[string]string
}

// NewMemory creates empty in-memory registry
func NewMemory() *Memory {
	return &Memory{
		versions: make(map[string][]Version),
		aliases:  make(map[string]string),
	}
}

func aliasKey(model, alias string) string {
	return model + "@" + alias
}

// ResolveAlias implements Resolver interface
func (m *Memory) ResolveAlias(ctx context.Context, model, alias string) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version, ok := m.aliases[aliasKey(model, alias)]
	if !ok {
		return Version{}, fmt.Errorf("alias %s:%s: %w", model, alias, ErrNotFound)
	}
	for _, v := range m.versions[model] {
		if v.Version == version {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("version %s/v%s: %w", model, version, ErrNotFound)
}

// SetAlias implements Registry interface
func (m *Memory) SetAlias(ctx context.Context, model, alias, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[model] {
		if v.Version == version {
			m.aliases[aliasKey(model, alias)] = version
			return nil
		}
	}
	return fmt.Errorf("version %s/v%s: %w", model, version, ErrNotFound)
}

// RegisterVersion implements Registry interface
func (m *Memory) RegisterVersion(ctx context.Context, model, source string) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := Version{
		Model:   model,
		Version: strconv.Itoa(len(m.versions[model]) + 1),
		Source:  source,
	}
	m.versions[model] = append(m.versions[model], v)
	return v, nil
}
