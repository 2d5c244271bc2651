package secret

import (
	"os"
	"strings"
	"sync"
)

// MemoryStore keeps secrets in process memory. Used by tests and by the
// env store for values set at runtime.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// EnvStore reads NOTESPACE_SECRET_<KEY> variables. Writes stay in memory
// for the lifetime of the process.
type EnvStore struct {
	getenv  func(string) string
	written *MemoryStore
}

func NewEnvStore(getenv func(string) string) *EnvStore {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &EnvStore{getenv: getenv, written: NewMemoryStore()}
}

// EnvName maps a secret key to its environment variable.
func EnvName(key string) string {
	return "NOTESPACE_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

func (e *EnvStore) Set(key string, value []byte) error {
	return e.written.Set(key, value)
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	if v, _ := e.written.Get(key); v != nil {
		return v, nil
	}
	if v := e.getenv(EnvName(key)); v != "" {
		return []byte(v), nil
	}
	return nil, nil
}

func (e *EnvStore) Delete(key string) error {
	return e.written.Delete(key)
}
