package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Store is a key / value preference store. Keys are dot separated paths.
type Store interface {
	// Get returns the value for key, or defaultValue when it is not set.
	Get(key string, defaultValue any) any
	Set(key string, value any)
}

// Viper is a Store backed by viper, optionally persisted as a YAML file.
type Viper struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewViper creates a Store persisted at path. An empty path keeps everything in memory. It is not
// an error for path not to exist yet.
func NewViper(path string) (*Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	s := &Viper{
		v:    v,
		path: path,
	}
	if path == "" {
		return s, nil
	}
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("prefs: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("prefs: failed to read %s: %w", path, err)
	}
	return s, nil
}

func (s *Viper) Get(key string, defaultValue any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return defaultValue
	}
	return s.v.Get(key)
}

func (s *Viper) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Path the store is persisted to, if any.
func (s *Viper) Path() string {
	return s.path
}

// Save writes all preferences to path.
func (s *Viper) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("prefs: failed to write %s: %w", s.path, err)
	}
	return nil
}

// Namespaced scopes all keys of a Store under a prefix.
type Namespaced struct {
	store  Store
	prefix string
}

// Namespace returns a Store where all keys are relative to widgets.<namespace>.
func Namespace(store Store, namespace string) *Namespaced {
	return &Namespaced{
		store:  store,
		prefix: "widgets." + namespace + ".",
	}
}

func (n *Namespaced) Get(key string, defaultValue any) any {
	return n.store.Get(n.prefix+key, defaultValue)
}

func (n *Namespaced) Set(key string, value any) {
	n.store.Set(n.prefix+key, value)
}

// Bool reads key as a boolean, falling back to defaultValue when unset or not convertible.
func Bool(store Store, key string, defaultValue bool) bool {
	b, err := cast.ToBoolE(store.Get(key, defaultValue))
	if err != nil {
		return defaultValue
	}
	return b
}

// Float64 reads key as a number, falling back to defaultValue when unset or not convertible.
func Float64(store Store, key string, defaultValue float64) float64 {
	f, err := cast.ToFloat64E(store.Get(key, defaultValue))
	if err != nil {
		return defaultValue
	}
	return f
}
