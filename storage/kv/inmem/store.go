package inmemkv

import (
	"sync"

	"github.com/trezcool/maendeleo/core"
)

// Store is a map-backed core.KVStore. It backs tests and the "inmem"
// storage engine (session-only durability).
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	// WriteErr, when set, is returned by every Set call; lets tests
	// simulate quota exhaustion.
	WriteErr error
}

var _ core.KVStore = (*Store)(nil)

func Open() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	val := make([]byte, len(value))
	copy(val, value)
	s.data[key] = val
	return nil
}
