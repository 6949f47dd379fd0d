// Package credstore keeps the session token and remembered credentials
// encrypted at rest so they survive process restarts.
package credstore

import (
	"sync"
)

// Well-known keys written by the session manager.
const (
	KeyToken            = "session.token"
	KeyRememberEmail    = "remember.email"
	KeyRememberPassword = "remember.password"
)

// Store is a durable key/value store for secrets.
// A missing key is reported as ok=false, never as an error.
type Store interface {
	// Put writes value under key, replacing any previous value.
	Put(key, value string) error
	// Get returns the value for key and whether it exists.
	Get(key string) (value string, ok bool, err error)
	// Delete removes key; deleting a missing key succeeds.
	Delete(key string) error
}

// Memory is a process-local Store for tests and ephemeral runs.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{m: map[string]string{}} }

func (s *Memory) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
