// internal/statestore/memory.go
package statestore

import (
	"sync"
	"time"

	"soconboard/pkg/metrics"
)

type entry struct {
	redirectURI string
	expires     time.Time
}

type memStore struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

// NewMemory returns a process-local store. Tokens are lost on restart,
// which is acceptable: the callback must follow the redirect promptly.
func NewMemory(ttl time.Duration) Store {
	return &memStore{m: map[string]entry{}, ttl: ttl, now: time.Now}
}

func (s *memStore) Issue(redirectURI string) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sweepLocked()
	s.m[tok] = entry{redirectURI: redirectURI, expires: s.now().Add(s.ttl)}
	metrics.StateTokensActive.Set(float64(len(s.m)))
	s.mu.Unlock()
	return tok, nil
}

func (s *memStore) Consume(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[token]
	if ok {
		delete(s.m, token)
	}
	metrics.StateTokensActive.Set(float64(len(s.m)))
	if !ok || s.now().After(e.expires) {
		return "", ErrNotFound
	}
	return e.redirectURI, nil
}

// sweepLocked drops expired entries so abandoned flows cannot grow the map.
func (s *memStore) sweepLocked() {
	now := s.now()
	for k, e := range s.m {
		if now.After(e.expires) {
			delete(s.m, k)
		}
	}
}
