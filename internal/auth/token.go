// Package auth holds the process-wide bearer credential used by the remote
// HTTP client and the event stream.
package auth

import (
	"errors"
	"sync"
)

// ErrNoToken is returned by [TokenSource.Bearer] before any token was set.
var ErrNoToken = errors.New("no token configured")

// TokenSource stores the current bearer token. It is safe for concurrent use;
// readers always see the most recently set value.
type TokenSource struct {
	mu       sync.RWMutex
	token    string
	onChange []func(token string)
}

// NewTokenSource returns a TokenSource seeded with token, which may be empty.
func NewTokenSource(token string) *TokenSource {
	return &TokenSource{token: token}
}

// Token returns the raw token, or "" when none is set.
func (s *TokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Bearer returns the Authorization header value for the current token.
func (s *TokenSource) Bearer() (string, error) {
	t := s.Token()
	if t == "" {
		return "", ErrNoToken
	}
	return "Bearer " + t, nil
}

// Set replaces the token and notifies every registered listener.
func (s *TokenSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	listeners := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// OnChange registers fn to be called after every [TokenSource.Set].
func (s *TokenSource) OnChange(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}
