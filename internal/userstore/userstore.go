// Package userstore resolves username/password credentials to a
// principal (display name plus role tier). Passwords are hashed with
// bcrypt rather than a hand-rolled scheme.
package userstore

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoSuchUser and ErrBadPassword are returned by Authenticate; callers
// map either to the same protocol error without distinguishing them to
// the remote peer (no username enumeration).
var (
	ErrNoSuchUser  = errors.New("userstore: no such user")
	ErrBadPassword = errors.New("userstore: bad password")
)

// Role is the tier granted on successful authentication.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Principal is the resolved identity behind a successful authUser call.
type Principal struct {
	Username string
	// Name is the human display name ("Alice Liddell"), distinct from
	// the login username.
	Name string
	Role Role
}

type entry struct {
	name string
	hash []byte
	role Role
}

// Store is an in-memory username -> (display name, bcrypt hash, role)
// table. It is safe for concurrent use; internal/config loads it once at
// startup from the broker's YAML configuration. The user service's
// SQL-backed principal database satisfies the same Authenticate shape
// behind its RPC interface.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// AddUser hashes password and records username at the given role,
// overwriting any prior entry for that username.
func (s *Store) AddUser(username, name, password string, role Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[username] = entry{name: name, hash: hash, role: role}
	return nil
}

// Authenticate checks username/password and returns the resolved
// principal.
func (s *Store) Authenticate(username, password string) (Principal, error) {
	s.mu.RLock()
	e, ok := s.entries[username]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, ErrNoSuchUser
	}
	if err := bcrypt.CompareHashAndPassword(e.hash, []byte(password)); err != nil {
		return Principal{}, ErrBadPassword
	}
	return Principal{Username: username, Name: e.name, Role: e.role}, nil
}
