// Package credstore persists the session's access and refresh tokens.
//
// A Store is a write-through mirror of the in-memory session: it is read once
// at startup and written on every token change. Operations never fail from the
// caller's point of view. Backing errors read as "absent" on Get and are logged
// and dropped on Set and Clear.
package credstore

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

const serviceName = "tasknest"

// Credential is the persisted token pair for one API origin.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether neither token is present.
func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Store is the credential persistence contract.
type Store interface {
	// Get returns the stored credential and whether one exists.
	Get() (Credential, bool)
	// Set replaces the stored credential.
	Set(Credential)
	// Clear removes the stored credential. Clearing an empty store is a no-op.
	Clear()
	// Backend names where credentials live ("keyring", "file", "memory", "env").
	Backend() string
}

// New returns the store for origin.
//
// When useKeyring is set and the system keyring answers a probe, credentials
// live in the keyring and any plaintext record for origin is migrated out of
// dir. Otherwise they live in dir/credentials.json.
func New(dir, origin string, useKeyring bool, log zerolog.Logger) Store {
	file := NewFileStore(dir, origin, log)
	if !useKeyring {
		return file
	}

	testKey := serviceName + "::probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		log.Warn().Err(err).
			Str("path", file.Path()).
			Msg("system keyring unavailable, credentials stored in plaintext")
		return file
	}
	_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup

	kr := NewKeyringStore(origin, log)
	if cred, ok := file.Get(); ok {
		kr.Set(cred)
		file.Clear()
		log.Debug().Str("origin", origin).Msg("migrated credentials from file to keyring")
	}
	return kr
}

// KeyringStore keeps one JSON record per origin in the system keyring.
type KeyringStore struct {
	origin string
	log    zerolog.Logger
}

// NewKeyringStore creates a keyring-backed store without probing the keyring.
func NewKeyringStore(origin string, log zerolog.Logger) *KeyringStore {
	return &KeyringStore{origin: origin, log: log}
}

func (s *KeyringStore) key() string {
	return serviceName + "::" + s.origin
}

func (s *KeyringStore) Get() (Credential, bool) {
	data, err := keyring.Get(serviceName, s.key())
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			s.log.Warn().Err(err).Msg("reading credentials from keyring")
		}
		return Credential{}, false
	}

	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		s.log.Warn().Err(err).Msg("ignoring malformed keyring credentials")
		return Credential{}, false
	}
	return cred, !cred.Empty()
}

func (s *KeyringStore) Set(cred Credential) {
	if cred.Empty() {
		s.Clear()
		return
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return
	}
	if err := keyring.Set(serviceName, s.key(), string(data)); err != nil {
		s.log.Warn().Err(err).Msg("writing credentials to keyring")
	}
}

func (s *KeyringStore) Clear() {
	if err := keyring.Delete(serviceName, s.key()); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.log.Warn().Err(err).Msg("removing credentials from keyring")
	}
}

func (s *KeyringStore) Backend() string { return "keyring" }

// MemoryStore keeps credentials in process memory only.
type MemoryStore struct {
	mu   sync.Mutex
	cred Credential
}

// NewMemoryStore returns a store seeded with cred (which may be empty).
func NewMemoryStore(cred Credential) *MemoryStore {
	return &MemoryStore{cred: cred}
}

func (s *MemoryStore) Get() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, !s.cred.Empty()
}

func (s *MemoryStore) Set(cred Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.cred = Credential{}
	s.mu.Unlock()
}

func (s *MemoryStore) Backend() string { return "memory" }

// StaticStore serves a fixed access token, typically from TASKNEST_TOKEN.
// It has no refresh token, so a rejected token cannot be renewed, and it
// ignores writes.
type StaticStore struct {
	token string
}

// NewStaticStore returns a read-only store for token.
func NewStaticStore(token string) *StaticStore {
	return &StaticStore{token: token}
}

func (s *StaticStore) Get() (Credential, bool) {
	return Credential{AccessToken: s.token}, s.token != ""
}

func (s *StaticStore) Set(Credential) {}

func (s *StaticStore) Clear() {}

func (s *StaticStore) Backend() string { return "env" }
