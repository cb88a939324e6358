package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/fsutil"
)

// FileStore keeps credentials in dir/credentials.json, a map of origin to
// record shared by every origin the user has signed in to. Read-modify-write
// cycles hold a cross-process lock so two tasknest processes refreshing at the
// same time cannot drop each other's origins.
type FileStore struct {
	dir    string
	origin string
	log    zerolog.Logger
}

// NewFileStore creates a file-backed store.
func NewFileStore(dir, origin string, log zerolog.Logger) *FileStore {
	return &FileStore{dir: dir, origin: origin, log: log}
}

// Path returns the credentials file path.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, "credentials.json")
}

func (s *FileStore) Get() (Credential, bool) {
	all, err := s.loadAll()
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.Path()).Msg("reading credentials file")
		return Credential{}, false
	}
	cred, ok := all[s.origin]
	if !ok || cred.Empty() {
		return Credential{}, false
	}
	return cred, true
}

func (s *FileStore) Set(cred Credential) {
	if cred.Empty() {
		s.Clear()
		return
	}
	s.update(func(all map[string]Credential) bool {
		all[s.origin] = cred
		return true
	})
}

func (s *FileStore) Clear() {
	s.update(func(all map[string]Credential) bool {
		if _, ok := all[s.origin]; !ok {
			return false
		}
		delete(all, s.origin)
		return true
	})
}

func (s *FileStore) Backend() string { return "file" }

// update runs fn against the current file contents under the lock and writes
// the result back when fn reports a change.
func (s *FileStore) update(fn func(map[string]Credential) bool) {
	lock, err := fsutil.AcquireLock(s.dir, "credentials")
	if err != nil {
		s.log.Warn().Err(err).Msg("locking credentials file")
		return
	}
	defer lock.Release() //nolint:errcheck
	if lock == nil {
		s.log.Debug().Msg("credentials lock busy, writing without it")
	}

	all, err := s.loadAll()
	if err != nil {
		// A corrupt file is replaced rather than blocking sign-in forever.
		s.log.Warn().Err(err).Msg("replacing unreadable credentials file")
		all = make(map[string]Credential)
	}
	if !fn(all) {
		return
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return
	}
	if err := fsutil.WriteFileAtomic(s.Path(), data); err != nil {
		s.log.Warn().Err(err).Str("path", s.Path()).Msg("writing credentials file")
	}
}

func (s *FileStore) loadAll() (map[string]Credential, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Credential), nil
		}
		return nil, err
	}

	all := make(map[string]Credential)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	// A file holding "null" decodes to a nil map.
	if all == nil {
		all = make(map[string]Credential)
	}
	return all, nil
}
