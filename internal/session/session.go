// Package session holds the in-memory authentication state of a tasknest
// process.
//
// The Session is authoritative for the lifetime of the process. Every change
// to its tokens is written through to the credential store in the same call,
// and every transition is published to subscribers.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/credstore"
	"github.com/tasknest/tasknest-cli/internal/gateway"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusRefreshing     Status = "refreshing"
	StatusExpired        Status = "expired"
)

// Snapshot is a copy of the session at one point in time.
//
// User is set only while Authenticated or Refreshing, and a non-empty
// AccessToken never appears with StatusAnonymous.
type Snapshot struct {
	User         *gateway.User
	AccessToken  string
	RefreshToken string
	Status       Status
}

// Event describes one transition.
type Event struct {
	From   Status
	To     Status
	User   *gateway.User
	Reason string
}

// Session is the observable session state. Safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	snap  Snapshot
	store credstore.Store
	log   zerolog.Logger

	// restoreTo is where a refresh lands once it succeeds.
	restoreTo Status

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New returns an anonymous session backed by store.
func New(store credstore.Store, log zerolog.Logger) *Session {
	return &Session{
		snap:  Snapshot{Status: StatusAnonymous},
		store: store,
		log:   log,
		subs:  make(map[int]func(Event)),
	}
}

// Store returns the credential store the session writes through to.
func (s *Session) Store() credstore.Store {
	return s.store
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Status
}

// CanRefresh reports whether a 401 may still be answered with a refresh.
// It is false once the session has been logged out or expired, so responses
// that arrive after logout cannot bring the session back.
func (s *Session) CanRefresh() bool {
	switch s.Status() {
	case StatusAnonymous, StatusExpired:
		return false
	default:
		return true
	}
}

// Subscribe registers fn for every subsequent transition and returns a
// function that removes it. fn runs on the goroutine that made the change,
// after the session lock is released.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Restore hydrates the session from the credential store at startup.
// With stored tokens the session becomes Authenticating until Identify
// confirms the user. Returns false when nothing was stored.
func (s *Session) Restore() bool {
	cred, ok := s.store.Get()
	if !ok {
		return false
	}

	s.transition(func(snap *Snapshot) bool {
		*snap = Snapshot{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			Status:       StatusAuthenticating,
		}
		return true
	}, "restored")
	return true
}

// BeginLogin marks an interactive login in progress.
func (s *Session) BeginLogin() {
	s.transition(func(snap *Snapshot) bool {
		snap.Status = StatusAuthenticating
		snap.User = nil
		return true
	}, "login")
}

// LoginSucceeded records the user and tokens returned by the gateway.
func (s *Session) LoginSucceeded(user *gateway.User, tokens gateway.TokenPair) {
	s.transition(func(snap *Snapshot) bool {
		*snap = Snapshot{
			User:         user,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			Status:       StatusAuthenticated,
		}
		s.store.Set(credstore.Credential{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		})
		return true
	}, "login succeeded")
}

// LoginFailed returns the session to Anonymous after a rejected login.
// Whatever was stored before the attempt is removed.
func (s *Session) LoginFailed() {
	s.transition(func(snap *Snapshot) bool {
		*snap = Snapshot{Status: StatusAnonymous}
		s.store.Clear()
		return true
	}, "login failed")
}

// Identify records the user returned by whoAmI for a restored session.
// It is ignored unless the session still holds tokens.
func (s *Session) Identify(user *gateway.User) {
	s.transition(func(snap *Snapshot) bool {
		if snap.AccessToken == "" {
			return false
		}
		snap.User = user
		switch snap.Status {
		case StatusAuthenticating:
			snap.Status = StatusAuthenticated
		case StatusRefreshing:
			s.restoreTo = StatusAuthenticated
		}
		return true
	}, "identified")
}

// BeginRefresh moves an authenticated (or still authenticating) session to
// Refreshing. It returns false, changing nothing, when the session cannot be
// refreshed.
func (s *Session) BeginRefresh() bool {
	allowed := false
	s.transition(func(snap *Snapshot) bool {
		switch snap.Status {
		case StatusAuthenticated, StatusAuthenticating:
			s.restoreTo = snap.Status
			snap.Status = StatusRefreshing
			allowed = true
			return true
		case StatusRefreshing:
			allowed = true
		}
		return false
	}, "refresh")
	return allowed
}

// RefreshSucceeded installs a renewed token pair and writes it through.
// It is ignored if the session was logged out while the refresh was in flight.
func (s *Session) RefreshSucceeded(tokens gateway.TokenPair) bool {
	return s.transition(func(snap *Snapshot) bool {
		if snap.Status == StatusAnonymous || snap.Status == StatusExpired {
			return false
		}
		snap.AccessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			snap.RefreshToken = tokens.RefreshToken
		}
		if snap.Status == StatusRefreshing {
			snap.Status = s.restoreTo
			if snap.Status == "" {
				snap.Status = StatusAuthenticated
			}
		}
		if snap.User == nil && snap.Status == StatusAuthenticated {
			snap.Status = StatusAuthenticating
		}
		s.store.Set(credstore.Credential{
			AccessToken:  snap.AccessToken,
			RefreshToken: snap.RefreshToken,
		})
		return true
	}, "refresh succeeded")
}

// Expire ends the session after an irrecoverable authentication failure.
// Subscribers see Expired, then Anonymous. Persisted credentials are removed.
func (s *Session) Expire(reason string) {
	changed := s.transition(func(snap *Snapshot) bool {
		if snap.Status == StatusAnonymous && snap.AccessToken == "" && snap.RefreshToken == "" {
			return false
		}
		*snap = Snapshot{Status: StatusExpired}
		s.store.Clear()
		return true
	}, reason)
	if !changed {
		return
	}
	s.log.Debug().Str("reason", reason).Msg("session expired")

	s.transition(func(snap *Snapshot) bool {
		if snap.Status != StatusExpired {
			return false
		}
		snap.Status = StatusAnonymous
		return true
	}, reason)
}

// Logout clears the session and the persisted credentials.
func (s *Session) Logout() {
	s.transition(func(snap *Snapshot) bool {
		*snap = Snapshot{Status: StatusAnonymous}
		s.store.Clear()
		return true
	}, "logout")
}

// transition applies fn under the lock and publishes the resulting event when
// fn reports a change.
func (s *Session) transition(fn func(*Snapshot) bool, reason string) bool {
	s.mu.Lock()
	from := s.snap.Status
	if !fn(&s.snap) {
		s.mu.Unlock()
		return false
	}
	ev := s.eventLocked(from, reason)
	s.mu.Unlock()

	s.publish(ev)
	return true
}

func (s *Session) eventLocked(from Status, reason string) Event {
	return Event{
		From:   from,
		To:     s.snap.Status,
		User:   s.snap.User,
		Reason: reason,
	}
}

func (s *Session) copyLocked() Snapshot {
	snap := s.snap
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

func (s *Session) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
