package tasks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/fsutil"
)

// OverlayEntry is the local-only state of one task.
type OverlayEntry struct {
	Status      Status `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e OverlayEntry) empty() bool {
	return e.Status == "" && e.Description == ""
}

// Overlay stores the task fields the API has no place for: the in-progress
// status and the description. It lives in dir/overlay.json, keyed by API
// origin and then task ID. A zero dir keeps the overlay in memory.
type Overlay struct {
	dir    string
	origin string
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[string]OverlayEntry // loaded lazily; in-memory mode only uses this
	loaded  bool
}

// NewOverlay creates an overlay for origin stored under dir.
func NewOverlay(dir, origin string, log zerolog.Logger) *Overlay {
	return &Overlay{dir: dir, origin: origin, log: log}
}

// Path returns the overlay file path, or "" for an in-memory overlay.
func (o *Overlay) Path() string {
	if o.dir == "" {
		return ""
	}
	return filepath.Join(o.dir, "overlay.json")
}

// Get returns the overlay entry for a task.
func (o *Overlay) Get(id int) (OverlayEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dir != "" && !o.loaded {
		all, err := o.readAll()
		if err != nil {
			o.log.Warn().Err(err).Msg("ignoring unreadable task overlay")
		}
		o.entries = all[o.origin]
		o.loaded = true
	}
	e, ok := o.entries[strconv.Itoa(id)]
	return e, ok
}

// Set replaces the entry for a task. An empty entry removes it.
func (o *Overlay) Set(id int, e OverlayEntry) {
	o.update(func(m map[string]OverlayEntry) {
		if e.empty() {
			delete(m, strconv.Itoa(id))
			return
		}
		m[strconv.Itoa(id)] = e
	})
}

// Delete removes the entry for a task.
func (o *Overlay) Delete(id int) {
	o.update(func(m map[string]OverlayEntry) {
		delete(m, strconv.Itoa(id))
	})
}

func (o *Overlay) update(fn func(map[string]OverlayEntry)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dir == "" {
		if o.entries == nil {
			o.entries = make(map[string]OverlayEntry)
		}
		fn(o.entries)
		return
	}

	lock, err := fsutil.AcquireLock(o.dir, "overlay")
	if err != nil {
		o.log.Warn().Err(err).Msg("locking task overlay")
		return
	}
	defer lock.Release() //nolint:errcheck

	all, err := o.readAll()
	if err != nil {
		o.log.Warn().Err(err).Msg("replacing unreadable task overlay")
	}
	mine := all[o.origin]
	if mine == nil {
		mine = make(map[string]OverlayEntry)
	}
	fn(mine)
	if len(mine) == 0 {
		delete(all, o.origin)
	} else {
		all[o.origin] = mine
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return
	}
	if err := fsutil.WriteFileAtomic(o.Path(), data); err != nil {
		o.log.Warn().Err(err).Str("path", o.Path()).Msg("writing task overlay")
		return
	}
	o.entries = mine
	o.loaded = true
}

// readAll returns the whole file. Errors come with an empty, usable map.
func (o *Overlay) readAll() (map[string]map[string]OverlayEntry, error) {
	all := make(map[string]map[string]OverlayEntry)
	data, err := os.ReadFile(o.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return all, err
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return make(map[string]map[string]OverlayEntry), err
	}
	// A file holding "null" decodes to a nil map.
	if all == nil {
		all = make(map[string]map[string]OverlayEntry)
	}
	return all, nil
}
