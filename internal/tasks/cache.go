package tasks

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// listCache deduplicates concurrent list fetches and keeps the result for a
// short TTL. Any mutation invalidates everything.
type listCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu         sync.Mutex
	entries    map[int]cacheEntry
	generation uint64
}

type cacheEntry struct {
	tasks   []Task
	fetched time.Time
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]cacheEntry),
	}
}

// get returns the cached list for userID, or calls fetch. Concurrent callers
// for the same user share one fetch. hit reports whether no fetch was needed.
func (c *listCache) get(userID int, fetch func() ([]Task, error)) (tasks []Task, hit bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && c.ttl > 0 && c.now().Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		return cloneTasks(e.tasks), true, nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.Itoa(userID), func() (any, error) {
		tasks, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A mutation during the fetch makes this result stale.
		if c.generation == gen && c.ttl > 0 {
			c.entries[userID] = cacheEntry{tasks: tasks, fetched: c.now()}
		}
		c.mu.Unlock()
		return tasks, nil
	})
	if err != nil {
		return nil, false, err
	}
	return cloneTasks(v.([]Task)), false, nil
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	c.generation++
	c.entries = make(map[int]cacheEntry)
	c.mu.Unlock()
}

func cloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
