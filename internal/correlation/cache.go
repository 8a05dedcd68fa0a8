package correlation

import (
	"sync"
	"time"
)

type entry struct {
	value     string
	userID    int64
	createdAt time.Time
}

// cache is the in-memory mirror of one bot's correlation rows.
// threads indexes the topic namespace by thread id for reverse lookups.
type cache struct {
	mu      sync.RWMutex
	data    map[Namespace]map[string]entry
	threads map[string]string
}

func newCache() *cache {
	c := &cache{
		data:    make(map[Namespace]map[string]entry, len(Namespaces)),
		threads: make(map[string]string),
	}
	for _, ns := range Namespaces {
		c.data[ns] = make(map[string]entry)
	}
	return c
}

func (c *cache) put(ns Namespace, key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns == Topic {
		if old, ok := c.data[ns][key]; ok && c.threads[old.value] == key {
			delete(c.threads, old.value)
		}
		c.threads[e.value] = key
	}
	c.data[ns][key] = e
}

func (c *cache) get(ns Namespace, key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[ns][key]
	return e, ok
}

func (c *cache) userByThread(thread string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.threads[thread]
	return key, ok
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.data {
		n += len(m)
	}
	return n
}

// prune drops entries created before cutoff and returns how many were removed.
func (c *cache) prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ns, m := range c.data {
		for key, e := range m {
			if !e.createdAt.Before(cutoff) {
				continue
			}
			delete(m, key)
			if ns == Topic && c.threads[e.value] == key {
				delete(c.threads, e.value)
			}
			removed++
		}
	}
	return removed
}
