// Package routedb tracks routes that have recently failed, so RouteSelector
// can deprioritise them without dropping them entirely.
//
// Entry count is capped; once full, the oldest-failed route is evicted
// rather than letting the map grow without bound.
package routedb

import (
	"sync"
	"time"

	"github.com/thushan/hconnect/internal/domain"
)

// MaxEntries bounds memory growth: once exceeded, the oldest-failed route is
// evicted to make room.
const MaxEntries = 10_000

type entry struct {
	route    domain.Route
	failedAt time.Time
	count    int
}

// DB is a concurrency-safe set of recently failed routes.
type DB struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *DB {
	return &DB{entries: make(map[string]*entry)}
}

// Failed records that route failed just now.
func (d *DB) Failed(route domain.Route) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := route.Key()
	if e, ok := d.entries[key]; ok {
		e.failedAt = time.Now()
		e.count++
		return
	}

	if len(d.entries) >= MaxEntries {
		d.evictOldestLocked()
	}
	d.entries[key] = &entry{route: route, failedAt: time.Now(), count: 1}
}

// Connected removes a route from the failed set: it's known-good again.
func (d *DB) Connected(route domain.Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, route.Key())
}

// IsFailed reports whether a route is currently tracked as recently failed.
func (d *DB) IsFailed(route domain.Route) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[route.Key()]
	return ok
}

// FailureCount returns how many consecutive times a route has failed, 0 if
// it isn't tracked.
func (d *DB) FailureCount(route domain.Route) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[route.Key()]; ok {
		return e.count
	}
	return 0
}

// evictOldestLocked removes the entry with the oldest failedAt. Caller must
// hold d.mu.
func (d *DB) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range d.entries {
		if oldestKey == "" || e.failedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.failedAt
		}
	}
	delete(d.entries, oldestKey)
}
