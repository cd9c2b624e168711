// Package zonedb keeps the published version of every authoritative zone.
//
// Readers take lock-free snapshots: the current contents of a zone hangs off
// an atomic pointer, and a version once published is never written again, so
// a query traverses one coherent snapshot for its whole lifetime. Writers are
// serialised per zone and publish with a single pointer swap; superseded
// versions are reclaimed by the garbage collector once the last in-flight
// reader drops them, which stands in for a grace period.
package zonedb

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/zone"
)

// Slot is the per-zone publication point.
type Slot struct {
	origin string

	current atomic.Pointer[zone.Contents]

	// mu serialises writers for this zone only; readers never take it.
	mu sync.Mutex

	generation  atomic.Uint64
	quarantined atomic.Bool
}

// Origin returns the zone origin.
func (s *Slot) Origin() string { return s.origin }

// Contents returns the currently published version, nil before first publish.
func (s *Slot) Contents() *zone.Contents {
	return s.current.Load()
}

// Generation returns the publish counter, starting at zero.
func (s *Slot) Generation() uint64 {
	return s.generation.Load()
}

// Quarantined reports whether the zone was pulled from service after an
// invariant violation.
func (s *Slot) Quarantined() bool {
	return s.quarantined.Load()
}

// Quarantine pulls the zone from service until the next successful publish.
// Workers keep answering SERVFAIL for it instead of crashing.
func (s *Slot) Quarantine() {
	if !s.quarantined.Swap(true) {
		zlog.Error("Zone quarantined", "zone", s.origin)
	}
}

// Update runs fn under the writer lock and publishes the contents it
// returns. fn receives the current version (nil before first publish) and
// returns a fresh contents, which is adjusted here when fn has not done so;
// a nil contents keeps the current version, and an error abandons the update
// with nothing published.
func (s *Slot) Update(fn func(current *zone.Contents) (*zone.Contents, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.current.Load())
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if !next.Adjusted() {
		if err := next.Adjust(); err != nil {
			return err
		}
	}

	s.current.Store(next)
	s.generation.Add(1)
	s.quarantined.Store(false)

	return nil
}

// DB maps query names to zone slots.
type DB struct {
	mu    sync.RWMutex
	zones map[string]*Slot
}

// New returns an empty zone database.
func New() *DB {
	return &DB{zones: make(map[string]*Slot)}
}

// Slot returns the slot for origin, creating it when needed.
func (db *DB) Slot(origin string) *Slot {
	origin = dnsname.Canonical(origin)

	db.mu.Lock()
	defer db.mu.Unlock()

	if s, ok := db.zones[origin]; ok {
		return s
	}

	s := &Slot{origin: origin}
	db.zones[origin] = s
	return s
}

// Get returns the slot for the exact origin, nil when unknown.
func (db *DB) Get(origin string) *Slot {
	origin = dnsname.Canonical(origin)

	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.zones[origin]
}

// Match selects the zone with the longest origin suffix of qname, nil when
// the name is out of bailiwick of every zone.
func (db *DB) Match(qname string) *Slot {
	qname = dnsname.Canonical(qname)

	db.mu.RLock()
	defer db.mu.RUnlock()

	var best *Slot
	bestLabels := -1

	for origin, s := range db.zones {
		if !dnsname.IsSubDomain(qname, origin) {
			continue
		}
		if n := dnsname.CountLabels(origin); n > bestLabels {
			best = s
			bestLabels = n
		}
	}

	return best
}

// Origins returns the configured zone origins in canonical order.
func (db *DB) Origins() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]string, 0, len(db.zones))
	for origin := range db.zones {
		out = append(out, origin)
	}

	sort.Slice(out, func(i, j int) bool {
		return dnsname.Compare(out[i], out[j]) < 0
	})

	return out
}
