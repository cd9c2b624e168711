// Package zoneio loads master files into zone contents and keeps them fresh:
// changed files on disk and NOTIFY-triggered checks go through the update
// path of the zone database.
package zoneio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/journal"
	"github.com/semihalev/authdns/zone"
	"github.com/semihalev/authdns/zonedb"
)

// Manager owns the origin to master file mapping and the reload path.
type Manager struct {
	db      *zonedb.DB
	journal *journal.Journal

	files map[string]string // origin -> path
}

// NewManager returns a manager over db. The journal may be nil.
func NewManager(db *zonedb.DB, jrnl *journal.Journal) *Manager {
	return &Manager{
		db:      db,
		journal: jrnl,
		files:   make(map[string]string),
	}
}

// AddZone registers a zone master file.
func (m *Manager) AddZone(origin, path string) {
	m.files[dnsname.Canonical(origin)] = path
}

// DiscoverDir registers every *.zone file in dir; the origin is the file
// name without the extension.
func (m *Manager) DiscoverDir(dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("zone dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zone") {
			continue
		}

		origin := strings.TrimSuffix(e.Name(), ".zone")
		m.AddZone(origin, filepath.Join(dir, e.Name()))
	}

	return nil
}

// Zones returns the registered origins.
func (m *Manager) Zones() []string {
	out := make([]string, 0, len(m.files))
	for origin := range m.files {
		out = append(out, origin)
	}
	return out
}

// LoadAll loads every registered zone, replays the journal over it and
// publishes. Zones failing to load are skipped with an error logged; the
// rest of the server comes up.
func (m *Manager) LoadAll() {
	for origin, path := range m.files {
		if err := m.load(origin, path); err != nil {
			zlog.Error("Zone load failed", "zone", origin, "path", path, "error", err.Error())
			continue
		}

		slot := m.db.Get(origin)
		zlog.Info("Zone loaded", "zone", origin, "serial", slot.Contents().Serial())
	}
}

// Reload re-reads the master file of origin and commits the difference as a
// change set. A stale or equal serial on disk is a no-op.
func (m *Manager) Reload(origin string) error {
	origin = dnsname.Canonical(origin)

	path, ok := m.files[origin]
	if !ok {
		return fmt.Errorf("unknown zone %s", origin)
	}

	fresh, err := LoadFile(origin, path)
	if err != nil {
		return err
	}

	slot := m.db.Slot(origin)

	return slot.Update(func(current *zone.Contents) (*zone.Contents, error) {
		if current == nil {
			if err := fresh.Adjust(); err != nil {
				return nil, err
			}
			return fresh, nil
		}

		cs := zone.Diff(current, fresh)

		next, err := zone.Apply(current, cs)
		if err != nil {
			if err == zone.ErrSerialNotAdvancing {
				zlog.Debug("Zone file serial not advancing, skipping", "zone", origin)
				return nil, nil
			}
			return nil, err
		}

		if m.journal != nil {
			if err := m.journal.Append(origin, cs); err != nil {
				return nil, err
			}
		}

		zlog.Info("Zone reloaded", "zone", origin, "serial", next.Serial())
		return next, nil
	})
}

// load reads, catches up from the journal and publishes one zone.
func (m *Manager) load(origin, path string) error {
	contents, err := LoadFile(origin, path)
	if err != nil {
		return err
	}

	if err := contents.Adjust(); err != nil {
		return err
	}

	if m.journal != nil {
		err = m.journal.Walk(origin, contents.Serial(), func(cs *zone.ChangeSet) error {
			next, err := zone.Apply(contents, cs)
			if err != nil {
				return err
			}
			contents = next
			return nil
		})
		if err != nil {
			return fmt.Errorf("journal replay: %w", err)
		}
	}

	slot := m.db.Slot(origin)

	return slot.Update(func(current *zone.Contents) (*zone.Contents, error) {
		return contents, nil
	})
}

// LoadFile parses a master file into unadjusted zone contents.
func LoadFile(origin, path string) (*zone.Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	origin = dnsname.Canonical(origin)
	contents := zone.NewContents(origin)

	zp := dns.NewZoneParser(f, origin, path)

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if err := contents.AddRR(rr); err != nil {
			return nil, fmt.Errorf("%s: %w", rr.Header().Name, err)
		}
	}

	if err := zp.Err(); err != nil {
		return nil, err
	}

	if contents.SOA() == nil {
		return nil, zone.ErrNoSOA
	}

	return contents, nil
}
