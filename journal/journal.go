// Package journal persists committed zone change sets, keyed by the SOA
// serial they lead to, so a freshly loaded zone can be caught up to the last
// served version.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"
	bbolt "go.etcd.io/bbolt"

	"github.com/semihalev/authdns/zone"
)

var (
	// ErrNoSerial returned when a change set without a target serial is
	// appended.
	ErrNoSerial = errors.New("change set has no target serial")
)

// Journal is an append-only bbolt-backed changeset log, one bucket per zone.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// Append stores a committed change set under the serial it produces.
func (j *Journal) Append(origin string, cs *zone.ChangeSet) error {
	serial, ok := cs.SerialTo()
	if !ok {
		return ErrNoSerial
	}

	data, err := encode(cs)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(origin))
		if err != nil {
			return err
		}

		var key [4]byte
		binary.BigEndian.PutUint32(key[:], serial)
		return b.Put(key[:], data)
	})
}

// Walk replays the change sets committed after fromSerial, in ascending
// order of their serial key.
func (j *Journal) Walk(origin string, fromSerial uint32, fn func(*zone.ChangeSet) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(origin))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return nil
			}

			serial := binary.BigEndian.Uint32(k)
			if !serialGreater(serial, fromSerial) {
				return nil
			}

			cs, err := decode(v)
			if err != nil {
				return err
			}

			return fn(cs)
		})
	})
}

func serialGreater(a, b uint32) bool {
	return (a > b && a-b < 1<<31) || (a < b && b-a > 1<<31)
}

// encode lays a change set out as four wire-form record lists: SOA before,
// SOA after, removals, additions.
func encode(cs *zone.ChangeSet) ([]byte, error) {
	var out []byte

	sections := [][]dns.RR{
		soaSection(cs.SOAFrom),
		soaSection(cs.SOATo),
		cs.Remove,
		cs.Add,
	}

	for _, rrs := range sections {
		var count [2]byte
		binary.BigEndian.PutUint16(count[:], uint16(len(rrs)))
		out = append(out, count[:]...)

		for _, rr := range rrs {
			buf := make([]byte, dns.Len(rr)+16)
			off, err := dns.PackRR(rr, buf, 0, nil, false)
			if err != nil {
				return nil, fmt.Errorf("journal pack: %w", err)
			}

			var size [2]byte
			binary.BigEndian.PutUint16(size[:], uint16(off))
			out = append(out, size[:]...)
			out = append(out, buf[:off]...)
		}
	}

	return out, nil
}

func decode(data []byte) (*zone.ChangeSet, error) {
	cs := new(zone.ChangeSet)

	sections := make([][]dns.RR, 4)
	off := 0

	for i := range sections {
		if off+2 > len(data) {
			return nil, errors.New("journal entry truncated")
		}
		count := int(binary.BigEndian.Uint16(data[off:]))
		off += 2

		for n := 0; n < count; n++ {
			if off+2 > len(data) {
				return nil, errors.New("journal entry truncated")
			}
			size := int(binary.BigEndian.Uint16(data[off:]))
			off += 2

			if off+size > len(data) {
				return nil, errors.New("journal entry truncated")
			}

			rr, _, err := dns.UnpackRR(data[off:off+size], 0)
			if err != nil {
				return nil, fmt.Errorf("journal unpack: %w", err)
			}
			off += size

			sections[i] = append(sections[i], rr)
		}
	}

	if len(sections[0]) > 0 {
		cs.SOAFrom, _ = sections[0][0].(*dns.SOA)
	}
	if len(sections[1]) > 0 {
		cs.SOATo, _ = sections[1][0].(*dns.SOA)
	}
	cs.Remove = sections[2]
	cs.Add = sections[3]

	return cs, nil
}

func soaSection(soa *dns.SOA) []dns.RR {
	if soa == nil {
		return nil
	}
	return []dns.RR{soa}
}
