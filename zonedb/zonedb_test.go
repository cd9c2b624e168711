package zonedb

import (
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/authdns/zone"
)

func contents(t *testing.T, origin string, serial uint32) *zone.Contents {
	t.Helper()

	z := zone.NewContents(origin)

	soa, err := dns.NewRR(origin + " 3600 IN SOA ns1." + origin + " hostmaster." + origin + " 1 7200 3600 1209600 300")
	require.NoError(t, err)
	soa.(*dns.SOA).Serial = serial
	require.NoError(t, z.AddRR(soa))

	return z
}

func Test_SlotPublish(t *testing.T) {
	db := New()
	slot := db.Slot("example.com.")

	assert.Nil(t, slot.Contents())
	assert.Equal(t, uint64(0), slot.Generation())

	err := slot.Update(func(current *zone.Contents) (*zone.Contents, error) {
		assert.Nil(t, current)
		return contents(t, "example.com.", 1), nil
	})
	require.NoError(t, err)

	require.NotNil(t, slot.Contents())
	assert.True(t, slot.Contents().Adjusted(), "publish runs the adjust pass")
	assert.Equal(t, uint64(1), slot.Generation())
}

func Test_SlotUpdateNilKeepsCurrent(t *testing.T) {
	db := New()
	slot := db.Slot("example.com.")

	require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
		return contents(t, "example.com.", 1), nil
	}))

	current := slot.Contents()

	require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
		return nil, nil
	}))

	assert.Same(t, current, slot.Contents())
	assert.Equal(t, uint64(1), slot.Generation())
}

func Test_QuarantineClearsOnPublish(t *testing.T) {
	db := New()
	slot := db.Slot("example.com.")

	slot.Quarantine()
	assert.True(t, slot.Quarantined())

	require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
		return contents(t, "example.com.", 1), nil
	}))

	assert.False(t, slot.Quarantined())
}

func Test_Match(t *testing.T) {
	db := New()
	db.Slot("example.com.")
	db.Slot("sub.example.com.")
	db.Slot("org.")

	assert.Equal(t, "example.com.", db.Match("www.example.com.").Origin())
	assert.Equal(t, "sub.example.com.", db.Match("a.sub.example.com.").Origin())
	assert.Equal(t, "sub.example.com.", db.Match("sub.example.com.").Origin())
	assert.Equal(t, "org.", db.Match("anything.org.").Origin())
	assert.Nil(t, db.Match("example.net."))
}

func Test_Origins(t *testing.T) {
	db := New()
	db.Slot("zz.example.")
	db.Slot("example.")
	db.Slot("a.example.")

	assert.Equal(t, []string{"example.", "a.example.", "zz.example."}, db.Origins())
}

func Test_LastWriterWins(t *testing.T) {
	db := New()
	slot := db.Slot("example.com.")

	for serial := uint32(1); serial <= 10; serial++ {
		serial := serial
		require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
			return contents(t, "example.com.", serial), nil
		}))
	}

	assert.Equal(t, uint32(10), slot.Contents().Serial())
	assert.Equal(t, uint64(10), slot.Generation())
}

func Test_ConcurrentReadersSeeCoherentSnapshots(t *testing.T) {
	db := New()
	slot := db.Slot("example.com.")

	require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
		return contents(t, "example.com.", 1), nil
	}))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				snapshot := slot.Contents()
				// a snapshot is internally consistent regardless of writers
				assert.Equal(t, snapshot.Serial(), snapshot.SOA().Serial)
				assert.NotNil(t, snapshot.Apex())
			}
		}()
	}

	for serial := uint32(2); serial <= 20; serial++ {
		serial := serial
		require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
			return contents(t, "example.com.", serial), nil
		}))
	}

	close(stop)
	wg.Wait()

	assert.Equal(t, uint32(20), slot.Contents().Serial())
}
