package zoneio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/authdns/journal"
	"github.com/semihalev/authdns/zone"
	"github.com/semihalev/authdns/zonedb"
)

const masterV1 = `$ORIGIN example.com.
$TTL 3600
@	IN	SOA	ns1 hostmaster 1 7200 3600 1209600 300
	IN	NS	ns1
ns1	IN	A	192.0.2.53
www	300	IN	A	192.0.2.1
`

const masterV2 = `$ORIGIN example.com.
$TTL 3600
@	IN	SOA	ns1 hostmaster 2 7200 3600 1209600 300
	IN	NS	ns1
ns1	IN	A	192.0.2.53
www	300	IN	A	192.0.2.99
ftp	300	IN	A	192.0.2.21
`

func writeZone(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, "example.com.zone", masterV1)

	z, err := LoadFile("example.com.", path)
	require.NoError(t, err)

	assert.False(t, z.Adjusted(), "the loader hands over an unadjusted seed")
	assert.Equal(t, uint32(1), z.Serial())
	require.NoError(t, z.Adjust())
	assert.NotNil(t, z.Tree().Get("www.example.com."))
}

func Test_LoadFileWithoutSOA(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, "broken.zone", "www.example.com. 300 IN A 192.0.2.1\n")

	_, err := LoadFile("example.com.", path)
	assert.ErrorIs(t, err, zone.ErrNoSOA)
}

func Test_DiscoverDir(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "example.com.zone", masterV1)
	writeZone(t, dir, "notes.txt", "ignored")

	m := NewManager(zonedb.New(), nil)
	require.NoError(t, m.DiscoverDir(dir))

	assert.Equal(t, []string{"example.com."}, m.Zones())
}

func Test_LoadAllPublishes(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, "example.com.zone", masterV1)

	db := zonedb.New()
	m := NewManager(db, nil)
	require.NoError(t, m.DiscoverDir(dir))

	m.LoadAll()

	slot := db.Get("example.com.")
	require.NotNil(t, slot)
	require.NotNil(t, slot.Contents())
	assert.Equal(t, uint32(1), slot.Contents().Serial())
	assert.NoError(t, slot.Contents().Verify())
}

func Test_ReloadCommitsDiff(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, "example.com.zone", masterV1)

	db := zonedb.New()
	m := NewManager(db, nil)
	m.AddZone("example.com.", path)
	m.LoadAll()

	writeZone(t, dir, "example.com.zone", masterV2)
	require.NoError(t, m.Reload("example.com."))

	contents := db.Get("example.com.").Contents()
	assert.Equal(t, uint32(2), contents.Serial())
	require.NotNil(t, contents.Tree().Get("ftp.example.com."))

	www := contents.Tree().Get("www.example.com.")
	require.NotNil(t, www)
	assert.Equal(t, "192.0.2.99", www.RRSet(dns.TypeA).RRs[0].(*dns.A).A.String())
}

func Test_ReloadStaleSerialIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, "example.com.zone", masterV2)

	db := zonedb.New()
	m := NewManager(db, nil)
	m.AddZone("example.com.", path)
	m.LoadAll()

	before := db.Get("example.com.").Contents()

	writeZone(t, dir, "example.com.zone", masterV1)
	require.NoError(t, m.Reload("example.com."))

	assert.Same(t, before, db.Get("example.com.").Contents())
}

func Test_JournalReplayOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, "example.com.zone", masterV1)

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	soa2, err := dns.NewRR("example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2 7200 3600 1209600 300")
	require.NoError(t, err)
	extra, err := dns.NewRR("extra.example.com. 300 IN A 192.0.2.55")
	require.NoError(t, err)

	require.NoError(t, j.Append("example.com.", &zone.ChangeSet{
		SOATo: soa2.(*dns.SOA),
		Add:   []dns.RR{extra},
	}))

	db := zonedb.New()
	m := NewManager(db, j)
	m.AddZone("example.com.", path)
	m.LoadAll()

	contents := db.Get("example.com.").Contents()
	require.NotNil(t, contents)
	assert.Equal(t, uint32(2), contents.Serial(), "journal catches the zone up past the master file")
	assert.NotNil(t, contents.Tree().Get("extra.example.com."))
}

func Test_ReloadUnknownZone(t *testing.T) {
	m := NewManager(zonedb.New(), nil)
	assert.Error(t, m.Reload("nope.example."))
}
