package zone

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rr(t *testing.T, s string) dns.RR {
	t.Helper()

	r, err := dns.NewRR(s)
	require.NoError(t, err)
	return r
}

func Test_RRSetInsertOrderAndDedup(t *testing.T) {
	rs := NewRRSet()

	assert.True(t, rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.9")))
	assert.True(t, rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.1")))
	assert.False(t, rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.1")))

	require.Equal(t, 2, rs.Len())

	// canonical rdata order: big-endian address bytes
	assert.Equal(t, "192.0.2.1", rs.RRs[0].(*dns.A).A.String())
	assert.Equal(t, "192.0.2.9", rs.RRs[1].(*dns.A).A.String())
}

func Test_RRSetTTLNormalised(t *testing.T) {
	rs := NewRRSet()

	rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.1"))
	rs.Insert(rr(t, "www.example.com. 60 IN A 192.0.2.2"))

	assert.Equal(t, uint32(60), rs.TTL())
	for _, r := range rs.RRs {
		assert.Equal(t, uint32(60), r.Header().Ttl)
	}
}

func Test_RRSetMerge(t *testing.T) {
	a := NewRRSet()
	a.Insert(rr(t, "mail.example.com. 300 IN A 192.0.2.1"))
	a.InsertSig(rr(t, "mail.example.com. 300 IN RRSIG A 13 3 300 20300101000000 20200101000000 12345 example.com. dGVzdA=="))

	b := NewRRSet()
	b.Insert(rr(t, "mail.example.com. 300 IN A 192.0.2.1"))
	b.Insert(rr(t, "mail.example.com. 300 IN A 192.0.2.2"))
	b.InsertSig(rr(t, "mail.example.com. 300 IN RRSIG A 13 3 300 20300101000000 20200101000000 54321 example.com. dGVzdA=="))

	dups := a.Merge(b)

	assert.Equal(t, 1, dups)
	assert.Equal(t, 2, a.Len())
	// signatures do not merge
	assert.Len(t, a.Sigs, 1)
}

func Test_RRSetRemove(t *testing.T) {
	rs := NewRRSet()
	rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.1"))
	rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.2"))

	// rdata match is case-insensitive on name fields and ignores TTL
	assert.True(t, rs.Remove(rr(t, "www.example.com. 60 IN A 192.0.2.1")))
	assert.False(t, rs.Remove(rr(t, "www.example.com. 300 IN A 192.0.2.1")))
	assert.Equal(t, 1, rs.Len())
}

func Test_CanonicalRdataLowercasesNames(t *testing.T) {
	a := canonicalRdata(rr(t, "example.com. 300 IN MX 10 Mail.EXAMPLE.com."))
	b := canonicalRdata(rr(t, "example.com. 300 IN MX 10 mail.example.com."))

	assert.Equal(t, a, b)
}

func Test_RRSetClone(t *testing.T) {
	rs := NewRRSet()
	rs.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.1"))

	c := rs.Clone()
	c.Insert(rr(t, "www.example.com. 300 IN A 192.0.2.2"))

	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, 2, c.Len())
}
