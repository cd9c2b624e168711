package authority

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihalev/authdns/middleware"
	"github.com/semihalev/authdns/mock"
	"github.com/semihalev/authdns/zone"
	"github.com/semihalev/authdns/zonedb"
)

var testRecords = []string{
	"example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 300",
	"example.com. 3600 IN NS ns1.example.com.",
	"ns1.example.com. 3600 IN A 192.0.2.53",
	"www.example.com. 300 IN A 192.0.2.1",
	"mail.example.com. 300 IN MX 10 www.example.com.",
	"alias.example.com. 300 IN CNAME www.example.com.",
	"external.example.com. 300 IN CNAME www.example.org.",
	"loop1.example.com. 300 IN CNAME loop2.example.com.",
	"loop2.example.com. 300 IN CNAME loop1.example.com.",
	"sub.example.com. 3600 IN NS ns1.sub.example.com.",
	"ns1.sub.example.com. 3600 IN A 192.0.2.2",
	"*.wild.example.com. 300 IN A 192.0.2.3",
}

func testZone(t *testing.T, records ...string) *zone.Contents {
	t.Helper()

	z := zone.NewContents("example.com.")
	for _, s := range records {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		require.NoError(t, z.AddRR(rr))
	}
	return z
}

func testDB(t *testing.T, z *zone.Contents) *zonedb.DB {
	t.Helper()

	db := zonedb.New()
	slot := db.Slot(z.Origin())
	require.NoError(t, slot.Update(func(*zone.Contents) (*zone.Contents, error) {
		return z, nil
	}))
	return db
}

type queryOpts struct {
	do      bool
	proto   string
	bufsize uint16
}

func ask(t *testing.T, db *zonedb.DB, qname string, qtype uint16, opts ...queryOpts) *dns.Msg {
	t.Helper()

	opt := queryOpts{proto: "udp"}
	if len(opts) > 0 {
		opt = opts[0]
		if opt.proto == "" {
			opt.proto = "udp"
		}
	}

	req := new(dns.Msg)
	req.SetQuestion(qname, qtype)
	if opt.do || opt.bufsize > 0 {
		size := opt.bufsize
		if size == 0 {
			size = 1232
		}
		req.SetEdns0(size, opt.do)
	}

	a := New(db)
	ch := middleware.NewChain([]middleware.Handler{a})

	mw := mock.NewWriter(opt.proto, "127.0.0.1:0")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	require.True(t, mw.Written())
	return mw.Msg()
}

func Test_PositiveAnswer(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "www.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())
	assert.Empty(t, resp.Ns)
}

func Test_CaseInsensitiveLookup(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "WWW.Example.COM.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
}

func Test_NoData(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "www.example.com.", dns.TypeAAAA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	assert.Empty(t, resp.Answer)
	require.Len(t, resp.Ns, 1)
	assert.IsType(t, new(dns.SOA), resp.Ns[0])
}

func Test_NxDomain(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "nope.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.True(t, resp.Authoritative)
	assert.Empty(t, resp.Answer)
	require.Len(t, resp.Ns, 1)
	assert.IsType(t, new(dns.SOA), resp.Ns[0])
}

func Test_Referral(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "x.sub.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.False(t, resp.Authoritative)
	assert.Empty(t, resp.Answer)

	require.Len(t, resp.Ns, 1)
	ns := resp.Ns[0].(*dns.NS)
	assert.Equal(t, "sub.example.com.", ns.Header().Name)
	assert.Equal(t, "ns1.sub.example.com.", ns.Ns)

	require.Len(t, resp.Extra, 1)
	glue := resp.Extra[0].(*dns.A)
	assert.Equal(t, "ns1.sub.example.com.", glue.Header().Name)
	assert.Equal(t, "192.0.2.2", glue.A.String())
}

func Test_GlueIsNeverAnswered(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "ns1.sub.example.com.", dns.TypeA)

	assert.False(t, resp.Authoritative)
	assert.Empty(t, resp.Answer)
	require.NotEmpty(t, resp.Ns)
	assert.IsType(t, new(dns.NS), resp.Ns[0])
}

func Test_WildcardSynthesis(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "foo.wild.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "foo.wild.example.com.", resp.Answer[0].Header().Name)
	assert.Equal(t, "192.0.2.3", resp.Answer[0].(*dns.A).A.String())
}

func Test_WildcardDoesNotMatchEncloser(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	// the wildcard's parent is an empty non-terminal
	resp := ask(t, db, "wild.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func Test_CNAMEChain(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "alias.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 2)
	assert.IsType(t, new(dns.CNAME), resp.Answer[0])
	assert.Equal(t, "www.example.com.", resp.Answer[1].Header().Name)
}

func Test_CNAMEToOutsideZone(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "external.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.IsType(t, new(dns.CNAME), resp.Answer[0])
}

func Test_CNAMELoopStops(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "loop1.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	// both links once, then the loop is cut
	assert.Len(t, resp.Answer, 2)
}

func Test_QueryForCNAMEItself(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "alias.example.com.", dns.TypeCNAME)

	require.Len(t, resp.Answer, 1)
	assert.IsType(t, new(dns.CNAME), resp.Answer[0])
}

func Test_AdditionalForMX(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "mail.example.com.", dns.TypeMX)

	require.Len(t, resp.Answer, 1)
	require.NotEmpty(t, resp.Extra)
	assert.Equal(t, "www.example.com.", resp.Extra[0].Header().Name)
}

func Test_ApexSOAAndNS(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "example.com.", dns.TypeSOA)
	require.Len(t, resp.Answer, 1)
	assert.True(t, resp.Authoritative)

	resp = ask(t, db, "example.com.", dns.TypeNS)
	require.Len(t, resp.Answer, 1)
	// NS target address rides in additional
	require.NotEmpty(t, resp.Extra)
}

func Test_OutOfBailiwickRefused(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "www.example.org.", dns.TypeA)

	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func Test_TransferRefusedOnQueryPath(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "example.com.", dns.TypeAXFR)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	resp = ask(t, db, "example.com.", dns.TypeIXFR)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func Test_UpdateNotImplemented(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	req := new(dns.Msg)
	req.SetUpdate("example.com.")

	a := New(db)
	ch := middleware.NewChain([]middleware.Handler{a})
	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, dns.RcodeNotImplemented, mw.Rcode())
}

func Test_NotifyAcknowledged(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	var notified string

	a := New(db)
	a.OnNotify(func(origin string) { notified = origin })

	req := new(dns.Msg)
	req.SetNotify("example.com.")

	ch := middleware.NewChain([]middleware.Handler{a})
	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, dns.RcodeSuccess, mw.Rcode())
	assert.Equal(t, "example.com.", notified)
}

func Test_QuarantinedZoneServfails(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))
	db.Get("example.com.").Quarantine()

	resp := ask(t, db, "www.example.com.", dns.TypeA)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func Test_TsigFailureNotAuth(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	a := New(db)
	ch := middleware.NewChain([]middleware.Handler{a})
	mw := mock.NewWriter("udp", "127.0.0.1:0")
	mw.SetTsigStatus(dns.ErrSig)
	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, dns.RcodeNotAuth, mw.Rcode())
}

func Test_SectionCountsReconcile(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	resp := ask(t, db, "x.sub.example.com.", dns.TypeA)

	packed, err := resp.Pack()
	require.NoError(t, err)

	parsed := new(dns.Msg)
	require.NoError(t, parsed.Unpack(packed))

	assert.Len(t, parsed.Answer, len(resp.Answer))
	assert.Len(t, parsed.Ns, len(resp.Ns))
	assert.Len(t, parsed.Extra, len(resp.Extra))
}

func Test_FormErrOnMultipleQuestions(t *testing.T) {
	db := testDB(t, testZone(t, testRecords...))

	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	req.Question = append(req.Question, dns.Question{Name: "x.", Qtype: dns.TypeA, Qclass: dns.ClassINET})

	a := New(db)
	ch := middleware.NewChain([]middleware.Handler{a})
	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, dns.RcodeFormatError, mw.Rcode())
}
