// Package authority is the terminal middleware: it resolves queries against
// the zone database and writes authoritative responses with DNSSEC denial
// proofs.
package authority

import (
	"context"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/middleware"
	"github.com/semihalev/authdns/packet"
	"github.com/semihalev/authdns/zonedb"
)

// Query classes derived from opcode and qtype. Only classNormal engages the
// authoritative lookup path.
type class int

const (
	classNormal class = iota
	classTransfer
	classNotify
	classUpdate
	classInvalid
)

const (
	// cnameChaseLimit caps in-zone CNAME follows in one response.
	cnameChaseLimit = 8
)

// Authority answers queries from the zone database.
type Authority struct {
	db *zonedb.DB

	// notify, when set, is called with the zone origin after a NOTIFY is
	// acknowledged, so the reload path can check for a newer zone.
	notify func(origin string)
}

// New return authority handler over db.
func New(db *zonedb.DB) *Authority {
	return &Authority{db: db}
}

// OnNotify installs the reload hook.
func (a *Authority) OnNotify(fn func(origin string)) { a.notify = fn }

// Name return middleware name
func (a *Authority) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *Authority) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	if rcode := packet.Sane(req); rcode != dns.RcodeSuccess {
		ch.CancelWithRcode(rcode, false)
		return
	}

	if err := w.TsigStatus(); err != nil {
		// RFC 8945: the MAC did not verify; miekg/dns fills in the TSIG
		// error rdata on the signed refusal.
		zlog.Warn("TSIG verification failed", "query", formatQuestion(req), "error", err.Error())
		ch.CancelWithRcode(dns.RcodeNotAuth, false)
		return
	}

	q := req.Question[0]

	switch classify(req) {
	case classNotify:
		a.serveNotify(ch)
		return
	case classUpdate:
		ch.CancelWithRcode(dns.RcodeNotImplemented, false)
		return
	case classTransfer:
		// The transfer plane lives outside the query path.
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	case classInvalid:
		ch.CancelWithRcode(dns.RcodeNotImplemented, false)
		return
	}

	slot := a.db.Match(q.Name)
	if slot == nil {
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	}

	if slot.Quarantined() {
		ch.CancelWithRcode(dns.RcodeServerFailure, false)
		return
	}

	contents := slot.Contents()
	if contents == nil || !contents.Adjusted() {
		ch.CancelWithRcode(dns.RcodeServerFailure, false)
		return
	}

	budget := dns.MaxMsgSize
	if w.Proto() == "udp" {
		budget = packet.UDPSize(req)
	}

	resp := a.respond(ctx, contents, req, budget)
	if resp == nil {
		ch.CancelWithRcode(dns.RcodeServerFailure, false)
		return
	}

	_ = w.WriteMsg(resp)
	ch.Cancel()
}

func (a *Authority) serveNotify(ch *middleware.Chain) {
	req := ch.Request
	q := req.Question[0]

	m := new(dns.Msg)
	m.SetReply(req)
	m.Opcode = dns.OpcodeNotify
	m.Authoritative = true

	if slot := a.db.Get(q.Name); slot != nil {
		if a.notify != nil {
			a.notify(slot.Origin())
		}
	} else {
		m.Rcode = dns.RcodeRefused
	}

	_ = ch.Writer.WriteMsg(m)
	ch.Cancel()
}

// classify maps opcode and qtype on the query class.
func classify(req *dns.Msg) class {
	switch req.Opcode {
	case dns.OpcodeNotify:
		return classNotify
	case dns.OpcodeUpdate:
		return classUpdate
	case dns.OpcodeQuery:
	default:
		return classInvalid
	}

	switch req.Question[0].Qtype {
	case dns.TypeAXFR, dns.TypeIXFR:
		return classTransfer
	}

	return classNormal
}

func formatQuestion(req *dns.Msg) string {
	q := req.Question[0]
	return q.Name + " " + dns.TypeToString[q.Qtype]
}

const name = "authority"
