// Package packet builds DNS response messages under a wire size budget.
//
// The builder enforces the section ordering of a response as a small state
// machine and keeps the projected wire size current while records are
// written, so truncation decisions happen record by record instead of after
// packing. Name compression and the wire codec itself are miekg/dns.
package packet

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

// Section states of a response under construction. Begin only advances.
type Section int

const (
	// Empty is a fresh builder with only the header and question.
	Empty Section = iota
	// Answer section.
	Answer
	// Authority section.
	Authority
	// Additional section.
	Additional
	// Frozen is reached by Finalise; no writes after it.
	Frozen
)

// Flags alter how one record set is written.
type Flags uint8

const (
	// CheckDup drops records already present in the message.
	CheckDup Flags = 1 << iota
	// NoTrunc drops a record that does not fit without raising TC.
	NoTrunc
)

var (
	errFrozen     = errors.New("packet frozen")
	errRetreat    = errors.New("section order violation")
	errNoSection  = errors.New("no section begun")
	errOptMisflow = errors.New("OPT outside additional section")
)

// Builder assembles a reply to req within budget wire octets.
type Builder struct {
	msg     *dns.Msg
	section Section
	budget  int
	tc      bool
	seen    map[string]struct{}
}

// New returns a builder for a reply to req. The budget is the maximum wire
// size of the finished message: the EDNS-announced payload for UDP, the
// 64KiB frame limit for TCP.
func New(req *dns.Msg, budget int) *Builder {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Compress = true

	if budget < dns.MinMsgSize {
		budget = dns.MinMsgSize
	}

	return &Builder{
		msg:    m,
		budget: budget,
		seen:   make(map[string]struct{}),
	}
}

// Msg exposes the message under construction.
func (b *Builder) Msg() *dns.Msg { return b.msg }

// Truncated reports whether TC was raised.
func (b *Builder) Truncated() bool { return b.tc }

// Rcode sets the response code.
func (b *Builder) Rcode(rcode int) { b.msg.Rcode = rcode }

// Authoritative sets the AA header bit.
func (b *Builder) Authoritative(aa bool) { b.msg.Authoritative = aa }

// Begin advances to section s. Moving backwards is a programming error and
// is rejected.
func (b *Builder) Begin(s Section) error {
	if b.section == Frozen {
		return errFrozen
	}
	if s < b.section {
		return errRetreat
	}
	b.section = s
	return nil
}

// Put writes rrs into the current section. Records that would push the
// message over budget are dropped; unless NoTrunc is given, the header TC
// bit is raised so the client retries over TCP. Returns how many records
// were written.
func (b *Builder) Put(rrs []dns.RR, flags Flags) (int, error) {
	if b.section == Frozen {
		return 0, errFrozen
	}
	if b.section == Empty {
		return 0, errNoSection
	}

	target := b.target()

	written := 0
	for _, rr := range rrs {
		if rr == nil {
			continue
		}

		if flags&CheckDup != 0 {
			key := dupKey(rr)
			if _, dup := b.seen[key]; dup {
				continue
			}
			b.seen[key] = struct{}{}
		}

		*target = append(*target, rr)

		if b.msg.Len() > b.budget {
			*target = (*target)[:len(*target)-1]
			if flags&NoTrunc == 0 {
				b.tc = true
			}
			continue
		}

		written++
	}

	return written, nil
}

// PutOpt emits the EDNS OPT pseudo-record. It lives in ADDITIONAL and must
// precede any TSIG, which the transport appends after Finalise.
func (b *Builder) PutOpt(udpsize uint16, do bool) error {
	if b.section != Additional {
		return errOptMisflow
	}

	opt := new(dns.OPT)
	opt.Hdr.Name = "."
	opt.Hdr.Rrtype = dns.TypeOPT
	opt.SetUDPSize(udpsize)
	if do {
		opt.SetDo()
	}

	b.msg.Extra = append(b.msg.Extra, opt)

	if b.msg.Len() > b.budget {
		// The OPT is never sacrificed; push data out instead.
		b.msg.Extra = b.msg.Extra[:len(b.msg.Extra)-1]
		b.truncateData()
		b.msg.Extra = append(b.msg.Extra, opt)
	}

	return nil
}

// Finalise freezes the message. With TC raised the whole data part of the
// ADDITIONAL section is discarded, so a truncated reply never carries a
// partial additional section. Header counts follow the sections; miekg/dns
// reconciles them on pack.
func (b *Builder) Finalise() *dns.Msg {
	if b.tc {
		b.msg.Truncated = true
		b.dropAdditionalData()
	}

	b.section = Frozen
	return b.msg
}

func (b *Builder) target() *[]dns.RR {
	switch b.section {
	case Answer:
		return &b.msg.Answer
	case Authority:
		return &b.msg.Ns
	default:
		return &b.msg.Extra
	}
}

// truncateData drops records until the message fits, additional first, then
// authority, answer last.
func (b *Builder) truncateData() {
	for b.msg.Len() > b.budget && len(b.msg.Extra) > 0 {
		b.msg.Extra = b.msg.Extra[:len(b.msg.Extra)-1]
		b.tc = true
	}
	for b.msg.Len() > b.budget && len(b.msg.Ns) > 0 {
		b.msg.Ns = b.msg.Ns[:len(b.msg.Ns)-1]
		b.tc = true
	}
	for b.msg.Len() > b.budget && len(b.msg.Answer) > 0 {
		b.msg.Answer = b.msg.Answer[:len(b.msg.Answer)-1]
		b.tc = true
	}
}

func (b *Builder) dropAdditionalData() {
	kept := b.msg.Extra[:0]
	for _, rr := range b.msg.Extra {
		switch rr.(type) {
		case *dns.OPT, *dns.TSIG:
			kept = append(kept, rr)
		}
	}
	b.msg.Extra = kept
}

// dupKey identifies a record by owner, type and rdata, ignoring TTL.
func dupKey(rr dns.RR) string {
	c := dns.Copy(rr)
	c.Header().Ttl = 0
	return strings.ToLower(c.String())
}
