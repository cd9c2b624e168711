package middleware

import (
	"context"

	"github.com/miekg/dns"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *dns.Msg

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// Next call next dns handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// Cancel cancel next calls.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// CancelWithRcode cancel next calls and reply with rcode.
func (ch *Chain) CancelWithRcode(rcode int, do bool) {
	m := new(dns.Msg)
	m.SetRcode(ch.Request, rcode)
	m.Authoritative = false

	if opt := ch.Request.IsEdns0(); opt != nil {
		o := new(dns.OPT)
		o.Hdr.Name = "."
		o.Hdr.Rrtype = dns.TypeOPT
		o.SetUDPSize(opt.UDPSize())
		o.SetDo(opt.Do() && do)
		m.Extra = append(m.Extra, o)
	}

	_ = ch.Writer.WriteMsg(m)

	ch.count = 0
}

// Reset reset the chain variables.
func (ch *Chain) Reset(w dns.ResponseWriter, r *dns.Msg) {
	ch.Writer.Reset(w)
	ch.Request = r
	ch.count = len(ch.handlers)
	ch.head = 0
}
