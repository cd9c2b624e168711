package packet

import (
	"github.com/miekg/dns"
)

// Sane validates a parsed request against the message-shape rules an
// authoritative server enforces before any lookup: exactly one question, at
// most one OPT, and TSIG only as the very last record of ADDITIONAL. The
// returned rcode is RcodeSuccess for a well-formed query, or the shortcut
// code the response must carry.
func Sane(req *dns.Msg) int {
	if req == nil || len(req.Question) != 1 {
		return dns.RcodeFormatError
	}

	if req.Response {
		return dns.RcodeFormatError
	}

	opts := 0
	for i, rr := range req.Extra {
		switch rr.(type) {
		case *dns.OPT:
			opts++
			if opts > 1 {
				return dns.RcodeFormatError
			}
		case *dns.TSIG:
			if i != len(req.Extra)-1 {
				return dns.RcodeFormatError
			}
		}
	}

	if opt := req.IsEdns0(); opt != nil && opt.Version() != 0 {
		return dns.RcodeBadVers
	}

	switch req.Opcode {
	case dns.OpcodeQuery, dns.OpcodeNotify, dns.OpcodeUpdate:
	default:
		return dns.RcodeNotImplemented
	}

	return dns.RcodeSuccess
}

// UDPSize returns the response budget a request announces: the EDNS payload
// size clamped to sane bounds, or the 512 octet classic limit without EDNS.
// TCP responses use the maximum message size instead.
func UDPSize(req *dns.Msg) int {
	opt := req.IsEdns0()
	if opt == nil {
		return dns.MinMsgSize
	}

	size := int(opt.UDPSize())
	if size < dns.MinMsgSize {
		return dns.MinMsgSize
	}
	if size > dns.MaxMsgSize {
		return dns.MaxMsgSize
	}

	return size
}
