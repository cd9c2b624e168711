package authority

import (
	"context"

	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/packet"
	"github.com/semihalev/authdns/zone"
)

type outcome int

const (
	answerOutcome outcome = iota
	referralOutcome
	nodataOutcome
	nxdomainOutcome
)

// result carries what the resolve step found, enough for the authority and
// additional sections to be filled without looking anything up twice.
type result struct {
	outcome outcome

	answer []dns.RR

	node     *zone.Node // terminal node: exact match or the wildcard used
	encloser *zone.Node // closest encloser of the final lookup name
	previous *zone.Node // canonical predecessor on a miss
	cut      *zone.Node // delegation point for referrals
	wildcard *zone.Node // wildcard node when synthesis or wildcard NODATA

	// qname of the final lookup, differing from the question owner after a
	// CNAME chain.
	qname string
}

// respond runs the resolution state machine and builds the reply. A nil
// return means the query was cancelled or the reply could not be built; the
// partial reply is dropped and the caller answers SERVFAIL.
func (a *Authority) respond(ctx context.Context, z *zone.Contents, req *dns.Msg, budget int) *dns.Msg {
	q := req.Question[0]
	qname := dnsname.Canonical(q.Name)

	opt := req.IsEdns0()
	do := opt != nil && opt.Do()

	b := packet.New(req, budget)

	res := resolve(z, qname, q.Qtype, do)

	_ = b.Begin(packet.Answer)
	if _, err := b.Put(res.answer, packet.CheckDup); err != nil {
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}

	_ = b.Begin(packet.Authority)
	a.fillAuthority(z, b, &res, do)

	if ctx.Err() != nil {
		return nil
	}

	_ = b.Begin(packet.Additional)
	a.fillAdditional(z, b, &res, do)

	if opt != nil {
		_ = b.PutOpt(maxUDPPayload, do)
	}

	if res.outcome == nxdomainOutcome {
		b.Rcode(dns.RcodeNameError)
	}
	b.Authoritative(res.outcome != referralOutcome)

	return b.Finalise()
}

// maxUDPPayload is the EDNS payload size this server announces.
const maxUDPPayload = 1232

// resolve classifies qname/qtype against one zone version, following in-zone
// CNAME chains up to the chase limit.
func resolve(z *zone.Contents, qname string, qtype uint16, do bool) result {
	res := result{qname: qname}

	visited := make(map[string]struct{})
	cur := qname

	for follow := 0; ; follow++ {
		res.qname = cur
		visited[cur] = struct{}{}

		lk := z.FindName(cur)

		if lk.Match {
			n := lk.Node
			res.node, res.encloser = n, n

			if n.NonAuth {
				res.outcome = referralOutcome
				res.cut = findCut(z, n.Owner)
				return res
			}

			if n.DelegationPoint && qtype != dns.TypeDS {
				res.outcome = referralOutcome
				res.cut = n
				return res
			}

			if qtype == dns.TypeANY {
				for _, t := range n.Types() {
					res.answer = append(res.answer, setRRs(n.RRSet(t), do)...)
				}
				res.outcome = answerOutcome
				return res
			}

			if rs := n.RRSet(qtype); rs != nil && rs.Len() > 0 {
				res.answer = append(res.answer, setRRs(rs, do)...)
				res.outcome = answerOutcome
				return res
			}

			if cname := n.RRSet(dns.TypeCNAME); cname != nil && cname.Len() > 0 && qtype != dns.TypeCNAME {
				res.answer = append(res.answer, setRRs(cname, do)...)

				if next, ok := chaseTarget(z, cname, visited, follow); ok {
					cur = next
					continue
				}

				res.outcome = answerOutcome
				return res
			}

			res.outcome = nodataOutcome
			return res
		}

		enc := lk.Encloser
		res.encloser, res.previous = enc, lk.Previous

		if enc.NonAuth || enc.DelegationPoint {
			res.outcome = referralOutcome
			res.cut = findCut(z, enc.Owner)
			return res
		}

		if w := z.WildcardAt(enc); w != nil && !w.NonAuth {
			res.wildcard = w
			res.node = w

			if rs := w.RRSet(qtype); rs != nil && rs.Len() > 0 {
				res.answer = append(res.answer, synthRRs(rs, cur, do)...)
				res.outcome = answerOutcome
				return res
			}

			if qtype == dns.TypeANY {
				for _, t := range w.Types() {
					res.answer = append(res.answer, synthRRs(w.RRSet(t), cur, do)...)
				}
				res.outcome = answerOutcome
				return res
			}

			if cname := w.RRSet(dns.TypeCNAME); cname != nil && cname.Len() > 0 && qtype != dns.TypeCNAME {
				res.answer = append(res.answer, synthRRs(cname, cur, do)...)

				if next, ok := chaseTarget(z, cname, visited, follow); ok {
					cur = next
					continue
				}

				res.outcome = answerOutcome
				return res
			}

			res.outcome = nodataOutcome
			return res
		}

		res.outcome = nxdomainOutcome
		return res
	}
}

// chaseTarget decides whether the CNAME chain continues inside this zone.
func chaseTarget(z *zone.Contents, cname *zone.RRSet, visited map[string]struct{}, follow int) (string, bool) {
	target := dnsname.Canonical(cname.RRs[0].(*dns.CNAME).Target)

	if follow >= cnameChaseLimit {
		return "", false
	}
	if _, loop := visited[target]; loop {
		return "", false
	}
	if !dnsname.IsSubDomain(target, z.Origin()) {
		return "", false
	}

	return target, true
}

// findCut climbs from owner towards the apex and returns the innermost
// authoritative delegation point.
func findCut(z *zone.Contents, owner string) *zone.Node {
	anc := owner
	for {
		if node := z.Tree().Get(anc); node != nil && node.DelegationPoint && !node.NonAuth {
			return node
		}
		if anc == z.Origin() || anc == "." {
			return nil
		}
		anc = dnsname.Parent(anc)
	}
}

// setRRs returns the records of a set, signatures included when DNSSEC was
// requested.
func setRRs(rs *zone.RRSet, do bool) []dns.RR {
	if rs == nil {
		return nil
	}

	out := make([]dns.RR, 0, len(rs.RRs)+len(rs.Sigs))
	out = append(out, rs.RRs...)
	if do {
		out = append(out, rs.Sigs...)
	}
	return out
}

// synthRRs expands wildcard records under the query name. Signatures travel
// along: their label count stays below the owner's, which is how validators
// recognise the expansion.
func synthRRs(rs *zone.RRSet, owner string, do bool) []dns.RR {
	rrs := setRRs(rs, do)

	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		c := dns.Copy(rr)
		c.Header().Name = owner
		out = append(out, c)
	}
	return out
}
