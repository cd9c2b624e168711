package authority

import (
	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/packet"
	"github.com/semihalev/authdns/zone"
)

// fillAuthority writes the authority section for the resolved outcome: the
// SOA on negative answers, the delegation records on referrals and the
// NSEC/NSEC3 denial proofs on signed zones when the client asked for DNSSEC.
func (a *Authority) fillAuthority(z *zone.Contents, b *packet.Builder, res *result, do bool) {
	signed := z.Signed() && do

	switch res.outcome {
	case answerOutcome:
		// Minimal responses: nothing in authority for a positive answer.

	case referralOutcome:
		cut := res.cut
		if cut == nil {
			return
		}

		// Delegation NS records are served from the parent side and stay
		// unsigned; only the DS set carries signatures.
		if ns := cut.RRSet(dns.TypeNS); ns != nil {
			_, _ = b.Put(ns.RRs, packet.CheckDup)
		}

		if !signed {
			return
		}

		if ds := cut.RRSet(dns.TypeDS); ds != nil && ds.Len() > 0 {
			_, _ = b.Put(setRRs(ds, true), packet.CheckDup)
			return
		}

		// Prove the DS absence: matching NSEC3 (or covering one under
		// opt-out), or the NSEC at the delegation owner.
		if z.NSEC3Params() != nil {
			if !a.putNSEC3Match(b, cut) {
				a.putNSEC3Cover(z, b, cut.Owner)
			}
			return
		}
		a.putNSEC(b, cut)

	case nodataOutcome, nxdomainOutcome:
		if soa := z.Apex().RRSet(dns.TypeSOA); soa != nil {
			_, _ = b.Put(setRRs(soa, do), packet.CheckDup)
		}

		if !signed {
			return
		}

		if z.NSEC3Params() != nil {
			a.fillNSEC3Proof(z, b, res)
			return
		}
		a.fillNSECProof(z, b, res)
	}
}

// fillNSEC3Proof emits the RFC 5155 denial proofs.
func (a *Authority) fillNSEC3Proof(z *zone.Contents, b *packet.Builder, res *result) {
	encloserLabels := dnsname.CountLabels(res.encloser.Owner)
	nextCloser := dnsname.NextCloser(res.qname, encloserLabels)

	if res.outcome == nodataOutcome {
		if res.wildcard != nil {
			// Wildcard NODATA: closest encloser proof plus the NSEC3
			// matching the wildcard that lacked the type.
			a.putNSEC3Match(b, res.encloser)
			a.putNSEC3Cover(z, b, nextCloser)
			a.putNSEC3Match(b, res.wildcard)
			return
		}

		a.putNSEC3Match(b, res.node)
		return
	}

	// NXDOMAIN: the closest encloser exists, the next closer does not, and
	// no wildcard at the encloser covers the name. Up to three records.
	a.putNSEC3Match(b, res.encloser)
	a.putNSEC3Cover(z, b, nextCloser)
	a.putNSEC3Cover(z, b, dnsname.Wildcard(res.encloser.Owner))
}

// fillNSECProof emits the RFC 4035 denial proofs.
func (a *Authority) fillNSECProof(z *zone.Contents, b *packet.Builder, res *result) {
	if res.outcome == nodataOutcome {
		if res.wildcard != nil {
			a.putNSEC(b, res.wildcard)
			if res.previous != nil {
				a.putNSEC(b, res.previous)
			}
			return
		}

		a.putNSEC(b, res.node)
		return
	}

	// NXDOMAIN: one NSEC covering the name, one covering the wildcard.
	if res.previous != nil {
		a.putNSEC(b, res.previous)
	}

	if cover, _ := z.Tree().FindLessEqual(dnsname.Wildcard(res.encloser.Owner)); cover != nil {
		a.putNSEC(b, cover)
	}
}

// putNSEC3Match writes the NSEC3 record whose owner hashes node's name,
// reached through the adjust pass cross-link. Reports whether a record went
// out.
func (a *Authority) putNSEC3Match(b *packet.Builder, node *zone.Node) bool {
	if node == nil || node.NSEC3 == nil {
		return false
	}

	rs := node.NSEC3.RRSet(dns.TypeNSEC3)
	if rs == nil || rs.Len() == 0 {
		return false
	}

	n, _ := b.Put(setRRs(rs, true), packet.CheckDup)
	return n > 0
}

// putNSEC3Cover writes the NSEC3 record covering the hash of name: the
// chain predecessor of the hashed owner, wrapping around the chain ends.
func (a *Authority) putNSEC3Cover(z *zone.Contents, b *packet.Builder, name string) {
	h := z.NSEC3Hash(name)
	if h == "" {
		return
	}

	node, exact := z.NSEC3Tree().FindLessEqual(h)
	if exact {
		// The name hashes onto an existing owner; its match is the proof.
	} else if node == nil {
		node = z.NSEC3Tree().Max()
	}

	if node == nil {
		return
	}

	if rs := node.RRSet(dns.TypeNSEC3); rs != nil {
		_, _ = b.Put(setRRs(rs, true), packet.CheckDup)
	}
}

// putNSEC writes the NSEC set at node.
func (a *Authority) putNSEC(b *packet.Builder, node *zone.Node) {
	if node == nil {
		return
	}

	if rs := node.RRSet(dns.TypeNSEC); rs != nil && rs.Len() > 0 {
		_, _ = b.Put(setRRs(rs, true), packet.CheckDup)
	}
}
