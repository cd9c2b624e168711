package zone

import (
	"unsafe"

	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
)

// Adjust prepares the contents for publication. Three phases, in order:
// NSEC3 parameter load from the apex, rdata domain name interning against
// the plain tree, and the canonical-order walk computing node flags and
// NSEC3 cross-links. Running Adjust twice is a no-op: flags and links are
// written only when they change, and rdata names only inside record sets
// this version owns, on copies of the records, which keeps record data
// shared with the previous version untouched while readers still traverse
// it.
func (z *Contents) Adjust() error {
	if z.owned == nil {
		z.owned = make(map[*Node]struct{})
	}
	if z.ownedSets == nil {
		z.ownedSets = make(map[*RRSet]struct{})
	}

	z.loadNSEC3Params()
	z.internRdata()
	z.relink()

	z.adjusted = true
	z.owned = nil
	z.ownedSets = nil

	return z.Verify()
}

// loadNSEC3Params decodes the apex NSEC3PARAM, clearing the parameters when
// the record is gone.
func (z *Contents) loadNSEC3Params() {
	rs := z.apex.RRSet(dns.TypeNSEC3PARAM)
	if rs == nil || rs.Len() == 0 {
		z.nsec3params = nil
		return
	}

	if p, ok := rs.RRs[0].(*dns.NSEC3PARAM); ok {
		z.nsec3params = p
	}
}

// internRdata repoints every in-zone domain name inside rdata at the owner
// string of the node it names. Identity sharing makes delegation and
// additional-section follows one hash lookup, and leaves exactly one
// representative per name in the zone. Sets shared with the previous version
// were interned there and are skipped.
func (z *Contents) internRdata() {
	intern := func(n *Node) bool {
		for _, rs := range n.RRSets {
			if _, own := z.ownedSets[rs]; !own {
				continue
			}
			for i, rr := range rs.RRs {
				rs.RRs[i] = z.internRR(rr)
			}
			for i, sig := range rs.Sigs {
				rs.Sigs[i] = z.internRR(sig)
			}
		}
		return true
	}

	z.tree.Ascend(intern)
	z.nsec3.Ascend(intern)
}

// internRR returns rr with its in-zone names sharing the owner string of the
// node they name. A record needing a write is copied first: a cloned set
// still shares its records with the previous version.
func (z *Contents) internRR(rr dns.RR) dns.RR {
	out := rr
	for i, f := range dnameFields(rr) {
		target := dnsname.Canonical(*f)
		if !dnsname.IsSubDomain(target, z.origin) {
			continue
		}
		node := z.tree.Get(target)
		if node == nil {
			continue
		}
		if len(*f) == len(node.Owner) && unsafe.StringData(*f) == unsafe.StringData(node.Owner) {
			continue
		}
		if out == rr {
			out = dns.Copy(rr)
		}
		*dnameFields(out)[i] = node.Owner
	}
	return out
}

// relink walks the plain tree in canonical order recomputing the delegation
// flags and the NSEC3 links. Changes are collected first and applied after
// the walk; nodes shared with the previous version are cloned before any
// flag flips.
func (z *Contents) relink() {
	type change struct {
		node       *Node
		delegation bool
		nonAuth    bool
		ent        bool
		nsec3      *Node
	}

	var changes []change

	cut := "" // owner of the innermost delegation point above the cursor

	z.tree.Ascend(func(n *Node) bool {
		below := cut != "" && !dnsname.Equal(n.Owner, cut) && dnsname.IsSubDomain(n.Owner, cut)
		if !below {
			cut = ""
		}

		delegation := !n.Apex && !below && n.HasType(dns.TypeNS)
		if delegation {
			cut = n.Owner
		}

		ent := !n.Apex && n.Empty()

		var nsec3 *Node
		if z.nsec3params != nil && !below {
			if h := z.NSEC3Hash(n.Owner); h != "" {
				nsec3 = z.nsec3.Get(h)
			}
		}

		if n.DelegationPoint != delegation || n.NonAuth != below ||
			n.EmptyNonTerminal != ent || n.NSEC3 != nsec3 {
			changes = append(changes, change{n, delegation, below, ent, nsec3})
		}

		return true
	})

	for _, c := range changes {
		n := z.writable(z.tree, c.node)
		n.DelegationPoint = c.delegation
		n.NonAuth = c.nonAuth
		n.EmptyNonTerminal = c.ent
		n.NSEC3 = c.nsec3
	}
}
