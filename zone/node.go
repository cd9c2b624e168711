package zone

import (
	"github.com/miekg/dns"
)

// Node is one owner name in a zone tree with its type to RRSet map.
//
// Parent and NSEC3 relations are not stored as owning edges: the plain tree
// itself answers parent queries (walking ancestor names), and NSEC3 carries a
// non-owning pointer into the NSEC3 tree of the same contents, set by the
// adjust pass.
type Node struct {
	Owner string

	RRSets map[uint16]*RRSet

	// NSEC3 points at the node in the NSEC3 tree whose owner is the hashed
	// form of this owner. Nil when the zone is unsigned or the chain is
	// incomplete.
	NSEC3 *Node

	// DelegationPoint marks a non-apex node carrying an NS set.
	DelegationPoint bool
	// NonAuth marks nodes strictly below a delegation cut, glue included;
	// the delegation point itself stays authoritative.
	NonAuth bool
	// Apex marks the zone origin node.
	Apex bool
	// EmptyNonTerminal marks nodes materialised only because names exist
	// below them.
	EmptyNonTerminal bool
}

// NewNode returns an empty node for owner.
func NewNode(owner string) *Node {
	return &Node{
		Owner:  owner,
		RRSets: make(map[uint16]*RRSet),
	}
}

// RRSet returns the set of the given type, nil when absent.
func (n *Node) RRSet(t uint16) *RRSet {
	return n.RRSets[t]
}

// HasType reports whether a non-empty set of type t exists at the node.
func (n *Node) HasType(t uint16) bool {
	rs := n.RRSets[t]
	return rs != nil && rs.Len() > 0
}

// Types returns the record types present at the node.
func (n *Node) Types() []uint16 {
	types := make([]uint16, 0, len(n.RRSets))
	for t, rs := range n.RRSets {
		if rs.Len() > 0 {
			types = append(types, t)
		}
	}
	return types
}

// Empty reports whether the node carries no records at all.
func (n *Node) Empty() bool {
	for _, rs := range n.RRSets {
		if !rs.Empty() {
			return false
		}
	}
	return true
}

// Authoritative reports whether the node's data is served authoritatively:
// anything not below a zone cut. A delegation point itself is authoritative
// for NS and DS.
func (n *Node) Authoritative() bool {
	return !n.NonAuth
}

// Clone returns a shallow-copy-on-write duplicate: the RRSet map is copied,
// the sets themselves are shared until cloned by the caller.
func (n *Node) Clone() *Node {
	c := &Node{
		Owner:            n.Owner,
		RRSets:           make(map[uint16]*RRSet, len(n.RRSets)),
		NSEC3:            n.NSEC3,
		DelegationPoint:  n.DelegationPoint,
		NonAuth:          n.NonAuth,
		Apex:             n.Apex,
		EmptyNonTerminal: n.EmptyNonTerminal,
	}
	for t, rs := range n.RRSets {
		c.RRSets[t] = rs
	}
	return c
}

// dnameFields returns pointers to the domain name fields inside rr's rdata,
// the descriptor the adjust pass and canonical rdata form work from. Types
// without name fields yield nil.
func dnameFields(rr dns.RR) []*string {
	switch x := rr.(type) {
	case *dns.NS:
		return []*string{&x.Ns}
	case *dns.CNAME:
		return []*string{&x.Target}
	case *dns.DNAME:
		return []*string{&x.Target}
	case *dns.SOA:
		return []*string{&x.Ns, &x.Mbox}
	case *dns.MX:
		return []*string{&x.Mx}
	case *dns.KX:
		return []*string{&x.Exchanger}
	case *dns.SRV:
		return []*string{&x.Target}
	case *dns.PTR:
		return []*string{&x.Ptr}
	case *dns.NAPTR:
		return []*string{&x.Replacement}
	case *dns.RRSIG:
		return []*string{&x.SignerName}
	case *dns.NSEC:
		return []*string{&x.NextDomain}
	}
	return nil
}

// AdditionalTargets returns the rdata names a response's ADDITIONAL section
// may want addresses for.
func AdditionalTargets(rr dns.RR) []string {
	switch x := rr.(type) {
	case *dns.NS:
		return []string{x.Ns}
	case *dns.MX:
		return []string{x.Mx}
	case *dns.SRV:
		return []string{x.Target}
	}
	return nil
}
