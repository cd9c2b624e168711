package zone

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
)

// Contents is one immutable version of a zone: the apex, the plain and NSEC3
// trees and the NSEC3 parameters in force. Readers traverse a published
// contents without locks; all mutation happens while building the next
// version, before Adjust.
type Contents struct {
	origin string

	apex  *Node
	tree  *Tree
	nsec3 *Tree

	nsec3params *dns.NSEC3PARAM

	adjusted bool

	// owned tracks nodes and sets created for this version. Anything absent
	// is shared with the previous version and must be cloned before any
	// write. Dropped after Adjust.
	owned     map[*Node]struct{}
	ownedSets map[*RRSet]struct{}
}

// NewContents returns an empty, unadjusted contents for origin.
func NewContents(origin string) *Contents {
	origin = dnsname.Canonical(origin)

	z := &Contents{
		origin:    origin,
		tree:      NewTree(),
		nsec3:     NewTree(),
		owned:     make(map[*Node]struct{}),
		ownedSets: make(map[*RRSet]struct{}),
	}

	z.apex = NewNode(origin)
	z.apex.Apex = true
	z.owned[z.apex] = struct{}{}
	z.tree.Insert(z.apex)

	return z
}

// Origin returns the zone origin in canonical form.
func (z *Contents) Origin() string { return z.origin }

// Apex returns the apex node.
func (z *Contents) Apex() *Node { return z.apex }

// Tree returns the plain name tree.
func (z *Contents) Tree() *Tree { return z.tree }

// NSEC3Tree returns the hashed-name tree.
func (z *Contents) NSEC3Tree() *Tree { return z.nsec3 }

// NSEC3Params returns the parameters loaded by the adjust pass, nil for
// unsigned or NSEC zones.
func (z *Contents) NSEC3Params() *dns.NSEC3PARAM { return z.nsec3params }

// Signed reports whether the zone carries DNSSEC signatures at the apex.
func (z *Contents) Signed() bool {
	return z.apex.HasType(dns.TypeDNSKEY) || z.soaSigned()
}

func (z *Contents) soaSigned() bool {
	rs := z.apex.RRSet(dns.TypeSOA)
	return rs != nil && len(rs.Sigs) > 0
}

// SOA returns the apex SOA record, nil when absent.
func (z *Contents) SOA() *dns.SOA {
	rs := z.apex.RRSet(dns.TypeSOA)
	if rs == nil || rs.Len() == 0 {
		return nil
	}
	soa, _ := rs.RRs[0].(*dns.SOA)
	return soa
}

// Serial returns the apex SOA serial, zero when the SOA is missing.
func (z *Contents) Serial() uint32 {
	if soa := z.SOA(); soa != nil {
		return soa.Serial
	}
	return 0
}

// NodeCount returns the number of nodes in the plain tree.
func (z *Contents) NodeCount() int { return z.tree.Len() }

// Adjusted reports whether the adjust pass has run on this version.
func (z *Contents) Adjusted() bool { return z.adjusted }

// AddRR inserts a record, materialising empty non-terminals on the path from
// the owner to the apex. NSEC3 records and their signatures land in the
// hashed-name tree. Records outside the zone are rejected.
func (z *Contents) AddRR(rr dns.RR) error {
	hdr := rr.Header()
	owner := dnsname.Canonical(hdr.Name)
	hdr.Name = owner

	if !dnsname.IsSubDomain(owner, z.origin) {
		return ErrOutOfZone
	}

	rtype := hdr.Rrtype
	covered := uint16(0)
	if sig, ok := rr.(*dns.RRSIG); ok {
		covered = sig.TypeCovered
	}

	if rtype == dns.TypeNSEC3 || covered == dns.TypeNSEC3 {
		node := z.ensureNSEC3Node(owner)
		z.insertRR(node, rr, covered)
		return nil
	}

	node := z.ensureNode(owner)
	z.insertRR(node, rr, covered)
	return nil
}

// RemoveRR deletes the record matching rr's canonical rdata. Nodes emptied of
// all records and without descendants are pruned. Reports whether a record
// was removed.
func (z *Contents) RemoveRR(rr dns.RR) bool {
	owner := dnsname.Canonical(rr.Header().Name)

	rtype := rr.Header().Rrtype
	covered := uint16(0)
	if sig, ok := rr.(*dns.RRSIG); ok {
		covered = sig.TypeCovered
	}

	tree := z.tree
	if rtype == dns.TypeNSEC3 || covered == dns.TypeNSEC3 {
		tree = z.nsec3
	}

	node := tree.Get(owner)
	if node == nil {
		return false
	}

	node = z.writable(tree, node)

	setType := rtype
	if covered != 0 {
		setType = covered
	}

	if node.RRSets[setType] == nil {
		return false
	}

	rs := z.writableSet(node, setType)

	var removed bool
	if covered != 0 {
		removed = rs.RemoveSig(rr)
	} else {
		removed = rs.Remove(rr)
	}

	if rs.Empty() {
		delete(node.RRSets, setType)
	}

	if removed && node.Empty() && !node.Apex {
		z.prune(tree, node)
	}

	return removed
}

func (z *Contents) insertRR(node *Node, rr dns.RR, covered uint16) {
	setType := rr.Header().Rrtype
	if covered != 0 {
		setType = covered
	}

	rs := z.writableSet(node, setType)

	if covered != 0 {
		rs.InsertSig(rr)
		return
	}
	rs.Insert(rr)
}

// writableSet returns the set of setType at node, cloning sets shared with
// the previous version before they are written.
func (z *Contents) writableSet(node *Node, setType uint16) *RRSet {
	rs := node.RRSets[setType]
	if rs == nil {
		rs = NewRRSet()
		node.RRSets[setType] = rs
		z.ownedSets[rs] = struct{}{}
		return rs
	}

	if _, own := z.ownedSets[rs]; !own {
		rs = rs.Clone()
		node.RRSets[setType] = rs
		z.ownedSets[rs] = struct{}{}
	}

	return rs
}

// ensureNode returns the writable node for owner, creating it and any empty
// non-terminal ancestors up to the apex.
func (z *Contents) ensureNode(owner string) *Node {
	if node := z.tree.Get(owner); node != nil {
		return z.writable(z.tree, node)
	}

	node := NewNode(owner)
	z.owned[node] = struct{}{}
	z.tree.Insert(node)

	// Materialise the path towards the apex.
	for anc := dnsname.Parent(owner); dnsname.IsSubDomain(anc, z.origin); anc = dnsname.Parent(anc) {
		if z.tree.Get(anc) != nil {
			break
		}
		ent := NewNode(anc)
		ent.EmptyNonTerminal = true
		z.owned[ent] = struct{}{}
		z.tree.Insert(ent)
		if anc == z.origin {
			break
		}
	}

	return node
}

func (z *Contents) ensureNSEC3Node(owner string) *Node {
	if node := z.nsec3.Get(owner); node != nil {
		return z.writable(z.nsec3, node)
	}

	node := NewNode(owner)
	z.owned[node] = struct{}{}
	z.nsec3.Insert(node)
	return node
}

// writable returns node itself when owned by this version, or a clone
// inserted in its place otherwise.
func (z *Contents) writable(tree *Tree, node *Node) *Node {
	if _, own := z.owned[node]; own {
		return node
	}

	c := node.Clone()
	z.owned[c] = struct{}{}
	tree.Insert(c)

	if node == z.apex {
		z.apex = c
	}

	return c
}

// prune removes an empty leaf and then any empty non-terminal ancestors left
// without descendants.
func (z *Contents) prune(tree *Tree, node *Node) {
	owner := node.Owner

	for owner != z.origin {
		n := tree.Get(owner)
		if n == nil || !n.Empty() || z.hasChildren(tree, owner) {
			return
		}
		tree.Delete(owner)
		owner = dnsname.Parent(owner)
	}
}

func (z *Contents) hasChildren(tree *Tree, owner string) bool {
	found := false
	tree.bt.AscendGreaterOrEqual(&Node{Owner: owner}, func(n *Node) bool {
		if dnsname.Equal(n.Owner, owner) {
			return true
		}
		found = dnsname.IsSubDomain(n.Owner, owner)
		return false
	})
	return found
}

// Lookup is the result of a closest-encloser search.
type Lookup struct {
	// Match reports an exact owner match; Node is then the matching node and
	// equals Encloser.
	Match bool
	Node  *Node

	// Encloser is the longest existing ancestor of the query name.
	Encloser *Node

	// Previous is the canonical-order predecessor of the query name, the
	// NSEC proof anchor. Set only on a miss.
	Previous *Node
}

// FindName runs the closest-encloser search for qname against the plain
// tree. qname must be inside the zone.
func (z *Contents) FindName(qname string) Lookup {
	qname = dnsname.Canonical(qname)

	node, exact := z.tree.FindLessEqual(qname)
	if exact {
		return Lookup{Match: true, Node: node, Encloser: node}
	}

	lk := Lookup{Previous: node}
	if node == nil {
		// qname sorts before every node; canonical order puts the apex
		// first, so this cannot happen in bailiwick. Fall back to the apex.
		lk.Previous = z.tree.Max()
		lk.Encloser = z.apex
		return lk
	}

	// The closest encloser is the longest ancestor of qname present in the
	// tree; empty non-terminals make it an ancestor of the predecessor, so
	// climbing the owner suffixes finds it.
	anc := qname
	for {
		anc = dnsname.Parent(anc)
		if enc := z.tree.Get(anc); enc != nil {
			lk.Encloser = enc
			break
		}
		if anc == z.origin || anc == "." {
			lk.Encloser = z.apex
			break
		}
	}

	return lk
}

// WildcardAt returns the wildcard child of encloser, nil when absent.
func (z *Contents) WildcardAt(encloser *Node) *Node {
	return z.tree.Get(dnsname.Wildcard(encloser.Owner))
}

// NSEC3Hash returns the hashed owner for name under the zone's NSEC3
// parameters, as a full name in the zone, empty when no parameters are set.
func (z *Contents) NSEC3Hash(name string) string {
	p := z.nsec3params
	if p == nil {
		return ""
	}

	h := dns.HashName(name, p.Hash, p.Iterations, p.Salt)
	if h == "" {
		return ""
	}

	return strings.ToLower(h) + "." + z.origin
}

// Verify checks the post-adjust invariants. A violation quarantines the
// contents: the caller must not publish it.
func (z *Contents) Verify() error {
	if !z.adjusted {
		return ErrNotAdjusted
	}

	if z.SOA() == nil {
		return ErrNoSOA
	}

	if got := z.tree.Get(z.origin); got == nil || got != z.apex {
		return ErrInvariant
	}

	chain := z.nsec3params != nil && z.nsec3.Len() > 0

	ok := true
	z.tree.Ascend(func(n *Node) bool {
		if !dnsname.IsSubDomain(n.Owner, z.origin) {
			ok = false
			return false
		}
		if chain && n.Authoritative() && n.NSEC3 == nil {
			ok = false
			return false
		}
		return true
	})

	if !ok {
		return ErrInvariant
	}

	return nil
}
