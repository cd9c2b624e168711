package zone

import (
	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
)

// ChangeSet is an ordered pair of record collections applied atomically
// against a base contents. SOAFrom and SOATo, when set, pin the serial
// transition the change was built for.
type ChangeSet struct {
	Remove []dns.RR
	Add    []dns.RR

	SOAFrom *dns.SOA
	SOATo   *dns.SOA
}

// Empty reports whether the change carries nothing at all.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Remove) == 0 && len(cs.Add) == 0 && cs.SOATo == nil
}

// SerialTo returns the serial the zone reaches by applying the change, and
// whether the change states one.
func (cs *ChangeSet) SerialTo() (uint32, bool) {
	if cs.SOATo != nil {
		return cs.SOATo.Serial, true
	}
	for _, rr := range cs.Add {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial, true
		}
	}
	return 0, false
}

// Apply builds a new contents from base and the change set. Nodes untouched
// by the change stay shared with base; touched nodes are cloned before
// mutation. The result is adjusted and verified, ready for publish. Base is
// never modified.
func Apply(base *Contents, cs *ChangeSet) (*Contents, error) {
	if !base.adjusted {
		return nil, ErrNotAdjusted
	}

	serial, ok := cs.SerialTo()
	if !ok {
		return nil, ErrConstraintViolation
	}
	if !serialGreater(serial, base.Serial()) {
		return nil, ErrSerialNotAdvancing
	}

	soaTo := cs.SOATo
	if soaTo == nil {
		for _, rr := range cs.Add {
			if soa, isSOA := rr.(*dns.SOA); isSOA {
				soaTo = soa
				break
			}
		}
	}

	next := &Contents{
		origin:      base.origin,
		apex:        base.apex,
		tree:        base.tree.Clone(),
		nsec3:       base.nsec3.Clone(),
		nsec3params: base.nsec3params,
		owned:       make(map[*Node]struct{}),
		ownedSets:   make(map[*RRSet]struct{}),
	}

	for _, rr := range cs.Remove {
		next.RemoveRR(rr)
	}

	if soaTo != nil {
		soa := dns.Copy(soaTo)
		soa.Header().Name = next.origin

		apex := next.writable(next.tree, next.apex)
		rs := NewRRSet()
		rs.Insert(soa)
		apex.RRSets[dns.TypeSOA] = rs
		next.ownedSets[rs] = struct{}{}
	}

	for _, rr := range cs.Add {
		if _, isSOA := rr.(*dns.SOA); isSOA {
			continue
		}
		if err := next.AddRR(rr); err != nil {
			return nil, err
		}
	}

	if next.SOA() == nil {
		return nil, ErrConstraintViolation
	}

	if err := next.Adjust(); err != nil {
		return nil, err
	}

	return next, nil
}

// Diff computes the change set turning base into target, for full-zone
// reloads going through the update path. Signatures travel with their sets.
func Diff(base, target *Contents) *ChangeSet {
	cs := &ChangeSet{SOAFrom: base.SOA(), SOATo: target.SOA()}

	collect := func(z *Contents) map[string][]dns.RR {
		out := make(map[string][]dns.RR)
		each := func(n *Node) bool {
			for _, rs := range n.RRSets {
				for _, rr := range rs.RRs {
					out[rrKey(rr)] = append(out[rrKey(rr)], rr)
				}
				for _, sig := range rs.Sigs {
					out[rrKey(sig)] = append(out[rrKey(sig)], sig)
				}
			}
			return true
		}
		z.tree.Ascend(each)
		z.nsec3.Ascend(each)
		return out
	}

	have := collect(base)
	want := collect(target)

	for key, rrs := range have {
		if _, ok := want[key]; !ok {
			for _, rr := range rrs {
				if rr.Header().Rrtype == dns.TypeSOA {
					continue
				}
				cs.Remove = append(cs.Remove, rr)
			}
		}
	}

	for key, rrs := range want {
		if _, ok := have[key]; !ok {
			for _, rr := range rrs {
				if rr.Header().Rrtype == dns.TypeSOA {
					continue
				}
				cs.Add = append(cs.Add, rr)
			}
		}
	}

	return cs
}

func rrKey(rr dns.RR) string {
	c := dns.Copy(rr)
	c.Header().Ttl = 0
	c.Header().Name = dnsname.Canonical(c.Header().Name)
	for _, f := range dnameFields(c) {
		*f = dnsname.Canonical(*f)
	}
	return c.String()
}

// serialGreater implements RFC 1982 serial number comparison.
func serialGreater(a, b uint32) bool {
	return (a > b && a-b < 1<<31) || (a < b && b-a > 1<<31)
}
