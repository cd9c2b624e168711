package zone

import (
	"bytes"
	"sort"

	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
)

// RRSet holds all records sharing owner, type and class, in canonical rdata
// order, together with the RRSIGs covering the set. The TTL of the whole set
// is the minimum TTL seen on insert.
type RRSet struct {
	RRs  []dns.RR
	Sigs []dns.RR
}

// NewRRSet returns an empty set.
func NewRRSet() *RRSet {
	return &RRSet{}
}

// Len returns the number of records in the set, signatures excluded.
func (rs *RRSet) Len() int { return len(rs.RRs) }

// Empty reports whether the set holds no records and no signatures.
func (rs *RRSet) Empty() bool { return len(rs.RRs) == 0 && len(rs.Sigs) == 0 }

// TTL returns the normalised TTL of the set.
func (rs *RRSet) TTL() uint32 {
	if len(rs.RRs) == 0 {
		return 0
	}
	return rs.RRs[0].Header().Ttl
}

// Insert adds rr keeping canonical rdata order. Duplicates by canonical rdata
// form are dropped. The set TTL becomes the minimum of the existing and the
// inserted TTL.
func (rs *RRSet) Insert(rr dns.RR) bool {
	key := canonicalRdata(rr)

	idx := sort.Search(len(rs.RRs), func(i int) bool {
		return bytes.Compare(canonicalRdata(rs.RRs[i]), key) >= 0
	})

	if idx < len(rs.RRs) && bytes.Equal(canonicalRdata(rs.RRs[idx]), key) {
		rs.normalizeTTL(rr.Header().Ttl)
		return false
	}

	rs.RRs = append(rs.RRs, nil)
	copy(rs.RRs[idx+1:], rs.RRs[idx:])
	rs.RRs[idx] = rr

	rs.normalizeTTL(rr.Header().Ttl)
	return true
}

// Remove deletes the record whose canonical rdata equals rr's. Signatures are
// untouched.
func (rs *RRSet) Remove(rr dns.RR) bool {
	key := canonicalRdata(rr)

	for i, have := range rs.RRs {
		if bytes.Equal(canonicalRdata(have), key) {
			rs.RRs = append(rs.RRs[:i], rs.RRs[i+1:]...)
			return true
		}
	}

	return false
}

// InsertSig attaches an RRSIG covering this set.
func (rs *RRSet) InsertSig(sig dns.RR) {
	key := canonicalRdata(sig)
	for _, have := range rs.Sigs {
		if bytes.Equal(canonicalRdata(have), key) {
			return
		}
	}
	rs.Sigs = append(rs.Sigs, sig)
}

// RemoveSig drops the matching RRSIG from the set.
func (rs *RRSet) RemoveSig(sig dns.RR) bool {
	key := canonicalRdata(sig)
	for i, have := range rs.Sigs {
		if bytes.Equal(canonicalRdata(have), key) {
			rs.Sigs = append(rs.Sigs[:i], rs.Sigs[i+1:]...)
			return true
		}
	}
	return false
}

// Merge unions other into the set, returning how many duplicates were
// dropped. Signatures are not merged, per the signing contract: a merged set
// needs fresh signatures.
func (rs *RRSet) Merge(other *RRSet) (dups int) {
	for _, rr := range other.RRs {
		if !rs.Insert(rr) {
			dups++
		}
	}
	return dups
}

// Clone returns a copy sharing the record values but not the slices, so the
// copy can be mutated without touching the original.
func (rs *RRSet) Clone() *RRSet {
	c := &RRSet{
		RRs:  make([]dns.RR, len(rs.RRs)),
		Sigs: make([]dns.RR, len(rs.Sigs)),
	}
	copy(c.RRs, rs.RRs)
	copy(c.Sigs, rs.Sigs)
	return c
}

func (rs *RRSet) normalizeTTL(ttl uint32) {
	min := ttl
	for _, rr := range rs.RRs {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	for i, rr := range rs.RRs {
		if rr.Header().Ttl != min {
			c := dns.Copy(rr)
			c.Header().Ttl = min
			rs.RRs[i] = c
		}
	}
}

// canonicalRdata returns the canonical form of rr's rdata per RFC 4034 §6.3:
// domain name fields lowercased, everything else verbatim, integers big
// endian as on the wire.
func canonicalRdata(rr dns.RR) []byte {
	c := dns.Copy(rr)
	c.Header().Name = dnsname.Canonical(c.Header().Name)
	for _, f := range dnameFields(c) {
		*f = dnsname.Canonical(*f)
	}

	buf := make([]byte, dns.Len(c)+1)
	off, err := dns.PackRR(c, buf, 0, nil, false)
	if err != nil {
		return nil
	}

	// Skip owner, type, class, ttl and rdlength to reach the rdata.
	hdr, err := dns.PackDomainName(c.Header().Name, make([]byte, dnsname.MaxNameLen+1), 0, nil, false)
	if err != nil {
		return nil
	}

	return buf[hdr+10 : off]
}
