// Package signer produces the change set that signs a zone: DNSKEY, the
// NSEC or NSEC3 chain and RRSIGs over every authoritative record set. The
// result goes through the regular zone update path.
package signer

import (
	"crypto"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/zone"
)

// Policy controls the denial chain and signature validity.
type Policy struct {
	// NSEC3 selects the hashed chain; plain NSEC otherwise.
	NSEC3      bool
	Iterations uint16
	// Salt in hex form, empty for none.
	Salt string

	// Validity of generated signatures; a zero value signs for 30 days.
	Validity time.Duration
}

// hashCacheSize bounds the memoised NSEC3 owner hashes; iterated hashing is
// the expensive part of re-signing large zones.
const hashCacheSize = 65536

// Signer signs zones with a single zone signing key.
type Signer struct {
	key  *dns.DNSKEY
	priv crypto.Signer

	hashes *lru.Cache[string, string]
}

// New returns a signer for the given key pair. The DNSKEY owner must be the
// apex of every zone it signs.
func New(key *dns.DNSKEY, priv crypto.PrivateKey) (*Signer, error) {
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, errors.New("private key cannot sign")
	}

	hashes, err := lru.New[string, string](hashCacheSize)
	if err != nil {
		return nil, err
	}

	return &Signer{key: key, priv: signer, hashes: hashes}, nil
}

// Sign builds the change set adding DNSKEY, the denial chain and all RRSIGs
// for z. The SOA serial advances by one, the convention for a signing pass.
func (s *Signer) Sign(z *zone.Contents, pol Policy) (*zone.ChangeSet, error) {
	soa := z.SOA()
	if soa == nil {
		return nil, zone.ErrNoSOA
	}

	origin := z.Origin()
	if !dnsname.Equal(s.key.Hdr.Name, origin) {
		return nil, fmt.Errorf("key %s does not match zone %s", s.key.Hdr.Name, origin)
	}

	cs := new(zone.ChangeSet)

	next := dns.Copy(soa).(*dns.SOA)
	next.Serial++
	cs.SOAFrom, cs.SOATo = soa, next

	chainTTL := soa.Minttl

	key := dns.Copy(s.key).(*dns.DNSKEY)
	key.Hdr.Name = origin
	key.Hdr.Ttl = chainTTL
	cs.Add = append(cs.Add, key)

	var param *dns.NSEC3PARAM
	if pol.NSEC3 {
		param = &dns.NSEC3PARAM{
			Hdr:        dns.RR_Header{Name: origin, Rrtype: dns.TypeNSEC3PARAM, Class: dns.ClassINET, Ttl: 0},
			Hash:       dns.SHA1,
			Iterations: pol.Iterations,
			Salt:       pol.Salt,
			SaltLength: uint8(len(pol.Salt) / 2),
		}
		cs.Add = append(cs.Add, param)
	}

	chain, err := s.buildChain(z, pol, param, chainTTL)
	if err != nil {
		return nil, err
	}
	cs.Add = append(cs.Add, chain...)

	sigs, err := s.signSets(z, cs, pol)
	if err != nil {
		return nil, err
	}
	cs.Add = append(cs.Add, sigs...)

	return cs, nil
}

// chainName is one owner on the denial chain with its future type bitmap.
type chainName struct {
	owner string
	types []uint16
}

// buildChain lays out the NSEC or NSEC3 records over the authoritative
// names of z, with bitmaps reflecting the zone as it will look once signed.
func (s *Signer) buildChain(z *zone.Contents, pol Policy, param *dns.NSEC3PARAM, ttl uint32) ([]dns.RR, error) {
	var names []chainName

	z.Tree().Ascend(func(n *zone.Node) bool {
		if n.NonAuth {
			return true
		}
		if !pol.NSEC3 && n.EmptyNonTerminal {
			// NSEC chains skip empty non-terminals; covers deny under them.
			return true
		}

		names = append(names, chainName{owner: n.Owner, types: s.futureTypes(z, n, pol)})
		return true
	})

	if len(names) == 0 {
		return nil, zone.ErrNoSOA
	}

	if !pol.NSEC3 {
		return s.nsecChain(names, ttl), nil
	}

	return s.nsec3Chain(z, names, param, ttl)
}

// futureTypes returns the node's type bitmap after signing.
func (s *Signer) futureTypes(z *zone.Contents, n *zone.Node, pol Policy) []uint16 {
	types := n.Types()

	if n.Apex {
		types = append(types, dns.TypeDNSKEY)
		if pol.NSEC3 {
			types = append(types, dns.TypeNSEC3PARAM)
		}
	}

	if !pol.NSEC3 && !n.EmptyNonTerminal {
		types = append(types, dns.TypeNSEC)
	}

	// Everything signed carries RRSIG; a delegation only signs its DS set.
	if !n.DelegationPoint || n.HasType(dns.TypeDS) || n.Apex {
		if len(types) > 0 {
			types = append(types, dns.TypeRRSIG)
		}
	}

	seen := make(map[uint16]bool, len(types))
	out := types[:0]
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func (s *Signer) nsecChain(names []chainName, ttl uint32) []dns.RR {
	out := make([]dns.RR, 0, len(names))

	for i, cn := range names {
		next := names[(i+1)%len(names)].owner

		out = append(out, &dns.NSEC{
			Hdr:        dns.RR_Header{Name: cn.owner, Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: ttl},
			NextDomain: next,
			TypeBitMap: cn.types,
		})
	}

	return out
}

func (s *Signer) nsec3Chain(z *zone.Contents, names []chainName, param *dns.NSEC3PARAM, ttl uint32) ([]dns.RR, error) {
	type hashed struct {
		label string
		types []uint16
	}

	hs := make([]hashed, 0, len(names))
	for _, cn := range names {
		label, err := s.hashOwner(cn.owner, param)
		if err != nil {
			return nil, err
		}
		hs = append(hs, hashed{label: label, types: cn.types})
	}

	sort.Slice(hs, func(i, j int) bool { return hs[i].label < hs[j].label })

	out := make([]dns.RR, 0, len(hs))
	for i, h := range hs {
		next := hs[(i+1)%len(hs)].label

		out = append(out, &dns.NSEC3{
			Hdr:        dns.RR_Header{Name: h.label + "." + z.Origin(), Rrtype: dns.TypeNSEC3, Class: dns.ClassINET, Ttl: ttl},
			Hash:       param.Hash,
			Flags:      0,
			Iterations: param.Iterations,
			SaltLength: param.SaltLength,
			Salt:       param.Salt,
			HashLength: 20,
			NextDomain: strings.ToUpper(next),
			TypeBitMap: h.types,
		})
	}

	return out, nil
}

func (s *Signer) hashOwner(owner string, param *dns.NSEC3PARAM) (string, error) {
	key := owner + "|" + param.Salt + "|" + fmt.Sprint(param.Iterations)

	if label, ok := s.hashes.Get(key); ok {
		return label, nil
	}

	label := strings.ToLower(dns.HashName(owner, param.Hash, param.Iterations, param.Salt))
	if label == "" {
		return "", fmt.Errorf("cannot hash %s", owner)
	}

	s.hashes.Add(key, label)
	return label, nil
}

// signSets walks the zone and the pending additions, emitting one RRSIG per
// authoritative record set.
func (s *Signer) signSets(z *zone.Contents, cs *zone.ChangeSet, pol Policy) ([]dns.RR, error) {
	validity := pol.Validity
	if validity == 0 {
		validity = 30 * 24 * time.Hour
	}

	inception := uint32(time.Now().Add(-time.Hour).Unix())
	expiration := uint32(time.Now().Add(validity).Unix())

	sign := func(rrs []dns.RR) (dns.RR, error) {
		sig := new(dns.RRSIG)
		sig.Hdr = dns.RR_Header{
			Name:   rrs[0].Header().Name,
			Rrtype: dns.TypeRRSIG,
			Class:  dns.ClassINET,
			Ttl:    rrs[0].Header().Ttl,
		}
		sig.Algorithm = s.key.Algorithm
		sig.KeyTag = s.key.KeyTag()
		sig.SignerName = s.key.Hdr.Name
		sig.Inception = inception
		sig.Expiration = expiration

		if err := sig.Sign(s.priv, rrs); err != nil {
			return nil, err
		}
		return sig, nil
	}

	var out []dns.RR

	var signErr error
	z.Tree().Ascend(func(n *zone.Node) bool {
		if n.NonAuth {
			return true
		}

		for _, t := range n.Types() {
			if t == dns.TypeSOA {
				// The SOA is re-signed from the bumped serial below.
				continue
			}
			if n.DelegationPoint && t != dns.TypeDS {
				continue
			}

			sig, err := sign(n.RRSet(t).RRs)
			if err != nil {
				signErr = err
				return false
			}
			out = append(out, sig)
		}
		return true
	})
	if signErr != nil {
		return nil, signErr
	}

	// Group the additions into sets and sign those too: DNSKEY, NSEC3PARAM
	// and the chain records.
	groups := make(map[string][]dns.RR)
	order := []string{}

	add := func(rr dns.RR) {
		key := rr.Header().Name + "|" + dns.TypeToString[rr.Header().Rrtype]
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rr)
	}

	add(cs.SOATo)
	for _, rr := range cs.Add {
		add(rr)
	}

	for _, key := range order {
		sig, err := sign(groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}

	return out, nil
}
