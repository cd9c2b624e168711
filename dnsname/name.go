// Package dnsname provides canonical domain name operations used by the
// authoritative zone database: RFC 4034 canonical ordering, subdomain tests
// and label arithmetic for closest encloser searches.
package dnsname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

var (
	// ErrMalformed returned for names that are not valid domain names.
	ErrMalformed = errors.New("malformed domain name")
	// ErrTooLong returned when a name would exceed 255 wire octets.
	ErrTooLong = errors.New("domain name too long")
)

// MaxNameLen is the maximum wire length of a domain name.
const MaxNameLen = 255

// Canonical returns the canonical form of name: fully qualified and ASCII
// lowercased per RFC 4034 §6.2.
func Canonical(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

// Compare orders two canonical names per RFC 4034 §6.1: labels are compared
// right to left, case insensitively, and a name that is a proper ancestor of
// another sorts first. Returns -1, 0 or 1.
func Compare(a, b string) int {
	ai := dns.Split(a)
	bi := dns.Split(b)

	x, y := len(ai), len(bi)
	for x > 0 && y > 0 {
		x--
		y--

		la := label(a, ai, x)
		lb := label(b, bi, y)

		if c := compareLabel(la, lb); c != 0 {
			return c
		}
	}

	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}

	return 0
}

// label returns the idx-th label of name given its split indices, without the
// trailing dot.
func label(name string, idx []int, i int) string {
	start := idx[i]
	end := len(name) - 1
	if i+1 < len(idx) {
		end = idx[i+1] - 1
	}
	return name[start:end]
}

// compareLabel compares single labels byte-wise after ASCII lowercasing.
func compareLabel(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		ca, cb := lower(a[i]), lower(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}

	return 0
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 32
	}
	return c
}

// Equal reports whether two names are the same canonical name.
func Equal(a, b string) bool {
	return Compare(a, b) == 0
}

// IsSubDomain reports whether child equals parent or is a strict descendant
// of it, on label boundaries.
func IsSubDomain(child, parent string) bool {
	return dns.IsSubDomain(parent, child)
}

// MatchedLabels returns the number of labels in the longest common suffix of
// a and b. The root label does not count.
func MatchedLabels(a, b string) int {
	return dns.CompareDomainName(a, b)
}

// CountLabels returns the number of labels in name, excluding the root.
func CountLabels(name string) int {
	return dns.CountLabel(name)
}

// Concat joins a prefix onto a suffix name. The result must fit the wire
// length limit.
func Concat(prefix, suffix string) (string, error) {
	name := dns.Fqdn(prefix + suffix)
	if n := wireLen(name); n < 0 {
		if len(name) > MaxNameLen {
			return "", ErrTooLong
		}
		return "", ErrMalformed
	} else if n > MaxNameLen {
		return "", ErrTooLong
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", ErrMalformed
	}
	return name, nil
}

// Parent strips the leftmost label. The root is its own parent.
func Parent(name string) string {
	if name == "." {
		return "."
	}
	idx := dns.Split(name)
	if len(idx) < 2 {
		return "."
	}
	return name[idx[1]:]
}

// Wildcard returns the wildcard name directly under parent.
func Wildcard(parent string) string {
	if parent == "." {
		return "*."
	}
	return "*." + parent
}

// NextCloser returns the name one label closer to qname than an encloser with
// encloserLabels labels. qname must be a strict subdomain of the encloser.
func NextCloser(qname string, encloserLabels int) string {
	idx := dns.Split(qname)
	n := len(idx)
	if encloserLabels >= n {
		return qname
	}
	return qname[idx[n-encloserLabels-1]:]
}

// Wire converts a presentation name to uncompressed lowercase wire form, for
// hashing and exact match keys.
func Wire(name string) ([]byte, error) {
	buf := make([]byte, MaxNameLen+1)
	off, err := dns.PackDomainName(Canonical(name), buf, 0, nil, false)
	if err != nil {
		return nil, ErrMalformed
	}
	return buf[:off], nil
}

func wireLen(name string) int {
	buf := make([]byte, 2*MaxNameLen)
	off, err := dns.PackDomainName(name, buf, 0, nil, false)
	if err != nil {
		return -1
	}
	return off
}
