package authority

import (
	"github.com/miekg/dns"

	"github.com/semihalev/authdns/dnsname"
	"github.com/semihalev/authdns/packet"
	"github.com/semihalev/authdns/zone"
)

// fillAdditional adds addresses for NS, MX and SRV targets already written
// into the response, when the target lives inside this zone. Follow depth is
// one: records added here never have their own targets chased. Referral glue
// is mandatory data and may raise TC; everything else is dropped silently
// when it does not fit.
func (a *Authority) fillAdditional(z *zone.Contents, b *packet.Builder, res *result, do bool) {
	msg := b.Msg()

	emitted := make([]dns.RR, 0, len(msg.Answer)+len(msg.Ns))
	emitted = append(emitted, msg.Answer...)
	emitted = append(emitted, msg.Ns...)

	flags := packet.CheckDup
	if res.outcome != referralOutcome {
		flags |= packet.NoTrunc
	}

	for _, rr := range emitted {
		for _, target := range zone.AdditionalTargets(rr) {
			target = dnsname.Canonical(target)
			if !dnsname.IsSubDomain(target, z.Origin()) {
				continue
			}

			node := z.Tree().Get(target)
			if node == nil {
				continue
			}

			for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
				rs := node.RRSet(t)
				if rs == nil || rs.Len() == 0 {
					continue
				}

				// Glue below a cut is unsigned by nature; signatures ride
				// along only for authoritative targets.
				withSigs := do && node.Authoritative()
				_, _ = b.Put(setRRs(rs, withSigs), flags)
			}
		}
	}
}
