// Package recovery keeps worker goroutines alive: a panic in any later
// handler turns into SERVFAIL instead of killing the process.
package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/middleware"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New() *Recovery {
	return &Recovery{}
}

// Name return middleware name.
func (r *Recovery) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if rec := recover(); rec != nil {
			ch.CancelWithRcode(dns.RcodeServerFailure, false)

			zlog.Error("Recovered in ServeDNS", "recover", rec)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", rec))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
