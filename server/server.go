// Package server runs the UDP and TCP listeners feeding the middleware
// chain.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/semihalev/authdns/config"
	"github.com/semihalev/authdns/middleware"
)

// Server type
type Server struct {
	addr string

	tsigSecrets map[string]string

	servers []*dns.Server

	chainPool sync.Pool
}

// New return new server
func New(cfg *config.Config, registry *middleware.Registry) *Server {
	if cfg.Bind == "" {
		cfg.Bind = ":53"
	}

	server := &Server{
		addr:        cfg.Bind,
		tsigSecrets: cfg.TSIG,
	}

	server.chainPool.New = func() interface{} {
		return middleware.NewChain(registry.Handlers())
	}

	return server
}

// ServeDNS implements the Handle interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, r)

	ch.Next(context.Background())

	s.chainPool.Put(ch)
}

// Run starts the UDP and TCP listeners and blocks until ctx is cancelled or
// a listener fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, network := range []string{"udp", "tcp"} {
		network := network

		srv := &dns.Server{
			Addr:          s.addr,
			Net:           network,
			Handler:       s,
			MaxTCPQueries: 2048,
			ReusePort:     true,
		}

		if len(s.tsigSecrets) > 0 {
			srv.TsigSecret = s.tsigSecrets
		}

		s.servers = append(s.servers, srv)

		g.Go(func() error {
			zlog.Info("DNS server listening...", "net", network, "addr", s.addr)

			if err := srv.ListenAndServe(); err != nil {
				zlog.Error("DNS listener failed", "net", network, "addr", s.addr, "error", err.Error())
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return ctx.Err()
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	for _, srv := range s.servers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.ShutdownContext(ctx)
		cancel()
	}
}
