// Package api exposes the metrics endpoint and zone status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/config"
	"github.com/semihalev/authdns/zonedb"
)

// API type
type API struct {
	addr string
	db   *zonedb.DB
}

// New return new api
func New(cfg *config.Config, db *zonedb.DB) *API {
	return &API{
		addr: cfg.API,
		db:   db,
	}
}

type zoneStatus struct {
	Origin      string `json:"origin"`
	Serial      uint32 `json:"serial"`
	Nodes       int    `json:"nodes"`
	Generation  uint64 `json:"generation"`
	Signed      bool   `json:"signed"`
	Quarantined bool   `json:"quarantined"`
}

func (a *API) zones(w http.ResponseWriter, r *http.Request) {
	out := []zoneStatus{}

	for _, origin := range a.db.Origins() {
		slot := a.db.Get(origin)
		if slot == nil {
			continue
		}

		st := zoneStatus{
			Origin:      origin,
			Generation:  slot.Generation(),
			Quarantined: slot.Quarantined(),
		}

		if contents := slot.Contents(); contents != nil {
			st.Serial = contents.Serial()
			st.Nodes = contents.NodeCount()
			st.Signed = contents.Signed()
		}

		out = append(out, st)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Run starts the API server, returning immediately. Disabled when no bind
// address is configured.
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/zones", a.zones)

	srv := &http.Server{
		Addr:         a.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	go func() {
		zlog.Info("API server listening...", "addr", a.addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("API listener failed", "addr", a.addr, "error", err.Error())
		}
	}()
}
