package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/semihalev/zlog/v2"

	"github.com/semihalev/authdns/api"
	"github.com/semihalev/authdns/config"
	"github.com/semihalev/authdns/journal"
	"github.com/semihalev/authdns/middleware"
	"github.com/semihalev/authdns/middleware/accesslist"
	"github.com/semihalev/authdns/middleware/authority"
	"github.com/semihalev/authdns/middleware/chaos"
	"github.com/semihalev/authdns/middleware/metrics"
	"github.com/semihalev/authdns/middleware/recovery"
	"github.com/semihalev/authdns/server"
	"github.com/semihalev/authdns/zonedb"
	"github.com/semihalev/authdns/zoneio"
)

const version = "0.9.0"

var (
	flagcfgpath  = flag.String("config", "authdns.conf", "location of the config file, if config file not found, a config will generate")
	flagprintver = flag.Bool("v", false, "show version information")
)

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Example:")
		fmt.Fprintf(os.Stderr, "%s -config=authdns.conf\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "")
	}
}

func setupLogging(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(logLevel(level))
	zlog.SetDefault(logger)
}

func logLevel(level string) zlog.Level {
	switch level {
	case "crit", "error":
		return zlog.LevelError
	case "warn":
		return zlog.LevelWarn
	case "debug":
		return zlog.LevelDebug
	default:
		return zlog.LevelInfo
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db := zonedb.New()

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		var err error
		if jrnl, err = journal.Open(cfg.JournalPath); err != nil {
			return err
		}
		defer func() { _ = jrnl.Close() }()
	}

	manager := zoneio.NewManager(db, jrnl)

	if err := manager.DiscoverDir(cfg.ZoneDir); err != nil {
		zlog.Warn("Zone directory scan failed", "dir", cfg.ZoneDir, "error", err.Error())
	}
	for origin, path := range cfg.Zones {
		manager.AddZone(origin, path)
	}

	manager.LoadAll()

	watcher := zoneio.NewWatcher(manager)
	if cfg.Watch {
		go func() {
			if err := watcher.Run(ctx); err != nil && err != context.Canceled {
				zlog.Error("Zone watcher stopped", "error", err.Error())
			}
		}()
	}

	auth := authority.New(db)
	auth.OnNotify(watcher.Check)

	handlers := []middleware.Handler{recovery.New()}
	if len(cfg.AccessList) > 0 {
		handlers = append(handlers, accesslist.New(cfg))
	}
	handlers = append(handlers, chaos.New(cfg), metrics.New(), auth)

	registry := middleware.NewRegistry(handlers...)
	zlog.Info("Middleware chain ready", "handlers", fmt.Sprint(registry.List()))

	api.New(cfg, db).Run(ctx)

	srv := server.New(cfg, registry)
	return srv.Run(ctx)
}

func main() {
	flag.Parse()

	if *flagprintver {
		println("AuthDNS v" + version)
		os.Exit(0)
	}

	setupLogging("info")

	zlog.Info("Starting authdns...", "version", version)

	cfg, err := config.Load(*flagcfgpath, version)
	if err != nil {
		zlog.Error("Config loading failed", "error", err.Error())
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		setupLogging(cfg.LogLevel)
	}

	if err := run(cfg); err != nil && err != context.Canceled {
		zlog.Error("Server failed", "error", err.Error())
		os.Exit(1)
	}

	zlog.Info("Stopping authdns...")
}
