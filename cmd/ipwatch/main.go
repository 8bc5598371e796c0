package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/api"
	"ipwatch/internal/config"
	"ipwatch/internal/history"
	"ipwatch/internal/logger"
	"ipwatch/internal/monitor"
	"ipwatch/internal/notify"
	"ipwatch/internal/registry"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/version"
)

func main() {
	var (
		configFile    = flag.String("config-file", "", "path to config file")
		dryRun        = flag.Bool("dry-run", false, "detect changes without notifying or writing state")
		repeat        = flag.Int("repeat", -1, "seconds between checks, 0 runs once")
		machine       = flag.String("machine", "", "display name of this machine")
		receiverEmail = flag.String("receiver-email", "", "comma-separated notification recipients")
		ipBlacklist   = flag.String("ip-blacklist", "", "comma-separated glob patterns for rejected addresses")
		tryCount      = flag.Int("try-count", 0, "total external lookup attempts")
		showVersion   = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the config file.
	if *machine != "" {
		cfg.Machine = *machine
	}
	if *receiverEmail != "" {
		cfg.ReceiverEmail = *receiverEmail
	}
	if *ipBlacklist != "" {
		cfg.IPBlacklist = *ipBlacklist
	}
	if *tryCount > 0 {
		cfg.TryCount = *tryCount
	}
	if *repeat >= 0 {
		cfg.Repeat = *repeat
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ipwatch",
		zap.String("version", version.Version),
		zap.String("machine", cfg.Machine),
		zap.Bool("dry_run", *dryRun))

	blacklist, err := resolver.NewBlacklist(cfg.BlacklistPatterns())
	if err != nil {
		log.Fatal("Invalid blacklist", zap.Error(err))
	}

	reg := registry.NewManager(&cfg.Registry, registry.NewFileStore(cfg.Registry.CacheFile), *dryRun, log)

	res := resolver.New(resolver.Options{
		TryCount:  cfg.TryCount,
		Timeout:   cfg.LookupTimeout,
		Blacklist: blacklist,
	}, log)

	deps := monitor.Deps{
		Registry: reg,
		Resolver: res,
		State:    state.NewStore(cfg.SaveIPPath),
	}

	notifier, err := notify.NewManager(&cfg.Notify, log)
	if err != nil {
		log.Fatal("Failed to initialize notifiers", zap.Error(err))
	}
	if notifier.Enabled() {
		deps.Notifier = notifier
	}

	if cfg.History.Enabled && !*dryRun {
		store, err := history.Open(&cfg.History, log)
		if err != nil {
			log.Error("Failed to open history database, continuing without history", zap.Error(err))
		} else {
			defer store.Close()
			deps.History = store
		}
	}

	mon := monitor.New(cfg, deps, *dryRun, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(&cfg.API, mon, log)
		apiServer.Start()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mon.Start(ctx); err != nil {
			log.Error("Monitor stopped with error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-done
	case <-done:
	}

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server", zap.Error(err))
		}
	}

	log.Info("Shutdown complete")
}
