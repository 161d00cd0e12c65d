package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smartdns/cache"
	"smartdns/config"
	"smartdns/metrics"
	"smartdns/pipeline"
	"smartdns/server"
	"smartdns/upstream"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var hostsGlob string
	var metricsAddr string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config file and serve DNS",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(verbose)
			return run(cmd.Context(), runOpts{
				configPath:  configPath,
				hostsGlob:   hostsGlob,
				metricsAddr: metricsAddr,
				log:         log,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "/etc/smartdns/smartdns.conf", "path to the directive config file")
	cmd.Flags().StringVar(&hostsGlob, "hosts", "", "glob of /etc/hosts-style files to load (in addition to hosts-file directives)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	return cmd
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Str("component", "smartdns").Logger()
}

type runOpts struct {
	configPath  string
	hostsGlob   string
	metricsAddr string
	log         zerolog.Logger
}

func run(ctx context.Context, opts runOpts) error {
	mgr, err := config.NewManager(opts.configPath, opts.log)
	if err != nil {
		return fmt.Errorf("smartdns: %w", err)
	}
	cfg := mgr.Current()
	opts.log.Info().Str("config", opts.configPath).Int("servers", len(cfg.Servers)).Msg("config loaded")

	hosts := pipeline.NewHostsTable()
	for _, glob := range cfg.HostsFiles {
		if err := hosts.LoadGlob(glob); err != nil {
			return fmt.Errorf("smartdns: %w", err)
		}
	}
	if opts.hostsGlob != "" {
		if err := hosts.LoadGlob(opts.hostsGlob); err != nil {
			return fmt.Errorf("smartdns: %w", err)
		}
	}

	metricsReg := metrics.New()

	pool := upstream.NewPool(cfg.Servers)
	exchanger := upstream.NewExchanger(pool)
	exchanger.Metrics = metricsReg
	dispatcher := upstream.NewDispatcher(exchanger, upstream.NewProbeCache())
	groups := upstream.NewGroupSet(cfg.Servers)

	cacheStore := cache.New(cfg.Cache)
	checkpoint := cache.NewCheckpoint(cacheStore, cfg.CacheFile, cfg.CacheCheckpointInterval, opts.log)
	checkpoint.LoadAtStartup()
	checkpoint.Run()
	defer checkpoint.Stop()

	chain := pipeline.Assemble(pipeline.Deps{
		DomainRules: cfg.DomainRules,
		ClientRules: cfg.ClientRules,
		Hosts:       hosts,
		ServerName:  cfg.ServerName,
		LocalTTL:    cfg.LocalTTL,

		Cache:      cacheStore,
		Groups:     groups,
		Dispatcher: dispatcher,

		DefaultResponseMode:     cfg.DefaultResponseMode,
		DefaultSpeedProbe:       cfg.DefaultSpeedProbe,
		GlobalBlacklistIP:       cfg.BlacklistIP,
		GlobalBogusNX:           cfg.BogusNX,
		DualstackEnabled:        cfg.DualstackEnabled,
		DualstackThreshold:      cfg.DualstackThreshold,
		DualstackAllowForceAAAA: cfg.DualstackAllowForceAAAA,

		ServeExpired:         cfg.Cache.ServeExpired,
		ServeExpiredTTL:      cfg.Cache.ServeExpiredTTL,
		ServeExpiredReplyTTL: cfg.Cache.ServeExpiredReplyTTL,
		Prefetch:             cfg.Cache.PrefetchDomain,

		AuditLog: opts.log,
		Metrics:  metricsReg,
	})

	group, err := server.BuildGroup(cfg.Listeners, chain, opts.log)
	if err != nil {
		return fmt.Errorf("smartdns: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- group.Run(runCtx) }()

	var metricsSrv *metrics.Server
	if opts.metricsAddr != "" {
		metricsSrv = metrics.NewServer(opts.metricsAddr, metricsReg)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				opts.log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				// Listeners, cache and upstream pool are wired once at
				// startup; SIGHUP re-parses and validates the file in
				// place but does not hot-swap a running chain. A bad
				// edit is caught here rather than on the next restart.
				_ = mgr.Reload()
				continue
			}
			opts.log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
			<-errCh
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("smartdns: %w", err)
			}
		}
		break
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
