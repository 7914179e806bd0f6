package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/hub"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/metrics"
	"github.com/gaspardpetit/motionstream/internal/server"
	"github.com/gaspardpetit/motionstream/internal/serverstate"
	"github.com/gaspardpetit/motionstream/internal/source"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	cfg, showVersion, err := loadConfig(os.Args[1:], flag.CommandLine)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logx.Log.Fatal().Err(err).Msg("config")
	}
	if showVersion {
		fmt.Printf("motionstream version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logx.Log.Info().Dur("close_timeout", cfg.CloseTimeout).Msg("shutdown requested; send the signal again to terminate immediately")
		cancel()
		<-sigCh
		logx.Log.Warn().Msg("termination requested")
		os.Exit(1)
	}()

	if err := run(ctx, cfg); err != nil {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}

// loadConfig resolves the configuration with precedence
// defaults < file < env < args.
func loadConfig(args []string, fs *flag.FlagSet) (config.ServerConfig, bool, error) {
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.ApplyEnv()
	// --config must be known before the file is loaded.
	for i, a := range args {
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			cfg.ConfigFile = args[i+1]
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			cfg.ConfigFile = v
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, false, fmt.Errorf("load config %s: %w", cfg.ConfigFile, err)
		}
	}
	cfg.ApplyEnv()

	showVersion := fs.Bool("version", false, "print version and exit")
	cfg.BindFlagsFromCurrent(fs)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "motionstream version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	return cfg, false, cfg.Validate()
}

// run serves until ctx ends, then shuts down gracefully.
func run(ctx context.Context, cfg config.ServerConfig) error {
	store := serverstate.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := serverstate.NewRedisStore(rctx, cfg.RedisAddr, "")
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		if c, ok := rs.(io.Closer); ok {
			defer c.Close()
		}
		store = rs
		logx.Log.Info().Str("addr", serverstate.RedactURL(cfg.RedisAddr)).Msg("using redis state store")
	}
	tracker := serverstate.NewTracker(store)

	opts := hub.OptionsFromConfig(cfg)
	opts.Observers = []hub.Observer{hub.LogObserver{}, tracker}
	h := hub.New(opts)
	srv := server.New(cfg, h, tracker)
	if err := srv.Start(); err != nil {
		return err
	}

	var producers []source.Producer
	if cfg.DemoInterval > 0 {
		producers = append(producers, source.NewSkeleton(cfg.DemoInterval))
	}
	if cfg.StatsInterval > 0 {
		producers = append(producers, source.NewHostStats(cfg.StatsInterval))
	}
	pctx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()
	prodErr := make(chan error, 1)
	go func() { prodErr <- source.RunAll(pctx, h, producers...) }()

	var runErr error
	for runErr == nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case runErr = <-srv.Errors():
		case runErr = <-prodErr:
			// A nil channel never fires again.
			prodErr = nil
		}
	}
	stopProducers()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.CloseTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logx.Log.Error().Err(err).Msg("shutdown")
		if runErr == nil {
			runErr = err
		}
	}
	logx.Log.Info().Msg("server stopped")
	return runErr
}
