package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dalnet/ircengine/internal/bot"
	"github.com/dalnet/ircengine/internal/config"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const daemonEnv = "IRCENGINE_DAEMON"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		pidFile     string
		daemon      bool
		verbose     bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("ircengine", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
	flags.StringVar(&pidFile, "pid-file", "pid.txt", "write the process id here (empty to disable)")
	flags.BoolVarP(&daemon, "daemon", "d", false, "detach from the terminal and run in the background")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&showVersion, "version", false, "show version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("ircengine version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		return nil
	}

	bot.Version = version
	bot.BuildDate = buildDate
	bot.GitCommit = gitCommit

	if !filepath.IsAbs(configPath) {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		configPath = abs
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if daemon && os.Getenv(daemonEnv) != "1" {
		return daemonize()
	}

	logger, err := newLogger(cfg.LogLevel, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			logger.Warn("could not write pid file", zap.String("path", pidFile), zap.Error(err))
		} else {
			defer os.Remove(pidFile)
		}
	}

	return serve(cfg, configPath, logger)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: log_level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// serve runs the bot and the config watcher until a signal arrives,
// !shutdown is issued, or the connection is lost for good.
func serve(cfg *config.Config, configPath string, logger *zap.Logger) error {
	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.OnShutdown = func() {
		logger.Info("shutdown requested")
		cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.Run(ctx)
	})

	w, err := bot.NewWatcher(configPath, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		g.Go(func() error {
			return w.Run(ctx, b.Reload)
		})
	}

	logger.Info("starting", zap.String("version", version), zap.String("server", cfg.Addr()))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// daemonize starts a detached copy of the process and exits the parent.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to fork: %w", err)
	}
	fmt.Printf("Now becoming a daemon, pid %d\n", cmd.Process.Pid)
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
