package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/tiermem/internal/admin"
	"github.com/xiy/tiermem/internal/config"
	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/memory"
	"github.com/xiy/tiermem/internal/promotion"
	"github.com/xiy/tiermem/internal/quad"
	"github.com/xiy/tiermem/internal/rpc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "admin":
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println("tiermem v0.1.0")
	default:
		usage()
		os.Exit(2)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "config/tiermem.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportCaller: false, Prefix: cfg.ServerName})
	setLogLevel(logger, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	quads, err := openQuads(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if quads != nil {
		defer quads.Close()
	}

	ring := events.NewRing(cfg.EventHistorySize)
	emitter := events.Multi{ring, events.NewLogEmitter(logger)}

	mgr, err := memory.NewManager(cfg, logger, emitter, quads)
	if err != nil {
		return err
	}

	go promotion.StartWorker(ctx, logger, time.Duration(cfg.PromoteIntervalSeconds)*time.Second, mgr)

	server := rpc.NewServer(mgr, cfg.ServerName, logger, emitter)
	logger.Info("starting stdio server", "backend", cfg.Backend)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	configPath := fs.String("config", "config/tiermem.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	quads, err := openQuads(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if quads != nil {
		defer quads.Close()
	}

	ring := events.NewRing(cfg.EventHistorySize)
	mgr, err := memory.NewManager(cfg, logger, ring, quads)
	if err != nil {
		return err
	}

	return admin.Run(ctx, admin.Source{Manager: mgr, Events: ring})
}

func openQuads(ctx context.Context, cfg *config.Config, logger *log.Logger) (*quad.SQLiteStore, error) {
	if cfg.Backend != config.BackendGraph {
		return nil, nil
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return quad.Open(ctx, cfg.GraphDBPath, logger)
}

func setLogLevel(logger *log.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func usage() {
	fmt.Print(`tiermem

Usage:
  tiermem serve [--config path]
  tiermem admin [--config path]
  tiermem version
`)
}
