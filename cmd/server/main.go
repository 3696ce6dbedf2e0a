package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"usbscope/internal/config"
	"usbscope/internal/dmesg"
	"usbscope/internal/enumerate"
	"usbscope/internal/handler"
	"usbscope/internal/logger"
	"usbscope/internal/repository/sqlite"
	"usbscope/internal/service"
	"usbscope/internal/watcher"
)

//go:embed web/*
var webFS embed.FS

func main() {
	configPath := flag.String("config", "", "config file path (default: auto-discover)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	sysfsRoot := flag.String("sysfs", enumerate.DefaultSysfsRoot, "sysfs USB device directory")
	flag.Parse()

	// Environment-driven logging until the config file is loaded, so config
	// discovery failures still come out structured.
	if err := logger.InitWithDefaults(); err != nil {
		logger.Fatal().Err(err).Msg("initialising logger failed")
	}

	var (
		cfg     *config.Config
		cfgPath string
		err     error
	)
	if *configPath != "" {
		cfg, cfgPath, err = config.LoadFromPath(*configPath)
	} else {
		cfg, cfgPath, err = config.Load()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config failed")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal().Err(err).Msg("initialising logger failed")
	}
	log := logger.WithComponent("main")
	log.Info().Str("config", cfgPath).Msg("starting usbscope server")

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("opening database failed")
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("database opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enum := enumerate.NewSysfs(*sysfsRoot, enumerate.DefaultPollInterval)

	dmesgMon := dmesg.NewMonitor(cfg.Monitor.DmesgPollInterval.Duration(), cfg.Monitor.DmesgHistory)
	errStream := dmesgMon.Run(ctx)

	monitor := service.NewMonitor(service.Options{
		Enumerator: enum,
		Resetter:   enum,
		Store:      store,
		Errors:     errStream,
		Config:     cfg.Monitor,
	})
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("monitor stopped")
		}
	}()

	// Hot-reload timing policy when the config file changes on disk.
	if cfgPath != "" {
		w := watcher.New(cfgPath, func() {
			fresh, _, err := config.LoadFromPath(cfgPath)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed, keeping previous policy")
				return
			}
			if err := monitor.ApplyPolicy(ctx, fresh.Monitor); err != nil {
				log.Error().Err(err).Msg("applying reloaded policy failed")
			}
		})
		go func() {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	handler.New(monitor, dmesgMon).Register(mux)

	webContent, err := fs.Sub(webFS, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("embedded web content missing")
	}
	mux.Handle("/", http.FileServer(http.FS(webContent)))

	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
	)

	// No WriteTimeout: /ws connections are long-lived and the hub enforces
	// its own write deadlines.
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
