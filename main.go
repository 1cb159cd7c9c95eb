package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/LovationAdmin/voice-invites/config"
	"github.com/LovationAdmin/voice-invites/handlers"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/routes"
	"github.com/LovationAdmin/voice-invites/services"
	"github.com/LovationAdmin/voice-invites/telemetry"
	"github.com/LovationAdmin/voice-invites/utils"
)

const (
	appName = "voice-invites"
	version = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, portFlag, levelFlag string

	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&portFlag, "port", "", "HTTP port (overrides PORT)")
	flagSet.StringVar(&levelFlag, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	loaded, err := config.LoadEnvFile(envFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if levelFlag != "" {
		cfg.LogLevel = levelFlag
	}

	utils.IsProduction = utils.DetectProduction(os.Getenv)
	logger := utils.NewLogger(os.Stdout, cfg.LogLevel, utils.IsProduction)
	slog.SetDefault(logger)
	if !loaded {
		logger.Info("No .env file found, using environment variables")
	}
	utils.LogStartup(logger, appName, version, cfg.Port, cfg.LogLevel)

	if utils.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := ""
	if cfg.TracingEnabled() {
		endpoint = cfg.OTelEndpoint
	}
	shutdownTracing, err := telemetry.Setup(ctx, appName, version, endpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("⚠️ tracing flush failed", "error", err)
		}
	}()

	texts, err := i18n.Load(cfg.BotLocale)
	if err != nil {
		return fmt.Errorf("load bot texts: %w", err)
	}

	metrics := utils.NewMetrics()
	feed := handlers.NewWSHandler(logger)
	defer feed.Close()

	bot := services.NewBotService(services.BotConfig{
		Token:                     cfg.DiscordBotToken,
		ReaperInterval:            cfg.ReaperInterval,
		SubmitTimeout:             cfg.SubmitTimeout,
		StopJoinTimeout:           cfg.StopJoinTimeout,
		RollbackOnDeliveryFailure: cfg.RollbackOnDeliveryFailure,
	}, services.BotServiceOptions{
		Logger:          logger,
		Texts:           texts,
		Metrics:         metrics,
		Listener:        feed,
		PlatformFactory: services.NewDiscordPlatformFactory(logger),
	})
	if err := bot.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	defer bot.Stop()

	logger.Info("🌍 CORS origins", "origins", cfg.CORSAllowedOrigins)
	router := routes.NewRouter(routes.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Invitations:    handlers.NewInvitationHandler(bot, metrics, cfg.ReadyWait, logger),
		Feed:           feed,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("🛑 shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️ HTTP shutdown did not complete", "error", err)
	}
	logger.Info("👋 stopped")
	return nil
}
