package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/config"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/database"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/discord"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/handler"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/middleware"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/minecraft"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/repository"
	"github.com/Lolitsgin/minecraft-discord-bridge/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Identity store
	db, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to identity store: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations applied successfully")

	// Repositories
	sessionRepo := repository.NewLinkSessionRepository(db)
	bindingRepo := repository.NewIdentityBindingRepository(db)
	channelRepo := repository.NewBridgeChannelRepository(db)

	// Services
	sessions := service.NewSessionManager(sessionRepo, bindingRepo, cfg.ProofSecret, cfg.SessionTTL)
	webhooks := service.NewDiscordWebhookService()
	consoleHub := service.NewConsoleHub()
	analytics := newAnalytics(cfg)
	mojang := service.NewMojangResolver()

	mc := minecraft.New(cfg.MCAddress(), cfg.MCUsername)
	relay := service.NewChatRelay(mc, webhooks, cfg.MessageDelayDuration(), cfg.RelayQueueSize).
		WithConsole(consoleHub).
		WithAnalytics(analytics)

	// Discord bot + command dispatcher
	dispatcher := discord.NewDispatcher(
		sessions, relay, channelRepo, webhooks, mc, mojang,
		cfg.AdminUsers, cfg.AuthDNSWildcard, cfg.AuthPort,
	)
	bot, err := discord.NewBot(cfg.DiscordToken, dispatcher, sessions, relay, channelRepo, webhooks, mojang)
	if err != nil {
		log.Fatalf("Failed to create Discord bot: %v", err)
	}

	// Rendezvous server
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           30 * time.Second,
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())

	healthH := handler.NewHealthHandler(db)
	app.Get("/healthz", healthH.Health)
	app.Get("/readyz", healthH.Ready)

	consoleH := handler.NewConsoleHandler(consoleHub)
	app.Get("/console", middleware.AdminKey(cfg.AdminKey), consoleH.Upgrade)

	rendezvousH := handler.NewRendezvousHandler(sessions, cfg.AuthDNSWildcard)
	app.Get("/", middleware.RateLimit(10, time.Minute), rendezvousH.Landing)
	app.Get("/verify", middleware.RateLimit(10, time.Minute), rendezvousH.Verify)

	// Long-lived tasks
	go consoleHub.Run()
	go mc.Run(ctx)
	go relay.Run(ctx)
	go sessions.RunSweep(ctx, 30*time.Second)

	if err := bot.Start(); err != nil {
		log.Fatalf("Failed to connect Discord bot: %v", err)
	}

	if cfg.IsProduction() && cfg.TLSCertFile == "" {
		log.Println("No TLS certificate configured in production; expecting TLS termination upstream")
	}

	addr := fmt.Sprintf("%s:%d", cfg.AuthBind, cfg.AuthPort)
	go func() {
		var err error
		if cfg.TLSCertFile != "" {
			err = app.ListenTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = app.Listen(addr)
		}
		if err != nil {
			log.Fatalf("Rendezvous server error: %v", err)
		}
	}()

	log.Printf("Bridge running: rendezvous on %s for *.%s (%s)", addr, cfg.AuthDNSWildcard, cfg.Env)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Stop accepting new work, then flush what is in flight.
	bot.Stop()
	_ = app.ShutdownWithTimeout(5 * time.Second)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	relay.Drain(drainCtx)
	drainCancel()

	cancel()
	consoleHub.Shutdown()
	log.Println("Bridge stopped")
}

func newAnalytics(cfg *config.Config) *service.AnalyticsShipper {
	if !cfg.ESEnabled {
		return nil
	}
	return service.NewAnalyticsShipper(cfg.ESURL, cfg.ESUsername, cfg.ESPassword)
}
