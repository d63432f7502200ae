package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/log"
	"github.com/teslashibe/go-avatar/pkg/cloud"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	bindFlags(v, serveCmd.Flags(), map[string]string{"addr": "hub.addr"})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := fiber.New(fiber.Config{
		AppName:               "avatar-hub",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	hub := cloud.NewHub(logger, metrics.New(reg))
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))
	cloud.RegisterMetricsRoute(app, reg)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version,
			"avatars": hub.AvatarCount(),
		})
	})

	hub.OnStateChange(func(avatarID string, s protocol.StateChange) {
		logger.Info().
			Str("avatar", avatarID).
			Str("animation", s.Animation).
			Str("emotion", s.Emotion).
			Msg("state change")
	})
	hub.OnEvent(func(avatarID string, e protocol.Event) {
		logger.Info().Str("avatar", avatarID).Str("event", e.EventType).Str("data", e.Data).Msg("event")
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Hub.Addr).
			Str("websocket", "/ws/avatar").
			Str("api", "/api/avatars").
			Msg("hub listening")
		return app.Listen(cfg.Hub.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("hub stopped")
	return nil
}
