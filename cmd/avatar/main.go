// avatar: real-time avatar client
// Connects to a command source, blends facial channels every frame and
// hands the result to the rig (here, a logging rig).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/log"
	"github.com/teslashibe/go-avatar/pkg/avatar"
	"github.com/teslashibe/go-avatar/pkg/blend"
	"github.com/teslashibe/go-avatar/pkg/connection"
	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/namemap"
)

var (
	version = "1.0.0"
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "avatar",
	Short: "Real-time avatar client",
	Long: `avatar connects to a command source over WebSocket, registers, and
drives facial animation from emotion, morph, lip-sync, arousal and gaze
commands at a fixed frame rate.

Configuration is read from --config (or ./avatar.yaml), then AVATAR_*
environment variables, then flags.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List emotion presets",
	RunE:  runPresets,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./avatar.yaml)")
	rootCmd.PersistentFlags().String("preset-file", "", "YAML file overriding emotion presets")

	fs := rootCmd.Flags()
	fs.String("server-url", "", "command source WebSocket URL")
	fs.String("log-level", "", "log level: trace, debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	fs.String("metrics-addr", "", "Prometheus listen address (empty disables)")
	fs.Int("frame-rate", 0, "frames per second")
	fs.String("name-map-file", "", "YAML file overriding channel names")

	bindFlags(v, rootCmd.PersistentFlags(), map[string]string{
		"preset-file": "preset_file",
	})
	bindFlags(v, fs, map[string]string{
		"server-url":    "server_url",
		"log-level":     "log.level",
		"log-format":    "log.format",
		"metrics-addr":  "metrics.addr",
		"frame-rate":    "frame_rate",
		"name-map-file": "name_map_file",
	})

	rootCmd.AddCommand(presetsCmd)
}

// bindFlags binds flags to config keys. Flags only override when set.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format).With().
		Str("instance", uuid.NewString()).
		Logger()

	mapper, presets, err := loadTables(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctrl, err := avatar.New(
		avatar.WithURL(cfg.ServerURL),
		avatar.WithClient(cfg.ClientType, cfg.ClientVersion, cfg.Capabilities),
		avatar.WithRetry(cfg.Reconnect.Delay, cfg.Reconnect.MaxAttempts),
		avatar.WithFrameRate(cfg.FrameRate),
		avatar.WithBlendDuration(cfg.Blend.Duration),
		avatar.WithArousalThreshold(cfg.Blend.ArousalThreshold),
		avatar.WithBlendOptions(
			blend.WithBlink(cfg.Blend.BlinkInterval, cfg.Blend.BlinkDuration),
			blend.WithBreathingRate(cfg.Blend.BreathingRate),
			blend.WithRestViseme(cfg.Blend.RestViseme),
		),
		avatar.WithMapper(mapper),
		avatar.WithPresets(presets),
		avatar.WithRig(avatar.NewLogRig(logger)),
		avatar.WithLogger(logger),
		avatar.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	ctrl.OnConnected(func() {
		ctrl.SetAnimationState(avatar.StateIdle)
	})
	ctrl.OnDisconnected(func(err error) {
		if errors.Is(err, connection.ErrReconnectExhausted) {
			logger.Error().Msg("command source unreachable, running offline")
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("version", version).
		Str("url", cfg.ServerURL).
		Int("fps", cfg.FrameRate).
		Msg("avatar starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ctrl.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Addr, reg, logger)
		})
	}

	err = g.Wait()
	logger.Info().Msg("avatar stopped")
	return err
}

// loadTables builds the name mapper and preset registry, applying override
// files when configured.
func loadTables(cfg *config.Config) (*namemap.Mapper, *emotions.Registry, error) {
	mapper := namemap.Default()
	if cfg.NameMapFile != "" {
		var err error
		if mapper, err = namemap.LoadFile(cfg.NameMapFile); err != nil {
			return nil, nil, err
		}
	}

	presets, err := emotions.NewDefaultRegistry()
	if err != nil {
		return nil, nil, err
	}
	if cfg.PresetFile != "" {
		if err := presets.LoadFile(cfg.PresetFile); err != nil {
			return nil, nil, err
		}
	}
	return mapper, presets, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func runPresets(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	_, presets, err := loadTables(cfg)
	if err != nil {
		return err
	}

	descs := presets.ListWithDescriptions()
	names := make([]string, 0, len(descs))
	for name := range descs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "%-10s  %s\n", name, descs[name])
	}
	return nil
}
