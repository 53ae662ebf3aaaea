package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/fillwatch/internal/config"
	"github.com/eddiefleurent/fillwatch/internal/dashboard"
	"github.com/eddiefleurent/fillwatch/internal/metrics"
	"github.com/eddiefleurent/fillwatch/internal/poller"
)

const shutdownTimeout = 10 * time.Second

// Bot wires the poller, its order source and notifier, and the dashboard.
type Bot struct {
	config    *config.Config
	logger    *logrus.Logger
	registry  *prometheus.Registry
	poller    *poller.Poller
	dashboard *dashboard.Server
}

func main() {
	var configPath, envFile string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&envFile, "env", "", "Path to dotenv credentials file (overrides secrets.env_file)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if envFile != "" {
		cfg.Secrets.EnvFile = envFile
	}

	logger := newLogger(cfg, os.Stdout)
	logger.Infof("Starting fill watcher in %s mode", cfg.Environment.Mode)

	bot, err := NewBot(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Info("Bot stopped successfully")
}

// NewBot builds every component described by cfg.
func NewBot(cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	source, err := buildSource(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("order source: %w", err)
	}
	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	p := poller.New(source, notifier,
		poller.WithInterval(cfg.GetPollInterval()),
		poller.WithLookback(cfg.GetLookback()),
		poller.WithStatus(cfg.OrderStatus()),
		poller.WithTemplate(cfg.Poll.Template),
		poller.WithLogger(logger.WithField("component", "poller")),
		poller.WithMetrics(m),
	)

	bot := &Bot{
		config:   cfg,
		logger:   logger,
		registry: registry,
		poller:   p,
	}
	if cfg.Dashboard.Enabled {
		bot.dashboard = dashboard.NewServer(
			dashboard.Config{Port: cfg.Dashboard.Port, AuthToken: cfg.Dashboard.AuthToken},
			p.Positions(),
			p.Prices(),
			registry,
			logger.WithField("component", "dashboard"),
		)
	}
	return bot, nil
}

// Run blocks until ctx is cancelled or a component fails, then shuts the
// dashboard down.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.poller.Run(gctx)
	})

	if b.dashboard != nil {
		g.Go(func() error {
			if err := b.dashboard.Start(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := b.dashboard.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("dashboard shutdown: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
