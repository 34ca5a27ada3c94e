package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/httpclient"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/notify"
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/internal/publisher"
	"github.com/Checker-Finance/market-index/internal/rabbitmq"
	"github.com/Checker-Finance/market-index/internal/rate"
	internalsecrets "github.com/Checker-Finance/market-index/internal/secrets"
	"github.com/Checker-Finance/market-index/internal/store"
	"github.com/Checker-Finance/market-index/pkg/config"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/logger"
	"github.com/Checker-Finance/market-index/pkg/secrets"
	"github.com/Checker-Finance/market-index/pkg/utils"
)

// app holds the wired process dependencies shared by every command.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	m      methodology.Methodology
	defs   []methodology.IndexDefinition
	store  *store.HybridStore
	nc     *nats.Conn
	pub    *publisher.Publisher
	bus    *eventbus.EventBus
	amqp   *rabbitmq.Publisher
	orch   *orchestrator.Orchestrator
	closed bool
}

// setup wires config, logging, persistence and the event fan-out. When requireNATS
// is false a NATS outage only disables event publishing.
func setup(ctx context.Context, cmd *cobra.Command, requireNATS bool) (*app, error) {
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	log := logger.L()

	m, err := methodology.Load(cfg.MethodologyFile)
	if err != nil {
		return nil, err
	}
	codes := cfg.Indexes
	if flagCodes, _ := cmd.Flags().GetStringSlice("index"); len(flagCodes) > 0 {
		codes = flagCodes
	}
	defs, err := m.Select(codes)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, m: m, defs: defs}

	// --- Secrets ---
	dsn := cfg.DatabaseURL
	webhookURL := cfg.WebhookURL
	if cfg.DatabaseSecretKey != "" || cfg.WebhookSecretKey != "" {
		provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("aws secrets provider: %w", err)
		}
		resolver := internalsecrets.NewAWSResolver(log, cfg.Env, cfg.ServiceName, provider, secrets.NewCache[string](cfg.SecretCacheTTL))
		if cfg.DatabaseSecretKey != "" {
			if dsn, err = resolver.Resolve(ctx, cfg.DatabaseSecretKey, internalsecrets.ParseDSN); err != nil {
				return nil, err
			}
		}
		if cfg.WebhookSecretKey != "" {
			if webhookURL, err = resolver.Resolve(ctx, cfg.WebhookSecretKey, internalsecrets.ParseWebhookURL); err != nil {
				log.Warn("webhook.secret_unavailable", zap.Error(err))
				webhookURL = ""
			}
		}
	}
	log.Info("connecting to database", zap.String("dsn", utils.MaskDSN(dsn)))

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, dsn, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, cfg.SnapshotTTL, log)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = st
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// --- In-process event bus ---
	a.bus = eventbus.New(log)

	// --- NATS JetStream publisher ---
	if err := a.connectNATS(); err != nil {
		if requireNATS {
			a.Close()
			return nil, err
		}
		log.Warn("nats.unavailable; events disabled", zap.Error(err))
	}

	// --- RabbitMQ fan-out (optional) ---
	if cfg.AMQPURL != "" {
		amqp, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, a.bus, log)
		if err != nil {
			log.Warn("rabbitmq.unavailable", zap.Error(err))
		} else {
			a.amqp = amqp
		}
	}

	// --- Operator webhook (optional) ---
	if webhookURL != "" {
		rateMgr := rate.NewManager(rate.Config{
			RequestsPerSecond: 1,
			Burst:             5,
			Cooldown:          5 * time.Second,
		})
		exec := httpclient.New(log, rateMgr, &http.Client{Timeout: cfg.WebhookTimeout}, 3, "webhook", nil)
		hook, err := notify.NewWebhook(webhookURL, cfg.ServiceName+" "+cfg.Env, exec, cfg.WebhookTimeout, log)
		if err != nil {
			log.Warn("webhook.disabled", zap.String("url", utils.MaskURL(webhookURL)), zap.Error(err))
		} else {
			hook.Subscribe(a.bus)
		}
	}

	// Keep a nil *Publisher out of the interface.
	var events orchestrator.EventPublisher
	if a.pub != nil {
		events = a.pub
	}
	a.orch = orchestrator.New(m, st, events, a.bus, cfg.Workers, logger.Named("orchestrator"))
	return a, nil
}

func (a *app) connectNATS() error {
	nc, err := nats.Connect(a.cfg.NATSURL, nats.Name(a.cfg.ServiceName))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	pub, err := publisher.New(nc, a.cfg.EventsSubject, a.cfg.ServiceName)
	if err != nil {
		nc.Close()
		return fmt.Errorf("init publisher: %w", err)
	}
	if err := pub.EnsureStream(a.cfg.EventsStream); err != nil {
		a.log.Warn("nats.stream_unavailable", zap.String("stream", a.cfg.EventsStream), zap.Error(err))
	}
	a.nc = nc
	a.pub = pub
	return nil
}

// Close drains pending notifications and releases connections.
func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.bus != nil {
		a.bus.Drain()
	}
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.pub != nil {
		a.pub.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	logger.Sync()
}
