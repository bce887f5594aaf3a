package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/septivank/energy-bypass-monitor/internal/alert"
	"github.com/septivank/energy-bypass-monitor/internal/api"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/cache"
	"github.com/septivank/energy-bypass-monitor/internal/config"
	"github.com/septivank/energy-bypass-monitor/internal/customers"
	"github.com/septivank/energy-bypass-monitor/internal/db"
	"github.com/septivank/energy-bypass-monitor/internal/feed"
	"github.com/septivank/energy-bypass-monitor/internal/influxdb"
	"github.com/septivank/energy-bypass-monitor/internal/liveness"
	"github.com/septivank/energy-bypass-monitor/internal/mailer"
	"github.com/septivank/energy-bypass-monitor/internal/monitor"
	"github.com/septivank/energy-bypass-monitor/internal/mq"
	"github.com/septivank/energy-bypass-monitor/internal/repository"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startMonitor restores cached pair states and runs the pipeline
func startMonitor(
	lc fx.Lifecycle,
	pipeline *monitor.Pipeline,
	source feed.Source,
	live *cache.LiveCache,
	cfg *config.Config,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if live != nil {
				states, err := live.Restore(ctx)
				if err != nil {
					logger.Warn("failed to restore cached pair states", zap.Error(err))
				} else {
					seeded := pipeline.Registry().Seed(states)
					logger.Info("restored cached pair states", zap.Int("pairs", seeded))
				}
			}

			logger.Info("starting bypass monitor",
				zap.String("feed", cfg.Feed.Driver),
				zap.String("mail", cfg.Mail.Driver),
				zap.Duration("throttle_window", cfg.Alerting.ThrottleWindow))
			return pipeline.Start(source)
		},
		OnStop: func(ctx context.Context) error {
			if err := pipeline.Stop(ctx); err != nil {
				logger.Error("failed to stop pipeline", zap.Error(err))
				return err
			}
			logger.Info("monitor stopped gracefully")
			return nil
		},
	})
}

// startHTTPServer serves the dashboard API and live socket
func startHTTPServer(lc fx.Lifecycle, handler *api.Handler, cfg *config.Config, logger *zap.Logger) {
	app := api.NewApp(handler, []byte(cfg.HTTP.JWTSecret))
	addr := fmt.Sprintf(":%d", cfg.ServicePort)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				if err := app.Listen(addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.EnsureSchema)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideMQConnection dials RabbitMQ when the feed, mail queue or verdict
// events need it. It returns nil otherwise.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.UsesAMQP() {
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the events publisher, or nil without RabbitMQ
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRedisClient connects to Redis when enabled, or returns nil
func ProvideRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rdb, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return rdb, nil
}

// ProvideLimiter shares the throttle through Redis when available
func ProvideLimiter(rdb *redis.Client, cfg *config.Config, logger *zap.Logger) alert.Limiter {
	if rdb == nil {
		return alert.NewThrottle(cfg.Alerting.ThrottleWindow)
	}
	return alert.NewRedisThrottle(rdb, cfg.Alerting.ThrottleWindow, logger)
}

// ProvideMailTransport selects the alert mail transport
func ProvideMailTransport(publisher *mq.Publisher, cfg *config.Config, logger *zap.Logger) (mailer.Transport, error) {
	switch cfg.Mail.Driver {
	case config.MailEmailJS:
		return mailer.NewEmailJSTransport(mailer.EmailJSConfig{
			Endpoint:   cfg.Mail.EmailJSEndpoint,
			PublicKey:  cfg.Mail.EmailJSPublicKey,
			PrivateKey: cfg.Mail.EmailJSPrivateKey,
			Timeout:    cfg.Mail.Timeout,
		}, logger), nil
	case config.MailQueue:
		if publisher == nil {
			return nil, fmt.Errorf("MAIL_DRIVER=queue requires a RabbitMQ publisher")
		}
		return mailer.NewQueueTransport(publisher, cfg.RabbitMQ.MailRoutingKey), nil
	default:
		return mailer.NewLogTransport(logger), nil
	}
}

// ProvideDispatcher creates the alert dispatcher. Dispatch attempts are
// audited in the repository.
func ProvideDispatcher(
	limiter alert.Limiter,
	transport mailer.Transport,
	repo *repository.Repository,
	cfg *config.Config,
	logger *zap.Logger,
) *alert.Dispatcher {
	return alert.NewDispatcher(alert.NewGuard(limiter), transport, repo, alert.DispatcherConfig{
		ServiceID:    cfg.Mail.EmailJSServiceID,
		TemplateID:   cfg.Mail.EmailJSTemplateID,
		AdminEmail:   cfg.Mail.AdminEmail,
		AdminName:    cfg.Mail.AdminName,
		DashboardURL: cfg.Mail.DashboardURL,
		TariffRate:   cfg.Alerting.AlertRate,
		Location:     cfg.Location(),
	}, logger)
}

// ProvideRegistry creates the live pair registry
func ProvideRegistry(cfg *config.Config) *monitor.Registry {
	return monitor.NewRegistry(bypass.NewEvaluator(cfg.Alerting.DashboardRate))
}

// ProvideWatchdog creates the liveness watchdog. The pipeline installs the
// offline handler.
func ProvideWatchdog(cfg *config.Config) *liveness.Watchdog {
	return liveness.NewWatchdog(cfg.Alerting.LivenessTimeout, nil)
}

// ProvideInfluxClient connects the time-series sink when enabled, or
// returns nil
func ProvideInfluxClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		return nil, nil
	}
	client, err := influxdb.NewClient(context.Background(), influxdb.Config{
		URL:    cfg.InfluxDB.URL,
		Org:    cfg.InfluxDB.Org,
		Token:  cfg.InfluxDB.Token,
		Bucket: cfg.InfluxDB.Bucket,
	}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

// ProvideLiveCache creates the Redis live state cache, or nil without Redis
func ProvideLiveCache(rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *cache.LiveCache {
	if rdb == nil {
		return nil
	}
	return cache.NewLiveCache(rdb, cfg.Redis.LiveTTL, logger)
}

// ProvideFeedSource creates the live reading source for the configured
// driver and closes it on stop
func ProvideFeedSource(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (feed.Source, error) {
	var (
		source feed.Source
		closer io.Closer
	)

	switch cfg.Feed.Driver {
	case config.FeedAMQP:
		s, err := feed.NewAMQPSource(mq.ConsumerConfig{
			Connection:    conn,
			Queue:         cfg.RabbitMQ.ReadingQueue,
			DLQQueue:      cfg.RabbitMQ.DLQQueue,
			Exchange:      cfg.RabbitMQ.ReadingExchange,
			RoutingKey:    cfg.RabbitMQ.ReadingRoutingKey,
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		source, closer = s, s
	case config.FeedKafka:
		s, err := feed.NewKafkaSource(feed.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			GroupID:      cfg.Kafka.GroupID,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		}, logger)
		if err != nil {
			return nil, err
		}
		source, closer = s, s
	default:
		client, err := feed.NewMQTTClient(feed.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			QoS:       byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			return nil, err
		}
		source = feed.NewMQTTSource(client, byte(cfg.MQTT.QoS), logger)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				client.Disconnect(250)
				logger.Info("mqtt client disconnected")
				return nil
			},
		})
	}

	if closer != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if err := closer.Close(); err != nil {
					logger.Error("failed to close live feed", zap.Error(err))
					return err
				}
				return nil
			},
		})
	}
	return source, nil
}

// ProvideHub creates the live dashboard hub and runs it for the app lifetime
func ProvideHub(lc fx.Lifecycle, logger *zap.Logger) *api.Hub {
	hub := api.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return hub
}

// ProvidePipeline assembles the live pipeline. Optional collaborators are
// attached only when configured.
func ProvidePipeline(
	registry *monitor.Registry,
	v *validator.Validator,
	watchdog *liveness.Watchdog,
	dispatcher *alert.Dispatcher,
	repo *repository.Repository,
	publisher *mq.Publisher,
	influx *influxdb.Client,
	live *cache.LiveCache,
	hub *api.Hub,
	cfg *config.Config,
	logger *zap.Logger,
) *monitor.Pipeline {
	pipeline := monitor.NewPipeline(registry, v, watchdog, dispatcher, monitor.PipelineConfig{
		VerdictRoutingKey: cfg.RabbitMQ.VerdictRoutingKey,
		DispatchTimeout:   cfg.Alerting.DispatchTimeout,
		LivenessTick:      cfg.Alerting.LivenessTick,
	}, logger).
		WithBroadcaster(hub).
		WithCustomers(repo)

	if cfg.Database.PersistHistory {
		pipeline.WithHistoryWriter(repo)
	}
	if influx != nil {
		pipeline.WithReadingSink(influx)
	}
	if live != nil {
		pipeline.WithLiveStore(live)
	}
	if publisher != nil && cfg.RabbitMQ.PublishVerdicts {
		pipeline.WithPublisher(publisher)
	}
	return pipeline
}

// ProvideCustomerService creates the customer registration service
func ProvideCustomerService(
	repo *repository.Repository,
	registry *monitor.Registry,
	v *validator.Validator,
	logger *zap.Logger,
) *customers.Service {
	return customers.NewService(repo, registry, v, logger)
}

// ProvideHandler creates the dashboard API handler
func ProvideHandler(
	registry *monitor.Registry,
	repo *repository.Repository,
	service *customers.Service,
	hub *api.Hub,
	cfg *config.Config,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(registry, repo, service, hub, cfg.Location(), logger).
		WithTariffRate(cfg.Alerting.DashboardRate)
}
