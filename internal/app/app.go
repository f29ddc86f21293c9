// Package app assembles the publishing stack shared by the service and the
// operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"liguns/internal/ai"
	"liguns/internal/config"
	"liguns/internal/database"
	"liguns/internal/domain"
	"liguns/internal/events"
	"liguns/internal/imageproc"
	"liguns/internal/logging"
	"liguns/internal/meta"
	"liguns/internal/metrics"
	"liguns/internal/repository"
	"liguns/internal/service"
	"liguns/internal/spintax"
	"liguns/internal/storage"
	"liguns/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const deadLetterCapacity = 500

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Logger   *zerolog.Logger
	Location *time.Location

	DB          *database.DB
	Redis       *redis.Client
	Bus         *events.EventBus
	Media       *storage.LocalStore
	DeadLetters domain.DeadLetterSink
	Notifier    *service.NotificationService

	Job        *worker.PublishJob
	Scheduling *service.SchedulingService
	Captions   *service.CaptionService

	closers []func() error
}

// LoadConfigAndLogger reads CONFIG_PATH (default configs/config.yaml) and
// builds the base logger tagged with component.
func LoadConfigAndLogger(component string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	return LoadConfigAndLoggerFrom(configPath, component)
}

func LoadConfigAndLoggerFrom(configPath, component string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App, component)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// New opens the database and wires the publishing pipeline. Redis and
// Telegram are optional: an empty address or token leaves them out.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	loc, err := time.LoadLocation(cfg.App.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("display timezone: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Location: loc}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	a.DB, err = database.NewDB(cfg.Database.Path, logging.Subsystem(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	a.closers = append(a.closers, a.DB.Close)

	a.Media, err = storage.NewLocalStore(cfg.Storage)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	locker, deadLetters := a.initRedis(ctx)
	a.DeadLetters = deadLetters

	a.Bus = events.NewEventBus()
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(a.Bus)
	}

	a.Notifier = service.NewNotificationService(a.initTelegram(), cfg.Telegram, cfg.Publisher.MaxRetries, loc, logging.Subsystem(logger, "notifier"))

	fetcher := imageproc.NewHTTPFetcher(cfg.Images.FetchTimeout, cfg.Images.MaxBytes)
	graphLog := logging.Subsystem(logger, "graph")
	normalizer := imageproc.NewNormalizer(fetcher, imageproc.RulesFromConfig(cfg.Images), logging.Subsystem(logger, "images"))
	client := meta.NewClient(meta.OptionsFromConfig(cfg.Meta), graphLog)
	publisher := meta.NewPublisher(client, graphLog,
		meta.WithImageProcessing(normalizer, a.Media, imageproc.Background(cfg.Publisher.Background)),
		meta.WithWebsites(a.DB),
	)

	opts := []worker.Option{
		worker.WithRunLocker(locker),
		worker.WithDeadLetters(deadLetters),
		worker.WithEvents(a.Bus),
	}
	if a.Notifier.Enabled() {
		opts = append(opts, worker.WithNotifier(a.Notifier))
	}
	a.Job = worker.NewPublishJob(a.DB, publisher, worker.JobConfigFromPublisher(cfg.Publisher), logging.Subsystem(logger, "publish-job"), opts...)

	engine := spintax.New(nil)
	a.Scheduling = service.NewSchedulingService(a.DB, engine, logger)

	drafter, err := ai.New(ctx, cfg.AI, logger)
	if err != nil {
		if !errors.Is(err, ai.ErrNotConfigured) {
			logger.Warn().Err(err).Str("provider", cfg.AI.Provider).Msg("caption drafting unavailable")
		}
		drafter = nil
	}
	a.Captions = service.NewCaptionService(engine, drafter, a.DB, logger)

	return a, nil
}

// initRedis returns the run lock and dead-letter sink. With Redis configured
// both fail over to process memory while Redis is unreachable.
func (a *App) initRedis(ctx context.Context) (domain.RunLocker, domain.DeadLetterSink) {
	memLock := repository.NewMemoryRunLocker()
	memDead := repository.NewMemoryDeadLetters(deadLetterCapacity)
	if a.Config.Redis.Address == "" {
		return memLock, memDead
	}

	a.Redis = repository.NewRedisClient(a.Config.Redis)
	a.closers = append(a.closers, func() error { return repository.Close(a.Redis) })
	if err := repository.Ping(ctx, a.Redis); err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable, using in-memory fallbacks until it recovers")
	} else {
		a.Logger.Info().Str("addr", a.Config.Redis.Address).Msg("redis connected")
	}

	locker := repository.NewFailoverRunLocker(repository.NewRedisRunLocker(a.Redis), memLock, a.Logger)
	dead := repository.NewFailoverDeadLetters(repository.NewRedisDeadLetters(a.Redis, deadLetterCapacity), memDead, a.Logger)
	return locker, dead
}

func (a *App) initTelegram() domain.TelegramSender {
	if !a.Config.Telegram.Enabled() {
		a.Logger.Info().Msg("telegram notifications disabled")
		return nil
	}
	botAPI, err := tgbotapi.NewBotAPI(a.Config.Telegram.BotToken)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("telegram bot init failed, notifications disabled")
		return nil
	}
	botAPI.Debug = a.Config.Telegram.Debug
	a.Logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram notifications enabled")
	return service.NewBotSender(botAPI)
}

// Ready checks the stores a request depends on.
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := repository.Ping(ctx, a.Redis); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// MediaPrefix is the path under which processed images are served, taken
// from the storage public base URL.
func (a *App) MediaPrefix() string {
	return MediaPrefix(a.Config.Storage.PublicBaseURL)
}

func MediaPrefix(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return "/media/"
	}
	return "/" + strings.Trim(u.Path, "/") + "/"
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
