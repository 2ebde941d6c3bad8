package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/lgaroche/stakemon/internal/alerting"
	"github.com/lgaroche/stakemon/internal/bot"
	"github.com/lgaroche/stakemon/internal/config"
	"github.com/lgaroche/stakemon/internal/fetcher"
	"github.com/lgaroche/stakemon/internal/monitor"
	"github.com/lgaroche/stakemon/internal/scheduler"
	"github.com/lgaroche/stakemon/internal/service"
	"github.com/lgaroche/stakemon/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (*storage.WatchList, func(), error) {
	cfg := a.Config.Storage

	var kv storage.KV
	switch cfg.Driver {
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, storage.PostgresOptions{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		kv = pg
	default:
		lite, err := storage.OpenSQLite(storage.SQLiteOptions{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout})
		if err != nil {
			return nil, nil, err
		}
		kv = lite
	}

	store := storage.NewWatchList(kv)
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close watch list")
		}
	}
	return store, closer, nil
}

func (a *App) newFetcher() fetcher.BalanceFetcher {
	cfg := a.Config.Beacon
	opts := fetcher.BeaconOptions{
		BaseURL:           cfg.BaseURL,
		BatchSize:         cfg.BatchSize,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
	if cfg.Breaker.Enabled {
		opts.BreakerMaxFailures = cfg.Breaker.MaxFailures
		opts.BreakerOpenTimeout = cfg.Breaker.OpenTimeout
	}
	return fetcher.NewBeacon(opts, a.Logger)
}

func (a *App) format() alerting.Format {
	return alerting.Format{Unit: a.Config.Alerting.Unit, Decimals: a.Config.Alerting.Decimals}
}

// newNotifier returns nil when alerting is off or no channel is configured.
func (a *App) newNotifier() (alerting.Notifier, func()) {
	cfg := a.Config.Alerting
	if !cfg.Enabled || len(cfg.Channels) == 0 {
		return nil, func() {}
	}

	multi := alerting.NewMulti(a.Logger)
	for _, channel := range cfg.Channels {
		switch channel {
		case "telegram":
			multi.Add(channel, alerting.NewTelegramNotifier(a.Config.TelegramToken(), cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.format(), a.Logger))
		case "kafka":
			multi.Add(channel, alerting.NewKafkaNotifier(alerting.KafkaOptions{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				WriteTimeout: cfg.Kafka.WriteTimeout,
			}, a.Logger))
		case "redis":
			multi.Add(channel, alerting.NewRedisNotifier(alerting.RedisOptions{
				Addr:          cfg.Redis.Addr,
				Password:      cfg.Redis.Password,
				DB:            cfg.Redis.DB,
				ChannelPrefix: cfg.Redis.ChannelPrefix,
			}, a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(multi.Channels()) == 0 {
		return nil, func() {}
	}

	closer := func() {
		if err := multi.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close alert channels")
		}
	}
	return multi, closer
}

func (a *App) newService(store *storage.WatchList, engine *monitor.Engine, sched *scheduler.Scheduler, notifier alerting.Notifier) *service.Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.Locker(); ok {
		locker = l
	}
	return service.New(service.Options{
		AlertsEnabled: a.Config.Alerting.Enabled,
		CycleTimeout:  a.Config.Beacon.CycleTimeout,
		LockKey:       a.Config.Storage.AdvisoryLockKey,
	}, sched, engine, notifier, locker, a.Logger)
}

// Run executes the long-running monitoring service and the command bot.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateAlerting(); err != nil {
		return err
	}
	if err := a.Config.ValidateBot(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := monitor.NewEngine(store, a.newFetcher(), a.Logger)
	notifier, closeNotifier := a.newNotifier()
	defer closeNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel configured; alerts are only logged")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	svc := a.newService(store, engine, sched, notifier)

	botDone := make(chan error, 1)
	if a.Config.Bot.Enabled {
		b, err := bot.New(bot.Options{
			Token:       a.Config.BotToken(),
			PollTimeout: a.Config.Bot.PollTimeout,
			Debug:       a.Config.Bot.Debug,
		}, bot.NewHandler(engine, a.format(), a.Logger), a.Logger)
		if err != nil {
			return err
		}
		go func() { botDone <- b.Run(ctx) }()
	} else {
		close(botDone)
	}

	a.Logger.Info().Dur("interval", sched.Interval()).Msg("starting monitoring service")
	err = svc.Run(ctx)
	cancel()
	if botErr := <-botDone; botErr != nil && !errors.Is(botErr, context.Canceled) {
		a.Logger.Error().Err(botErr).Msg("command bot stopped with error")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// ExportOptions hold parameters for exporting the watch list.
type ExportOptions struct {
	Owner   *uint64
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Owner *uint64
	Limit int
}

// CheckOptions configure a one-off monitor cycle.
type CheckOptions struct {
	Notify bool
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	Owner  uint64
	Index  uint64
	Kind   string
	Amount uint64
}
