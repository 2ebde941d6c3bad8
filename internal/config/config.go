package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/lgaroche/stakemon/internal/logging"
)

// MaxBatchSize is the largest number of validator ids a beacon node accepts per request.
const MaxBatchSize = 512

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Beacon    BeaconConfig    `mapstructure:"beacon"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Bot       BotConfig       `mapstructure:"bot"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and tunes the watch-list backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs the check cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// BeaconConfig covers access to the consensus-layer balance API.
type BeaconConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	CycleTimeout      time.Duration `mapstructure:"cycle_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the beacon node.
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Unit     string         `mapstructure:"unit"`
	Decimals int32          `mapstructure:"decimals"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// TelegramConfig configures alert delivery through the Telegram Bot API.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig configures the alert stream topic.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig configures alert publication over Redis pub/sub.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// BotConfig configures the Telegram command front end.
type BotConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Token       string `mapstructure:"token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	Debug       bool   `mapstructure:"debug"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	ChartWidth  int `mapstructure:"chart_width"`
	ChartHeight int `mapstructure:"chart_height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the variable names of earlier deployments working.
// The STAKEMON_ name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"beacon.base_url":    {"STAKEMON_BEACON_BASE_URL", "NODE_API_URL"},
		"storage.path":       {"STAKEMON_STORAGE_PATH", "DB_PATH"},
		"bot.token":          {"STAKEMON_BOT_TOKEN", "TELEGRAM_TOKEN"},
		"scheduler.interval": {"STAKEMON_SCHEDULER_INTERVAL", "MONITOR_INTERVAL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stakemon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./state/stakemon.db")
	v.SetDefault("storage.busy_timeout", "5s")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.advisory_lock_key", int64(0x7374616b))

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("beacon.batch_size", MaxBatchSize)
	v.SetDefault("beacon.request_timeout", "30s")
	v.SetDefault("beacon.cycle_timeout", "2m")
	v.SetDefault("beacon.user_agent", "stakemon/1.0")
	v.SetDefault("beacon.requests_per_second", 5.0)
	v.SetDefault("beacon.burst", 5)
	v.SetDefault("beacon.breaker.enabled", true)
	v.SetDefault("beacon.breaker.max_failures", 5)
	v.SetDefault("beacon.breaker.open_timeout", "1m")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.unit", "mGNO")
	v.SetDefault("alerting.decimals", 9)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.topic", "stakemon.alerts")
	v.SetDefault("alerting.kafka.write_timeout", "10s")
	v.SetDefault("alerting.redis.addr", "localhost:6379")
	v.SetDefault("alerting.redis.channel_prefix", "stakemon.alerts.")

	v.SetDefault("bot.enabled", true)
	v.SetDefault("bot.poll_timeout", 60)
	v.SetDefault("bot.debug", false)

	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// secondsToDurationHookFunc reads a bare number such as MONITOR_INTERVAL=300 as seconds.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		secs, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return data, nil
		}
		return time.Duration(secs) * time.Second, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
// Delivery and bot settings are checked separately by the commands that use them.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if strings.TrimSpace(c.Beacon.BaseURL) == "" {
		return fmt.Errorf("beacon.base_url is required")
	}
	if c.Beacon.BatchSize <= 0 || c.Beacon.BatchSize > MaxBatchSize {
		return fmt.Errorf("beacon.batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.Beacon.RequestsPerSecond < 0 {
		return fmt.Errorf("beacon.requests_per_second cannot be negative")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	return nil
}

// ValidateAlerting checks the settings of every enabled alert channel.
func (c *Config) ValidateAlerting() error {
	if !c.Alerting.Enabled {
		return nil
	}
	for _, channel := range c.Alerting.Channels {
		if err := c.validateChannel(channel); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBot checks the command bot settings.
func (c *Config) ValidateBot() error {
	if c.Bot.Enabled && c.BotToken() == "" {
		return fmt.Errorf("bot.token or alerting.telegram.bot_token must be set when the bot is enabled")
	}
	return nil
}

func (c *Config) validateChannel(channel string) error {
	switch channel {
	case "telegram":
		if c.TelegramToken() == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set for the telegram channel")
		}
	case "kafka":
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic must be set for the kafka channel")
		}
	case "redis":
		if c.Alerting.Redis.Addr == "" {
			return fmt.Errorf("alerting.redis.addr must be set for the redis channel")
		}
	default:
		return fmt.Errorf("alerting channel %q is not supported", channel)
	}
	return nil
}

// BotToken returns the command bot token, defaulting to the alerting token.
func (c *Config) BotToken() string {
	if c.Bot.Token != "" {
		return c.Bot.Token
	}
	return c.Alerting.Telegram.BotToken
}

// TelegramToken returns the delivery token, defaulting to the bot token.
func (c *Config) TelegramToken() string {
	if c.Alerting.Telegram.BotToken != "" {
		return c.Alerting.Telegram.BotToken
	}
	return c.Bot.Token
}
