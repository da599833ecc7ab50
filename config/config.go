package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"goflare.io/ember"
	emberConfig "goflare.io/ember/config"
	"goflare.io/ignite"
	"goflare.io/voucherhub/driver"
)

const (
	ServerStartPort = ":8080"

	envPrefix = "VOUCHERHUB"
)

type Config struct {
	Server   ServerConfig
	Stripe   StripeConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Nats     NatsConfig
	Resend   ResendConfig
	App      AppConfig
	Sweeper  SweeperConfig
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// NatsConfig enables asynchronous webhook processing when URL is set.
type NatsConfig struct {
	URL     string `mapstructure:"url"`
	Workers int    `mapstructure:"workers"`
}

type ResendConfig struct {
	APIKey string `mapstructure:"api_key"`
	From   string `mapstructure:"from"`
}

type AppConfig struct {
	FrontendURL     string `mapstructure:"frontend_url"`
	DefaultCurrency string `mapstructure:"default_currency"`
}

type SweeperConfig struct {
	Schedule          string        `mapstructure:"schedule"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ServerStartPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.workers", 4)
	v.SetDefault("resend.from", "VoucherHub <info@voucherhub.pt>")
	v.SetDefault("app.frontend_url", "http://localhost:3000")
	v.SetDefault("app.default_currency", "eur")
	v.SetDefault("sweeper.schedule", "0 */15 * * * *")
	v.SetDefault("sweeper.reconcile_schedule", "30 */5 * * * *")
	v.SetDefault("sweeper.lock_ttl", 10*time.Minute)
	v.SetDefault("sweeper.timeout", 5*time.Minute)
}

func ProvideApplicationConfig() (*Config, error) {
	return Load("./config.yaml")
}

// Load reads the yaml file at path, when present, and overlays environment
// variables such as VOUCHERHUB_STRIPE_SECRET_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"stripe.secret_key", "stripe.webhook_secret", "postgres.url",
		"redis.password", "nats.url", "resend.api_key",
	} {
		_ = v.BindEnv(key)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe.secret_key is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required")
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func ProvidePostgresConn(appConfig *Config) (driver.PostgresPool, error) {

	conn, err := driver.ConnectSQL(appConfig.Postgres.URL)
	if err != nil {
		return nil, err
	}

	return conn.Pool, nil
}

func ProvideRedis(appConfig *Config) (*redis.Client, error) {
	return driver.ConnectRedis(appConfig.Redis.Addr, appConfig.Redis.Password, 0)
}

func ProvideEmber(conn *redis.Client) (*ember.MultiCache, error) {

	config := emberConfig.NewConfig()
	cache, err := ember.NewMultiCache(context.Background(), &config, conn)
	if err != nil {
		log.Println(fmt.Errorf("failed to create cache: %w", err))
		return nil, err
	}

	return cache, nil
}

func ProvideIgnite() ignite.Manager {
	return ignite.NewManager()
}

// ProvideNats returns nil when no NATS url is configured; webhooks are then
// processed inline.
func ProvideNats(appConfig *Config, logger *zap.Logger) (*nats.Conn, error) {
	if appConfig.Nats.URL == "" {
		return nil, nil
	}

	nc, err := nats.Connect(appConfig.Nats.URL, nats.Name("voucherhub"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", appConfig.Nats.URL))

	return nc, nil
}

func NewLogger() *zap.Logger {

	logger, _ := zap.NewProduction()
	return logger
}
