package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env        string `mapstructure:"env"`
	Port       int    `mapstructure:"port"`
	InstanceID string `mapstructure:"instance_id"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Transactions   bool   `mapstructure:"transactions"` // needs a replica set
}

type RedisConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Addr              string `mapstructure:"addr"`
	Pass              string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	Prefix            string `mapstructure:"prefix"`
	RateLimit         int    `mapstructure:"rate_limit"`
	RateWindowSeconds int    `mapstructure:"rate_window_seconds"`
	BridgeEnabled     bool   `mapstructure:"bridge_enabled"`
	PresenceTTLSecs   int    `mapstructure:"presence_ttl_seconds"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ConsulConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Addr                 string `mapstructure:"addr"`
	ServiceName          string `mapstructure:"service_name"`
	AdvertiseHost        string `mapstructure:"advertise_host"`
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
}

type AuthConfig struct {
	Algorithm      string `mapstructure:"algorithm"` // HS256 | RS256
	HSSecret       string `mapstructure:"hs_secret"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
	CookieName     string `mapstructure:"cookie_name"`
	ProvisionUsers bool   `mapstructure:"provision_users"`
}

type WSConfig struct {
	PingIntervalSeconds  int     `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int     `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64   `mapstructure:"max_message_size_bytes"`
	InitTimeoutSeconds   int     `mapstructure:"init_timeout_seconds"`
	MessagesPerSecond    float64 `mapstructure:"messages_per_second"`
	Burst                int     `mapstructure:"burst"`
}

type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type SearchConfig struct {
	Match string `mapstructure:"match"` // substring | prefix
	Limit int    `mapstructure:"limit"`
}

type MessagesConfig struct {
	MaxBodyLength int `mapstructure:"max_body_length"`
}

type SeedConfig struct {
	UsersFile string `mapstructure:"users_file"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Consul   ConsulConfig   `mapstructure:"consul"`
	Auth     AuthConfig     `mapstructure:"auth"`
	WS       WSConfig       `mapstructure:"ws"`
	Bus      BusConfig      `mapstructure:"bus"`
	Search   SearchConfig   `mapstructure:"search"`
	Messages MessagesConfig `mapstructure:"messages"`
	Seed     SeedConfig     `mapstructure:"seed"`

	// derived/timeouts
	MongoTimeout  time.Duration `mapstructure:"-"`
	RateWindow    time.Duration `mapstructure:"-"`
	PresenceTTL   time.Duration `mapstructure:"-"`
	PingInterval  time.Duration `mapstructure:"-"`
	WriteDeadline time.Duration `mapstructure:"-"`
	InitTimeout   time.Duration `mapstructure:"-"`
	ConsulCheck   time.Duration `mapstructure:"-"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

func (a AppConfig) IsDevelopment() bool { return a.Env == "" || a.Env == "development" || a.Env == "dev" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 4000)
	v.SetDefault("app.instance_id", "")
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "messenger")
	v.SetDefault("mongo.timeout_seconds", 10)
	v.SetDefault("mongo.transactions", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "messenger")
	v.SetDefault("redis.rate_limit", 120)
	v.SetDefault("redis.rate_window_seconds", 60)
	v.SetDefault("redis.bridge_enabled", false)
	v.SetDefault("redis.presence_ttl_seconds", 120)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "messenger.events")
	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.addr", "localhost:8500")
	v.SetDefault("consul.service_name", "messenger-service")
	v.SetDefault("consul.advertise_host", "localhost")
	v.SetDefault("consul.check_interval_seconds", 10)
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.hs_secret", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.cookie_name", "session_token")
	v.SetDefault("auth.provision_users", true)
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.init_timeout_seconds", 10)
	v.SetDefault("ws.messages_per_second", 20)
	v.SetDefault("ws.burst", 40)
	v.SetDefault("bus.buffer_size", 64)
	v.SetDefault("search.match", "substring")
	v.SetDefault("search.limit", 20)
	v.SetDefault("messages.max_body_length", 4096)
	v.SetDefault("seed.users_file", "")
}

// Load reads the config file at path (optional when empty) and applies
// MESSENGER_* environment overrides, e.g. MESSENGER_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MESSENGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// viper hands env lists over as a single string
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}

	c.MongoTimeout = time.Duration(c.Mongo.TimeoutSeconds) * time.Second
	c.RateWindow = time.Duration(c.Redis.RateWindowSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSecs) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.InitTimeout = time.Duration(c.WS.InitTimeoutSeconds) * time.Second
	c.ConsulCheck = time.Duration(c.Consul.CheckIntervalSeconds) * time.Second

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port out of range: %d", c.App.Port))
	}
	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.uri and mongo.database are required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be mongo or memory, got %q", c.Storage.Driver))
	}
	switch c.Auth.Algorithm {
	case "HS256":
		if c.Auth.HSSecret == "" {
			errs = append(errs, errors.New("auth.hs_secret is required for HS256"))
		}
	case "RS256":
		if c.Auth.PublicKeyPath == "" {
			errs = append(errs, errors.New("auth.public_key_path is required for RS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm must be HS256 or RS256, got %q", c.Auth.Algorithm))
	}
	if c.Auth.CookieName == "" {
		errs = append(errs, errors.New("auth.cookie_name is required"))
	}
	if c.Search.Match != "substring" && c.Search.Match != "prefix" {
		errs = append(errs, fmt.Errorf("search.match must be substring or prefix, got %q", c.Search.Match))
	}
	if c.Search.Limit <= 0 {
		errs = append(errs, errors.New("search.limit must be positive"))
	}
	if c.Bus.BufferSize <= 0 {
		errs = append(errs, errors.New("bus.buffer_size must be positive"))
	}
	if c.Messages.MaxBodyLength <= 0 {
		errs = append(errs, errors.New("messages.max_body_length must be positive"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	if c.Consul.Enabled && (c.Consul.ServiceName == "" || c.Consul.AdvertiseHost == "") {
		errs = append(errs, errors.New("consul.service_name and consul.advertise_host are required when consul is enabled"))
	}
	if c.Redis.BridgeEnabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("redis.bridge_enabled requires redis.enabled"))
	}
	if c.PingInterval <= 0 || c.WriteDeadline <= 0 || c.InitTimeout <= 0 {
		errs = append(errs, errors.New("ws timings must be positive"))
	}
	return errors.Join(errs...)
}
