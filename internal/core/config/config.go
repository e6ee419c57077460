package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SPATIALFILTER"

type CatalogCfg struct {
	// Driver is "memory" or "redis".
	Driver    string `mapstructure:"driver"`
	Group     string `mapstructure:"group"`
	CacheSize int    `mapstructure:"cache_size"`
}

type RedisCfg struct {
	Addr      string        `mapstructure:"addr"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type EventsCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Queue   int      `mapstructure:"queue"`
	// Consume enables the consumer that evicts records changed by other instances.
	Consume       bool          `mapstructure:"consume"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	Instance      string        `mapstructure:"instance"`
	Session       time.Duration `mapstructure:"session_timeout"`
}

type MetricsCfg struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Addr       string     `mapstructure:"addr"`
	LogLevel   string     `mapstructure:"log_level"`
	LogConsole bool       `mapstructure:"log_console"`
	DefaultCRS string     `mapstructure:"default_crs"`
	Catalog    CatalogCfg `mapstructure:"catalog"`
	Redis      RedisCfg   `mapstructure:"redis"`
	Events     EventsCfg  `mapstructure:"events"`
	Metrics    MetricsCfg `mapstructure:"metrics"`
}

// Load reads defaults, then the optional YAML file at path (or
// spatialfilter.yaml in the usual places), then SPATIALFILTER_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("spatialfilter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/spatialfilter")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Default is the configuration used when nothing is set.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_console", false)
	v.SetDefault("default_crs", "EPSG:4326")

	v.SetDefault("catalog.driver", "memory")
	v.SetDefault("catalog.group", "SpatialFilter")
	v.SetDefault("catalog.cache_size", 256)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.op_timeout", "250ms")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "spatial-filter-catalog")
	v.SetDefault("events.queue", 1024)
	v.SetDefault("events.consume", false)
	v.SetDefault("events.consumer_group", "")
	v.SetDefault("events.instance", "")
	v.SetDefault("events.session_timeout", "30s")

	v.SetDefault("metrics.enabled", true)
}

// out-of-range values fall back to defaults
func (c *Config) normalize() {
	switch strings.ToLower(strings.TrimSpace(c.Catalog.Driver)) {
	case "redis":
		c.Catalog.Driver = "redis"
	default:
		c.Catalog.Driver = "memory"
	}
	if strings.TrimSpace(c.Catalog.Group) == "" {
		c.Catalog.Group = "SpatialFilter"
	}
	if c.Catalog.CacheSize < 0 {
		c.Catalog.CacheSize = 0
	}
	if c.Redis.OpTimeout <= 0 {
		c.Redis.OpTimeout = 250 * time.Millisecond
	}
	if c.Events.Queue <= 0 {
		c.Events.Queue = 1024
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "spatial-filter-catalog"
	}
	if c.Events.Session <= 0 {
		c.Events.Session = 30 * time.Second
	}
	var brokers []string
	for _, b := range c.Events.Brokers {
		for p := range strings.SplitSeq(b, ",") {
			if p = strings.TrimSpace(p); p != "" {
				brokers = append(brokers, p)
			}
		}
	}
	c.Events.Brokers = brokers
	if c.DefaultCRS == "" {
		c.DefaultCRS = "EPSG:4326"
	}
}
