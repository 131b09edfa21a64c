// Package config loads service configuration from an optional file and
// CIRCLES_* environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Addr            string `mapstructure:"addr"`
	Env             string `mapstructure:"env"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	InstanceID      string `mapstructure:"instance_id"`
}

type AuthConfig struct {
	JWTSecret        string   `mapstructure:"jwt_secret"`
	TokenTTLHours    int      `mapstructure:"token_ttl_hours"`
	AccessCodeHashes []string `mapstructure:"access_code_hashes"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type ChatConfig struct {
	TypingWriteIntervalMs int     `mapstructure:"typing_write_interval_ms"`
	TypingIdleMs          int     `mapstructure:"typing_idle_ms"`
	TypingStaleMs         int     `mapstructure:"typing_stale_ms"`
	MaxVideoSeconds       float64 `mapstructure:"max_video_seconds"`
}

type RoomConfig struct {
	TickMs            int     `mapstructure:"tick_ms"`
	SwitchCooldownMs  int     `mapstructure:"switch_cooldown_ms"`
	MinSessionSeconds int     `mapstructure:"min_session_seconds"`
	CompletionRatio   float64 `mapstructure:"completion_ratio"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MediaConfig struct {
	Backend               string  `mapstructure:"backend"`
	CloudinaryCloud       string  `mapstructure:"cloudinary_cloud"`
	CloudinaryPreset      string  `mapstructure:"cloudinary_preset"`
	S3Bucket              string  `mapstructure:"s3_bucket"`
	S3Region              string  `mapstructure:"s3_region"`
	MaxUploadBytes        int64   `mapstructure:"max_upload_bytes"`
	MaxVideoSeconds       float64 `mapstructure:"max_video_seconds"`
	BreakerFailures       uint32  `mapstructure:"breaker_failures"`
	BreakerTimeoutSeconds int     `mapstructure:"breaker_timeout_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Room      RoomConfig      `mapstructure:"room"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Media     MediaConfig     `mapstructure:"media"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.env", "production")
	v.SetDefault("app.shutdown_seconds", 10)
	v.SetDefault("auth.token_ttl_hours", 24)
	v.SetDefault("ratelimit.per_minute", 120)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("chat.typing_write_interval_ms", 1500)
	v.SetDefault("chat.typing_idle_ms", 3000)
	v.SetDefault("chat.typing_stale_ms", 4000)
	v.SetDefault("chat.max_video_seconds", 60)
	v.SetDefault("room.tick_ms", 1000)
	v.SetDefault("room.switch_cooldown_ms", 1000)
	v.SetDefault("room.min_session_seconds", 10)
	v.SetDefault("room.completion_ratio", 0.8)
	v.SetDefault("mongo.database", "circles")
	v.SetDefault("redis.prefix", "circles")
	v.SetDefault("kafka.topic", "circles.events")
	v.SetDefault("media.backend", "none")
	v.SetDefault("media.max_upload_bytes", 50<<20)
	v.SetDefault("media.max_video_seconds", 60)
	v.SetDefault("media.breaker_failures", 5)
	v.SetDefault("media.breaker_timeout_seconds", 30)
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CIRCLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// AutomaticEnv only applies to keys viper already knows about; secrets
	// have no default so bind them explicitly.
	for _, k := range []string{"auth.jwt_secret", "auth.access_code_hashes", "mongo.uri", "redis.addr", "redis.password", "kafka.brokers", "media.cloudinary_cloud", "media.cloudinary_preset", "media.s3_bucket", "media.s3_region", "app.instance_id"} {
		_ = v.BindEnv(k)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	// env values for slices arrive as a single comma separated string
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	c.Auth.AccessCodeHashes = splitList(c.Auth.AccessCodeHashes)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set")
	}
	switch c.Media.Backend {
	case "none", "":
	case "cloudinary":
		if c.Media.CloudinaryCloud == "" || c.Media.CloudinaryPreset == "" {
			return errors.New("media.cloudinary_cloud and media.cloudinary_preset must be set for the cloudinary backend")
		}
	case "s3":
		if c.Media.S3Bucket == "" || c.Media.S3Region == "" {
			return errors.New("media.s3_bucket and media.s3_region must be set for the s3 backend")
		}
	default:
		return errors.New("media.backend must be one of none, cloudinary, s3")
	}
	return nil
}

func (c *Config) Dev() bool { return c.App.Env == "development" || c.App.Env == "dev" }

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c ChatConfig) TypingWriteInterval() time.Duration { return ms(c.TypingWriteIntervalMs) }
func (c ChatConfig) TypingIdle() time.Duration          { return ms(c.TypingIdleMs) }
func (c ChatConfig) TypingStale() time.Duration         { return ms(c.TypingStaleMs) }

func (c RoomConfig) Tick() time.Duration           { return ms(c.TickMs) }
func (c RoomConfig) SwitchCooldown() time.Duration { return ms(c.SwitchCooldownMs) }
