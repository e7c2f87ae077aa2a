package config

import "time"

// RedisConfig configures the shared go-redis client used by the robot
// auth nonce cache (pkg/orchestrator) and the automation aggregation
// window (pkg/automation).
type RedisConfig struct {
	// Addr is the redis host:port.
	Addr string `yaml:"addr"`

	// Password authenticates against a protected redis instance. Typically
	// supplied via REDIS_PASSWORD and expanded by ExpandEnv.
	Password string `yaml:"password,omitempty"`

	// DB selects the logical redis database index.
	DB int `yaml:"db"`

	// DialTimeout bounds how long establishing a connection may take.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultRedisConfig returns the built-in redis defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:        "localhost:6379",
		DB:          0,
		DialTimeout: 5 * time.Second,
	}
}
