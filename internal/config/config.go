package config

import (
	"strings"
	"time"

	"github.com/khanghh/koidc/params"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr   = ":3000"
	DefaultCacheBackend = "redis"
)

type MySQLConfig struct {
	Dsn             string        `mapstructure:"dsn"`
	Replicas        []string      `mapstructure:"replicas"`
	TablePrefix     string        `mapstructure:"tablePrefix"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime time.Duration `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type CacheConfig struct {
	Backend string `mapstructure:"backend"` // redis or memory
}

// RevocationConfig controls which tokens a client may revoke.
type RevocationConfig struct {
	AllowAllTokens      bool   `mapstructure:"allowAllTokens"`      // honor token=all
	AllowCrossClient    bool   `mapstructure:"allowCrossClient"`    // allow revoking tokens of other clients
	RevokeAnyTokenScope string `mapstructure:"revokeAnyTokenScope"` // scope required for cross-client revocation
}

// CibaConfig intervals are in seconds, matching the wire values of the CIBA flow.
type CibaConfig struct {
	TickInterval       int           `mapstructure:"tickInterval"`
	ProcessingInterval int           `mapstructure:"processingInterval"` // negative disables the sweeper
	ChunkSize          int           `mapstructure:"chunkSize"`
	CacheGraceSeconds  int           `mapstructure:"cacheGraceSeconds"` // must outlast a tick or expiry callbacks are lost
	DefaultExpiresIn   int           `mapstructure:"defaultExpiresIn"`
	PollInterval       int           `mapstructure:"pollInterval"`
	CallbackTimeout    time.Duration `mapstructure:"callbackTimeout"`
	CallbackRateLimit  float64       `mapstructure:"callbackRateLimit"` // callbacks per second, 0 is unlimited
}

type TokensConfig struct {
	CleanupInterval  time.Duration `mapstructure:"cleanupInterval"`
	CleanupBatchSize int           `mapstructure:"cleanupBatchSize"`
}

type Config struct {
	Debug        bool             `mapstructure:"debug"`
	LogFormat    string           `mapstructure:"logFormat"`
	ListenAddr   string           `mapstructure:"listenAddr"`
	AllowOrigins []string         `mapstructure:"allowOrigins"`
	MySQL        MySQLConfig      `mapstructure:"mysql"`
	Redis        RedisConfig      `mapstructure:"redis"`
	Cache        CacheConfig      `mapstructure:"cache"`
	Revocation   RevocationConfig `mapstructure:"revocation"`
	Ciba         CibaConfig       `mapstructure:"ciba"`
	Tokens       TokensConfig     `mapstructure:"tokens"`
}

func (c *CibaConfig) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Second
}

func (c *CibaConfig) ProcessingDuration() time.Duration {
	return time.Duration(c.ProcessingInterval) * time.Second
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Revocation.RevokeAnyTokenScope == "" {
		c.Revocation.RevokeAnyTokenScope = params.RevokeAnyTokenScope
	}
	if c.Ciba.TickInterval <= 0 {
		c.Ciba.TickInterval = int(params.CibaDefaultTickInterval / time.Second)
	}
	if c.Ciba.ChunkSize <= 0 {
		c.Ciba.ChunkSize = params.CibaDefaultChunkSize
	}
	if c.Ciba.CacheGraceSeconds <= 0 {
		c.Ciba.CacheGraceSeconds = params.CibaDefaultCacheGrace
	}
	if c.Ciba.DefaultExpiresIn <= 0 {
		c.Ciba.DefaultExpiresIn = params.CibaDefaultExpiresIn
	}
	if c.Ciba.PollInterval <= 0 {
		c.Ciba.PollInterval = params.CibaDefaultPollInterval
	}
	if c.Ciba.CallbackTimeout <= 0 {
		c.Ciba.CallbackTimeout = params.CallbackDefaultTimeout
	}
	if c.Tokens.CleanupInterval <= 0 {
		c.Tokens.CleanupInterval = params.TokenCleanupInterval
	}
	if c.Tokens.CleanupBatchSize <= 0 {
		c.Tokens.CleanupBatchSize = params.TokenCleanupBatchSize
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
