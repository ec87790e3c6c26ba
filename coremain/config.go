package coremain

import (
	"github.com/pmkol/sharedlist/mlog"
)

// Config is the top-level configuration.
type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	Include []string       `yaml:"include"`
	API     APIConfig      `yaml:"api"`
	Server  ServerConfig   `yaml:"server"`
	Queues  QueuesConfig   `yaml:"queues"`
	Cache   CacheConfig    `yaml:"cache"`
	Bench   BenchConfig    `yaml:"bench"`
}

// APIConfig serves /metrics and /debug/pprof.
type APIConfig struct {
	HTTP string `yaml:"http"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`

	// ListenH3 is a UDP address for an additional HTTP/3 server. It
	// needs Cert and Key.
	ListenH3 string `yaml:"listen_h3"`

	// ProxyProtocol accepts PROXY protocol headers on Listen.
	ProxyProtocol bool `yaml:"proxy_protocol"`

	// IdleTimeout is in seconds.
	IdleTimeout uint `yaml:"idle_timeout"`

	// MaxBodySize is in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	// MaxWait caps blocking pops, in seconds.
	MaxWait uint `yaml:"max_wait"`
}

type QueuesConfig struct {
	DefaultMaxLen int            `yaml:"default_max_len"`
	MaxLen        map[string]int `yaml:"max_len"`
}

type CacheConfig struct {
	// Type is "mem" (default), "redis" or "none".
	Type string `yaml:"type"`

	// Size of the memory cache.
	Size int `yaml:"size"`

	// CleanerInterval is in seconds.
	CleanerInterval uint `yaml:"cleaner_interval"`

	// Redis is a redis url, e.g. redis://localhost:6379/0.
	Redis string `yaml:"redis"`

	// RedisTimeout is in milliseconds.
	RedisTimeout uint `yaml:"redis_timeout"`
}

type BenchConfig struct {
	Producers int `yaml:"producers"`
	Consumers int `yaml:"consumers"`
	Items     int `yaml:"items"`
	MaxLen    int `yaml:"max_len"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultCacheSize = 1024
)

func (c *Config) setDefaults() {
	if len(c.Server.Listen) == 0 {
		c.Server.Listen = defaultListen
	}
	if len(c.Cache.Type) == 0 {
		c.Cache.Type = "mem"
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = defaultCacheSize
	}
	c.Bench.setDefaults()
}

func (b *BenchConfig) setDefaults() {
	if b.Producers <= 0 {
		b.Producers = 4
	}
	if b.Consumers <= 0 {
		b.Consumers = 4
	}
	if b.Items <= 0 {
		b.Items = 100000
	}
}
