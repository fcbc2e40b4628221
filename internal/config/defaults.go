package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultURL                   = "wss://api.mainnet-beta.solana.com"
	DefaultMaxReconnectAttempts  = 5
	DefaultReconnectDelay        = 1 * time.Second
	DefaultMaxReconnectDelay     = 30 * time.Second
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultConnectionTimeout     = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMessageQueueSize      = 100
	DefaultMaxConcurrent         = 100
	DefaultMaxRequestsPerWindow  = 10
	DefaultRateLimitWindow       = 1 * time.Second
	DefaultQueueOverflowStrategy = "drop-oldest"
	DefaultMaxQueueSize          = 1000
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
	DefaultNATSURL               = "nats://127.0.0.1:4222"
	DefaultSubjectPrefix         = "chainstream"
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultURL
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Client.ReconnectDelay == 0 {
		c.Client.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Client.MaxReconnectDelay == 0 {
		c.Client.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Client.ConnectionTimeout == 0 {
		c.Client.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = DefaultRequestTimeout
	}
	if c.Client.MessageQueueSize == 0 {
		c.Client.MessageQueueSize = DefaultMessageQueueSize
	}

	// Subscription policy defaults
	if c.Subscriptions.MaxConcurrent == 0 {
		c.Subscriptions.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Subscriptions.MaxRequestsPerWindow == 0 {
		c.Subscriptions.MaxRequestsPerWindow = DefaultMaxRequestsPerWindow
	}
	if c.Subscriptions.RateLimitWindow == 0 {
		c.Subscriptions.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.Subscriptions.EnableGapDetection == nil {
		enabled := true
		c.Subscriptions.EnableGapDetection = &enabled
	}
	if c.Subscriptions.QueueOverflowStrategy == "" {
		c.Subscriptions.QueueOverflowStrategy = DefaultQueueOverflowStrategy
	}
	if c.Subscriptions.MaxQueueSize == 0 {
		c.Subscriptions.MaxQueueSize = DefaultMaxQueueSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// NATS defaults
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
