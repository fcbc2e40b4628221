package config

import (
	"time"

	"github.com/rickgao/chainstream/internal/connection"
	"github.com/rickgao/chainstream/internal/subscription"
)

// Config is the root configuration for a chainstream client.
type Config struct {
	Client        ClientConfig        `yaml:"client"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Database      DatabaseConfig      `yaml:"database"`
	NATS          NATSConfig          `yaml:"nats"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ClientConfig holds Connection Manager and transport settings.
type ClientConfig struct {
	URL                  string            `yaml:"url" validate:"required,url"`
	Headers              map[string]string `yaml:"headers"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts" validate:"gte=1"`
	ReconnectDelay       time.Duration     `yaml:"reconnect_delay" validate:"gt=0"`
	MaxReconnectDelay    time.Duration     `yaml:"max_reconnect_delay" validate:"gt=0"`
	HeartbeatInterval    time.Duration     `yaml:"heartbeat_interval" validate:"gt=0"`
	ConnectionTimeout    time.Duration     `yaml:"connection_timeout" validate:"gt=0"`
	RequestTimeout       time.Duration     `yaml:"request_timeout" validate:"gt=0"`
	MessageQueueSize     int               `yaml:"message_queue_size" validate:"gte=1"`
	ReadLimit            int64             `yaml:"read_limit" validate:"gte=0"` // Max inbound frame size in bytes, 0 for no limit
}

// SubscriptionsConfig holds Subscription Manager policy settings.
type SubscriptionsConfig struct {
	MaxConcurrent         int           `yaml:"max_concurrent" validate:"gte=1"`
	MaxRequestsPerWindow  int           `yaml:"max_requests_per_window" validate:"gte=1"`
	RateLimitWindow       time.Duration `yaml:"rate_limit_window" validate:"gt=0"`
	EnableGapDetection    *bool         `yaml:"enable_gap_detection"`
	QueueOverflowStrategy string        `yaml:"queue_overflow_strategy" validate:"oneof=drop-oldest drop-newest reject"`
	MaxQueueSize          int           `yaml:"max_queue_size" validate:"gte=1"`
}

// DatabaseConfig holds the optional Postgres store for gap records.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// NATSConfig holds the optional notification relay.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"gte=1,lte=65535"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ConnectionConfig converts the client section for connection.NewManager.
func (c ClientConfig) ConnectionConfig() connection.Config {
	return connection.Config{
		URL:                  c.URL,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		HeartbeatInterval:    c.HeartbeatInterval,
		ConnectionTimeout:    c.ConnectionTimeout,
		RequestTimeout:       c.RequestTimeout,
		MessageQueueSize:     c.MessageQueueSize,
	}
}

// ManagerConfig converts the subscriptions section for subscription.NewManager.
func (c SubscriptionsConfig) ManagerConfig() (subscription.Config, error) {
	strategy, err := subscription.ParseOverflowStrategy(c.QueueOverflowStrategy)
	if err != nil {
		return subscription.Config{}, err
	}
	gaps := true
	if c.EnableGapDetection != nil {
		gaps = *c.EnableGapDetection
	}
	return subscription.Config{
		MaxConcurrentSubscriptions:  c.MaxConcurrent,
		MaxRequestsPerWindow:        c.MaxRequestsPerWindow,
		RateLimitWindow:             c.RateLimitWindow,
		EnableGapDetection:          gaps,
		QueueOverflowStrategy:       strategy,
		MaxQueueSizePerSubscription: c.MaxQueueSize,
	}, nil
}
