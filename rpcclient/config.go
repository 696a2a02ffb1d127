package rpcclient

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config configures the JSON-RPC endpoint and its websocket companion.
type Config struct {
	Endpoint string `mapstructure:"endpoint"`
	// WSEndpoint defaults to Endpoint with its scheme switched to ws/wss.
	WSEndpoint string            `mapstructure:"ws_endpoint"`
	Headers    map[string]string `mapstructure:"headers"`

	// Timeout bounds one HTTP call.
	Timeout     time.Duration `mapstructure:"timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// PingInterval must stay below PongWait.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`

	// FeedBuffer is the channel capacity of each account feed.
	FeedBuffer int `mapstructure:"feed_buffer"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:     "http://127.0.0.1:8899",
		Timeout:      10 * time.Second,
		DialTimeout:  10 * time.Second,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		FeedBuffer:   64,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.WSEndpoint == "" {
		c.WSEndpoint = wsURL(c.Endpoint)
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait == 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait == 0 {
		c.WriteWait = d.WriteWait
	}
	if c.FeedBuffer == 0 {
		c.FeedBuffer = d.FeedBuffer
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.WSEndpoint, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Millisecond)),
		validation.Field(&c.PingInterval, validation.Min(time.Millisecond), validation.Max(c.PongWait)),
		validation.Field(&c.WriteWait, validation.Min(time.Millisecond)),
		validation.Field(&c.FeedBuffer, validation.Min(0)),
	)
}

func wsURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
