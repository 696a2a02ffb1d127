package rpcclient

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

type options struct {
	logger     *logger.CtxZapLogger
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	return o
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the client used for JSON-RPC reads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
