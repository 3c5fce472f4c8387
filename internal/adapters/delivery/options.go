package delivery

import (
	"net/http"
	"time"

	"github.com/okian/trackpick/pkg/logger"
)

const defaultHTTPTimeout = 10 * time.Second

type options struct {
	client *http.Client
	logger logger.Logger
}

// Option configures the HTTP-backed collaborators.
type Option func(*options)

// WithHTTPClient sets the client used for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithTimeout sets the timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(name string, opts []Option) options {
	o := options{client: &http.Client{Timeout: defaultHTTPTimeout}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named(name)
	}
	return o
}
