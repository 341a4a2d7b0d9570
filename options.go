package webfile

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type config struct {
	client     *Client
	directory  string
	filename   string
	filestem   string
	filesuffix string
	remuxer    *FFmpeg
	logger     *zerolog.Logger
}

// Option configures WebFile, CachedWebFile and HlsFile constructors.
type Option func(*config)

func newConfig(opts []Option) config {
	cfg := config{directory: "."}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.client == nil {
		cfg.client = DefaultClient
	}
	return cfg
}

// WithClient uses the given Client for all network access.
func WithClient(c *Client) Option {
	return func(cfg *config) { cfg.client = c }
}

// WithHTTPClient wraps the given http.Client in a Client with default
// headers and retry policy.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *config) {
		c := NewClient()
		c.HTTPClient = hc
		cfg.client = c
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(h http.Header) Option {
	return func(cfg *config) {
		c := cfg.client
		if c == nil {
			c = NewClient()
			cfg.client = c
		}
		for k, v := range h {
			c.Headers[k] = v
		}
	}
}

// WithTimeout sets the per-request network timeout, covering connection
// establishment, the wait for response headers and each body read.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		c := cfg.client
		if c == nil {
			c = NewClient()
			cfg.client = c
		}
		c.SetTimeout(d)
	}
}

// WithRetryPolicy overrides the retry policy for network operations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *config) {
		c := cfg.client
		if c == nil {
			c = NewClient()
			cfg.client = c
		}
		c.Retry = p
	}
}

// WithDirectory sets the directory downloads are saved to.
func WithDirectory(dir string) Option {
	return func(cfg *config) {
		if dir != "" {
			cfg.directory = sanitizeDirectory(dir)
		}
	}
}

// WithFilename overrides the local file name.
func WithFilename(name string) Option {
	return func(cfg *config) { cfg.filename = name }
}

// WithFilestem overrides the local file name without its suffix.
func WithFilestem(stem string) Option {
	return func(cfg *config) { cfg.filestem = sanitizeFilestem(stem) }
}

// WithFilesuffix overrides the local file suffix (with leading dot).
func WithFilesuffix(suffix string) Option {
	return func(cfg *config) { cfg.filesuffix = suffix }
}

// WithRemuxer makes HlsFile.Download produce its final file through the
// given external remux tool instead of concatenating segments.
func WithRemuxer(f *FFmpeg) Option {
	return func(cfg *config) { cfg.remuxer = f }
}

// WithLogger uses the given logger instead of the package logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) { cfg.logger = &l }
}
