package gateway

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type HTTPConfig struct {
	Timeout    time.Duration
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.WaitMin <= 0 {
		c.WaitMin = 200 * time.Millisecond
	}
	if c.WaitMax <= 0 {
		c.WaitMax = 2 * time.Second
	}
	return c
}

// newRetryingClient returns an HTTP client with a per-attempt timeout and
// bounded exponential backoff on connection errors and 5xx/429 responses.
func newRetryingClient(cfg HTTPConfig, logger *zap.Logger) *retryablehttp.Client {
	cfg = cfg.withDefaults()

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.WaitMin
	client.RetryWaitMax = cfg.WaitMax
	client.Backoff = retryablehttp.DefaultBackoff
	client.Logger = retryLogger{logger.Sugar()}
	return client
}

type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l retryLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Debugw(msg, keysAndValues...) }
func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l retryLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }

// The formatted variants satisfy stripe.LeveledLoggerInterface.
func (l retryLogger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }
func (l retryLogger) Infof(format string, v ...interface{})  { l.s.Debugf(format, v...) }
func (l retryLogger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l retryLogger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
