// Package natspub provides a sink that publishes encoded events to a NATS
// subject.
package natspub

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/pkg/retry"
)

func init() {
	component.MustRegisterSink("nats", New)
}

// Wire encodings for published events.
const (
	EncodingJSON   = "json"
	EncodingBinary = "binary"
)

// Config holds the NATS publisher settings.
type Config struct {
	// URL is the server address; defaults to the local server.
	URL string `yaml:"url"`
	// Subject is the publish subject. Required.
	Subject string `yaml:"subject"`
	// Encoding selects json or the internal binary codec.
	Encoding string `yaml:"encoding"`
	// ConnectTimeoutSecs bounds the initial connection attempt.
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs"`
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		URL:                nats.DefaultURL,
		Encoding:           EncodingJSON,
		ConnectTimeoutSecs: 5,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapConfiguration(errors.ErrMissingConfig, "natspub", "Validate",
			"subject is required")
	}
	switch c.Encoding {
	case EncodingJSON, EncodingBinary:
	default:
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "natspub", "Validate",
			"encoding must be json or binary")
	}
	if c.ConnectTimeoutSecs <= 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig, "natspub", "Validate",
			"connect_timeout_secs must be positive")
	}
	return nil
}

// Sink publishes each event to the configured subject, finalizing on the
// publish result.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// New builds a NATS publisher sink from its configuration node.
func New(options *yaml.Node, deps component.Dependencies) (component.Sink, error) {
	cfg := DefaultConfig()
	if options != nil && options.Kind != 0 {
		if err := options.Decode(&cfg); err != nil {
			return nil, errors.WrapConfiguration(err, "natspub", "New", "decoding options")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{cfg: cfg, logger: logger}, nil
}

func (s *Sink) connect() (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("eventflow-natspub"),
		nats.Timeout(time.Duration(s.cfg.ConnectTimeoutSecs)*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransport(err, "natspub", "connect", "connecting to "+s.cfg.URL)
	}
	s.conn = conn
	return conn, nil
}

// Healthcheck implements component.Sink. It establishes the connection and
// round-trips a ping, retrying briefly so a server that is still coming up
// does not fail the probe.
func (s *Sink) Healthcheck(ctx context.Context) error {
	conn, err := retry.DoWithResult(ctx, retry.Quick(), s.connect)
	if err != nil {
		return err
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransport(err, "natspub", "Healthcheck", "flushing connection")
	}
	return nil
}

// Run implements component.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	conn, err := s.connect()
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Drain(); err != nil {
			s.logger.Warn("nats drain failed", "error", err)
		}
	}()

	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			s.publish(ctx, conn, e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publish retries transient failures with backoff. Oversized payloads and
// bad subjects never succeed, so they short-circuit and resolve Rejected;
// failures that exhaust the retry budget resolve Errored.
func (s *Sink) publish(ctx context.Context, conn *nats.Conn, e event.Event) {
	payload, err := s.encode(e)
	if err != nil {
		s.logger.Warn("event not encodable", "error", err)
		e.Finalize(event.StatusRejected)
		return
	}
	err = retry.Do(ctx, errors.RetryConfig(), func() error {
		perr := conn.Publish(s.cfg.Subject, payload)
		if perr == nil {
			return nil
		}
		werr := errors.WrapTransport(perr, "natspub", "publish",
			"publishing to "+s.cfg.Subject)
		if stderrors.Is(perr, nats.ErrMaxPayload) || stderrors.Is(perr, nats.ErrBadSubject) {
			return retry.NonRetryable(werr)
		}
		return werr
	})
	if err != nil {
		s.logger.Warn("publish failed", "subject", s.cfg.Subject, "error", err)
		if errors.IsRetryable(err) {
			e.Finalize(event.StatusErrored)
		} else {
			e.Finalize(event.StatusRejected)
		}
		return
	}
	e.Finalize(event.StatusDelivered)
}

func (s *Sink) encode(e event.Event) ([]byte, error) {
	if s.cfg.Encoding == EncodingBinary {
		return e.Encode()
	}
	return json.Marshal(e)
}
