package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
)

// Server is the HTTP-facing provider. It wires the authorization and token
// engine together with encryption at rest, audit logging, rate limiting,
// and OpenTelemetry instrumentation, and is served by Handler.
type Server struct {
	engine      *server.Server
	config      *Config
	endpoints   EndpointConfig
	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	eventLimit  *security.RateLimiter
	insts       *instrumentation.Instrumentation
	ownsInsts   bool
	logger      *slog.Logger
}

// NewServer creates a provider from the given stores, key set, and
// configuration. The caller owns the stores and the key set; the provider
// owns the rate limiters it creates and, when Config.Instrumentation is
// nil, the disabled instrumentation it falls back to.
func NewServer(stores server.Stores, keySet *jose.KeySet, config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := server.New(stores, keySet, config.engineConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	s := &Server{
		engine:    engine,
		config:    config,
		endpoints: config.endpoints(),
		logger:    logger,
	}

	// SECURITY: encryption at rest is keyed by the operator. A key of the
	// wrong length is a deployment mistake, not a condition to degrade on.
	if config.Security.EncryptionKey != nil {
		enc, err := security.NewEncryptor(config.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
		engine.SetEncryptor(enc)
	}

	s.auditor = security.NewAuditor(logger, config.Security.EnableAuditLogging)
	engine.SetAuditor(s.auditor)

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
		engine.SetRateLimiter(s.rateLimiter)

		// Audit events triggered by attacker-controlled input get their own
		// limiter so a probe flood cannot drown the audit log.
		s.eventLimit = security.NewRateLimiter(10, 20, logger)
		engine.SetSecurityEventRateLimiter(s.eventLimit)
	}

	s.insts = config.Instrumentation
	if s.insts == nil {
		s.insts, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("creating instrumentation: %w", err)
		}
		s.ownsInsts = true
	}
	engine.SetMetrics(s.insts.Metrics())

	return s, nil
}

// Engine returns the underlying authorization and token engine for callers
// that need direct access (custom endpoints, session bootstrapping).
func (s *Server) Engine() *server.Server {
	return s.engine
}

// RotateKeys generates a fresh signing key and makes it current. Previous
// keys keep serving verification until they age out of the set.
func (s *Server) RotateKeys(ctx context.Context) error {
	return s.engine.RotateKeys(ctx)
}

// Shutdown stops background goroutines owned by the provider. Stores and a
// caller-supplied Instrumentation are the caller's to close.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.eventLimit != nil {
		s.eventLimit.Stop()
	}
	var errs []error
	if s.ownsInsts {
		if err := s.insts.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
