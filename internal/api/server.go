package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/guard"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/logging"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional infrastructure clients (MQTT,
// InfluxDB) whose status is reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LinkCounter reports the number of MQTT device links for metrics.
type LinkCounter interface {
	Len() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	DB       *database.DB

	Users       auth.UserRepository
	Revocations auth.RevocationRepository
	Login       *auth.LoginService
	Access      *auth.TokenService
	Session     *auth.TokenService
	Hasher      *auth.Hasher

	Devices    *device.Registry
	APIKeys    device.APIKeyRepository
	DeviceAuth *device.Authenticator

	Tags       rfid.Repository
	Classifier *rfid.Classifier

	Limiter *guard.RouteLimiter
	Lockout *guard.AccountLockout

	Audit  *audit.Recorder
	Events audit.Repository

	MQTT       HealthChecker // optional
	InfluxDB   HealthChecker // optional
	DeviceLink LinkCounter   // optional

	Version string
}

// Server is the HTTP API server for TagSakay Core.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg    config.APIConfig
	secCfg config.SecurityConfig
	logger *logging.Logger
	db     *database.DB

	users       auth.UserRepository
	revocations auth.RevocationRepository
	login       *auth.LoginService
	access      *auth.TokenService
	session     *auth.TokenService
	hasher      *auth.Hasher

	devices    *device.Registry
	apiKeys    device.APIKeyRepository
	deviceAuth *device.Authenticator

	tags       rfid.Repository
	classifier *rfid.Classifier

	limiter  *guard.RouteLimiter
	lockout  *guard.AccountLockout
	policies policies

	audit  *audit.Recorder
	events audit.Repository

	mqtt       HealthChecker
	influx     HealthChecker
	deviceLink LinkCounter

	version   string
	startTime time.Time
	server    *http.Server
}

// policies are the rate limit presets after config overrides.
type policies struct {
	auth           guard.Policy
	api            guard.Policy
	deviceRegister guard.Policy
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.DB == nil:
		return nil, fmt.Errorf("database is required")
	case deps.Users == nil || deps.Revocations == nil || deps.Login == nil:
		return nil, fmt.Errorf("user repository, revocation list and login service are required")
	case deps.Access == nil || deps.Session == nil || deps.Hasher == nil:
		return nil, fmt.Errorf("token services and hasher are required")
	case deps.Devices == nil || deps.APIKeys == nil || deps.DeviceAuth == nil:
		return nil, fmt.Errorf("device registry, api key repository and authenticator are required")
	case deps.Tags == nil || deps.Classifier == nil:
		return nil, fmt.Errorf("tag repository and classifier are required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("route limiter is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("security event repository is required")
	}

	rl := deps.Security.RateLimit
	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		db:          deps.DB,
		users:       deps.Users,
		revocations: deps.Revocations,
		login:       deps.Login,
		access:      deps.Access,
		session:     deps.Session,
		hasher:      deps.Hasher,
		devices:     deps.Devices,
		apiKeys:     deps.APIKeys,
		deviceAuth:  deps.DeviceAuth,
		tags:        deps.Tags,
		classifier:  deps.Classifier,
		limiter:     deps.Limiter,
		lockout:     deps.Lockout,
		policies: policies{
			auth:           applyPreset(guard.AuthPolicy, rl.Auth),
			api:            applyPreset(guard.APIPolicy, rl.API),
			deviceRegister: applyPreset(guard.DeviceRegisterPolicy, rl.DeviceRegister),
		},
		audit:      deps.Audit,
		events:     deps.Events,
		mqtt:       deps.MQTT,
		influx:     deps.InfluxDB,
		deviceLink: deps.DeviceLink,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// applyPreset overrides the limit and window of base with a configured
// preset. Unset preset fields keep the built-in values.
func applyPreset(base guard.Policy, p config.RateLimitPreset) guard.Policy {
	if p.Limit > 0 {
		base.Limit = p.Limit
	}
	if p.Window > 0 {
		base.Window = p.WindowDuration()
	}
	return base
}

// Handler returns the fully wired router. Start uses it for the listener;
// tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
