package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/foundrybridge/relay/internal/config"
	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/wire"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

// Server is one relay replica: the HTTP/WS edge, the local session table,
// the pending-request table, and the bindings to the shared directory and
// the inter-replica forwarder.
type Server struct {
	Config     *config.Config
	Store      *Store
	Clients    *ClientRegistry
	Pending    *PendingTable
	Directory  Directory
	Forwarder  *Forwarder
	Auth       Authorizer
	Metrics    *Metrics
	InstanceID string

	jwtSecret []byte
	limiter   *RateLimiter
	mux       *http.ServeMux
	httpSrv   *http.Server
}

// NewServer wires a replica together. rdb may be nil, in which case the
// replica runs standalone: no shared directory, no forwarding.
func NewServer(cfg *config.Config, store *Store, rdb *redis.Client) (*Server, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()[:8]
	}

	pending := NewPendingTable()
	clients := NewClientRegistry()
	metrics := NewMetrics(pending)

	s := &Server{
		Config:     cfg,
		Store:      store,
		Clients:    clients,
		Pending:    pending,
		Auth:       StoreAuthorizer{Store: store},
		Metrics:    metrics,
		InstanceID: instanceID,
		limiter:    NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		mux:        http.NewServeMux(),
	}

	if store != nil {
		secret, err := GenerateOrLoadSecret(store, cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("jwt secret: %w", err)
		}
		s.jwtSecret = secret
	}

	if rdb != nil {
		s.Directory = NewRedisDirectory(rdb, instanceID)
		s.Forwarder = &Forwarder{
			rdb:        rdb,
			instanceID: instanceID,
			pending:    pending,
			clients:    clients,
			metrics:    metrics,
			timeoutFor: cfg.TimeoutFor,
		}
	} else {
		s.Directory = noopDirectory{}
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/relay", s.handleRelayWS)

	for _, t := range wire.RequestTypes() {
		s.mux.Handle("/"+t, s.limiter.Middleware(s.relayEndpoint(t)))
	}

	s.mux.HandleFunc("/clients", s.handleClients)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.Metrics.Handler())

	s.mux.Handle("/auth/token", s.limiter.Middleware(http.HandlerFunc(s.handleAuthToken)))
	s.mux.HandleFunc("/auth/keys", s.handleAuthKeys)
	s.mux.HandleFunc("/auth/keys/", s.handleAuthKeyByID)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start brings up the background machinery and the HTTP listener. It
// returns when ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.Forwarder != nil {
		s.Forwarder.Start(ctx)
	}
	s.StartReaper(ctx)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Config.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", s.httpSrv.Addr,
			"instance", s.InstanceID, "version", Version)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Shutdown closes every peer with 4005, fails parked waiters, and stops
// the HTTP listener.
func (s *Server) Shutdown() error {
	logger.Info("relay shutting down", "instance", s.InstanceID)

	for _, sess := range s.Clients.All() {
		sess.Close(wire.CloseServerShutdown, "server shutting down")
	}
	for _, w := range s.Pending.Drain() {
		w.Deliver(Outcome{Err: fmt.Errorf("%w: server shutting down", ErrUpstreamUnavailable)})
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
