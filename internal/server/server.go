package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"crate/internal/auth"
	"crate/internal/catalog"
	"crate/internal/checkout"
	"crate/internal/config"
	"crate/internal/database"
	"crate/internal/ledger"
	"crate/internal/metrics"
	"crate/internal/ngrok"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Store     database.Store
	Catalog   *catalog.Catalog
	Sessions  *auth.Service
	Processor checkout.Processor
	Ngrok     *ngrok.Service
}

// StoreServer serves the storefront over HTTP.
type StoreServer struct {
	config         *config.Config
	logger         *logrus.Logger
	store          database.Store
	catalog        *catalog.Catalog
	sessions       *auth.Service
	cart           *ledger.Cart
	purchases      *ledger.Purchases
	checkout       *checkout.Orchestrator
	metrics        *metrics.Collector
	ngrokService   *ngrok.Service
	limiter        *clientLimiter
	trustedProxies []*net.IPNet
	router         chi.Router
	httpServer     *http.Server
}

// NewStoreServer wires the ledgers and checkout on top of deps and builds the router.
func NewStoreServer(deps Deps) (*StoreServer, error) {
	if deps.Config == nil || deps.Logger == nil || deps.Store == nil || deps.Catalog == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("server: config, logger, store, catalog and sessions are required")
	}
	processor := deps.Processor
	if processor == nil {
		processor = checkout.DisabledProcessor{}
	}

	cfg := deps.Config
	trusted, err := cfg.ParseTrustedProxies()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	cart := ledger.NewCart(deps.Store, deps.Catalog, cfg.Catalog.MaxCartItems, deps.Logger)

	ms := &StoreServer{
		config:         cfg,
		logger:         deps.Logger,
		store:          deps.Store,
		catalog:        deps.Catalog,
		sessions:       deps.Sessions,
		cart:           cart,
		purchases:      ledger.NewPurchases(deps.Store, deps.Catalog, deps.Logger),
		checkout:       checkout.NewOrchestrator(processor, cart, deps.Store, cfg.Payments.Currency, deps.Logger),
		metrics:        metrics.NewCollector(deps.Logger, countSessions(deps.Sessions, deps.Logger)),
		ngrokService:   deps.Ngrok,
		limiter:        newClientLimiter(cfg.Server.RateLimit),
		trustedProxies: trusted,
	}
	ms.metrics.SetCatalogSize(deps.Catalog.Len())
	ms.router = ms.setupRoutes()

	return ms, nil
}

// countSessions adapts the session count for the metrics gauge, which has no
// request context and no way to report an error.
func countSessions(sessions *auth.Service, logger *logrus.Logger) func() int {
	return func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := sessions.ActiveSessions(ctx)
		if err != nil {
			logger.WithError(err).Debug("Failed to count sessions for metrics")
		}
		return n
	}
}

// Handler returns the root HTTP handler.
func (ms *StoreServer) Handler() http.Handler {
	return ms.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ms *StoreServer) Start(ctx context.Context) error {
	localAddress := fmt.Sprintf("http://%s", ms.config.GetAddress())

	ms.logger.WithFields(logrus.Fields{
		"address":     localAddress,
		"environment": ms.config.Server.Environment,
		"tracklists":  ms.catalog.Len(),
		"pages":       ms.catalog.TotalPages(),
		"payments":    ms.config.PaymentsEnabled(),
	}).Info("Crate server starting")

	if ms.ngrokService != nil {
		if err := ms.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer ms.ngrokService.Stop()
			go func() {
				ms.ngrokService.Wait()
				if ctx.Err() == nil {
					ms.logger.Warn("Ngrok tunnel closed unexpectedly")
				}
			}()
		}
	}

	ms.httpServer = &http.Server{
		Addr:         ms.config.GetAddress(),
		Handler:      ms.router,
		ReadTimeout:  time.Duration(ms.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(ms.config.Server.WriteTimeout) * time.Second,
	}

	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go ms.limiter.cleanupLoop(stopCleanup)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return ms.Shutdown()
	}
}

// Shutdown gracefully shuts down the server
func (ms *StoreServer) Shutdown() error {
	ms.logger.Info("Shutting down crate server")

	if ms.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ms.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
	}

	ms.logger.Info("Crate server shutdown complete")
	return nil
}

// publicBaseURL is where the payment processor sends buyers back to. The
// configured public URL wins, then the ngrok tunnel, then the request host.
func (ms *StoreServer) publicBaseURL(r *http.Request) string {
	if ms.config.Server.PublicURL != "" {
		return ms.config.Server.PublicURL
	}
	if url := ms.ngrokService.GetPublicURL(); url != "" {
		return url
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
