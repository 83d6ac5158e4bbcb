package server

import (
	"net/http"

	"crate/internal/access"

	"github.com/go-chi/chi/v5"
)

func (ms *StoreServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(ms.panicRecoveryMiddleware)
	r.Use(ms.requestLoggingMiddleware)
	r.Use(ms.httpsRedirectMiddleware)
	r.Use(ms.securityHeadersMiddleware)
	r.Use(ms.corsMiddleware)
	r.Use(ms.sessionMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ms.respondWithError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", ms.handleHealthCheck)
	r.Method(http.MethodGet, "/metrics", ms.metrics.Handler())

	r.Get("/", ms.handleHome)
	r.Get("/api/config", ms.handleGetConfig)
	r.With(ms.authorize(access.OpListPage)).Get("/api/tracklists", ms.handleListPage)
	r.Post("/logout", ms.handleLogout)
	r.With(ms.authorize(access.OpSetTheme)).Post("/api/theme", ms.handleSetTheme)

	r.With(ms.rateLimitMiddleware).Get("/login", ms.handleLogin)

	r.With(ms.authorize(access.OpViewTracks)).Get("/tracks", ms.handleTracks)
	r.With(ms.authorize(access.OpViewTracks)).Get("/toc", ms.handleTOC)

	r.With(ms.authorize(access.OpCart)).Get("/api/cart", ms.handleGetCart)
	r.With(ms.authorize(access.OpAddToCart)).Post("/add-to-cart", ms.handleAddToCart)
	r.With(ms.authorize(access.OpAddAllToCart)).Post("/api/cart/add-all", ms.handleAddAllToCart)
	r.With(ms.authorize(access.OpClearCart)).Post("/api/cart/clear", ms.handleClearCart)
	r.With(ms.authorize(access.OpPurchaseTracklist)).Post("/purchase", ms.handlePurchase)

	r.With(ms.rateLimitMiddleware, ms.authorize(access.OpCheckout)).Get("/checkout", ms.handleCheckout)
	r.With(ms.rateLimitMiddleware, ms.authorize(access.OpConfirmCheckout)).Get("/success", ms.handleCheckoutSuccess)

	return r
}
