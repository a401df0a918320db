package router

import (
	"net/http"

	"bikeshop/internal/handler"
	"bikeshop/internal/middleware"

	"github.com/rs/zerolog"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Product     *handler.ProductHandler
	Order       *handler.OrderHandler
	CounterSale *handler.CounterSaleHandler
	Webhook     *handler.WebhookHandler
}

// Options configures access control on the router.
type Options struct {
	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new HTTP router with all routes and middleware configured.
func New(h Handlers, opts Options, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint (no authentication required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	limit := middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, logger)

	// Storefront
	mux.HandleFunc("GET /api/products", h.Product.GetAll)
	mux.HandleFunc("GET /api/products/{id}", h.Product.GetByID)
	mux.Handle("POST /api/checkout", limit(middleware.RequireUser(http.HandlerFunc(h.Order.Checkout))))
	mux.Handle("GET /api/orders", middleware.RequireUser(http.HandlerFunc(h.Order.ListMine)))
	mux.Handle("GET /api/orders/{id}", middleware.RequireUser(http.HandlerFunc(h.Order.GetMine)))

	// Payment gateway callbacks
	mux.Handle("POST /api/webhook", limit(http.HandlerFunc(h.Webhook.Handle)))

	// Back office
	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/orders", h.Order.List)
	admin.HandleFunc("GET /api/admin/orders/stale", h.Order.Stale)
	admin.HandleFunc("GET /api/admin/orders/{id}", h.Order.Get)
	admin.HandleFunc("PUT /api/admin/orders/{id}/status", h.Order.UpdateStatus)
	admin.HandleFunc("POST /api/admin/counter-sales", h.CounterSale.Create)
	admin.HandleFunc("GET /api/admin/counter-sales", h.CounterSale.List)
	admin.HandleFunc("GET /api/admin/counter-sales/{id}", h.CounterSale.Get)
	admin.HandleFunc("POST /api/admin/counter-sales/{id}/payments", h.CounterSale.RecordPayment)
	admin.HandleFunc("POST /api/admin/counter-sales/{id}/cancel", h.CounterSale.Cancel)
	mux.Handle("/api/admin/", middleware.APIKeyAuth(opts.APIKey, logger)(admin))

	// Apply middleware in order: Recovery -> RequestID -> Logging -> CORS
	var handler http.Handler = mux
	handler = middleware.CORS(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(logger)(handler)
	handler = middleware.Recovery(logger)(handler)

	return handler
}
