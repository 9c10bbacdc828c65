package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/middleware/ratelimit"
	"expensegrid/internal/middleware/security"
	"expensegrid/internal/middleware/trace"
)

// ExpenseAPI is the service surface the handlers call.
type ExpenseAPI interface {
	Ping(ctx context.Context) error
	ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error)
	CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error)
	UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	Reconcile(ctx context.Context, rows []core.ExpenseInput, deletedIDs []int64) ([]core.SavedExpense, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	CreateCategory(ctx context.Context, name string) (core.Category, error)
	MonthlyReport(ctx context.Context) ([]core.MonthTotal, error)
	Dashboard(ctx context.Context, year, month int) (core.MonthOverview, error)
}

// Config tunes the server. Zero values pick the defaults.
type Config struct {
	Addr               string
	CORSAllowedOrigin  string
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

// Server is the JSON API server.
type Server struct {
	http.Server
	api         ExpenseAPI
	logger      *log.Logger
	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	now         func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, api ExpenseAPI, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		api:    api,
		logger: logger.WithComponent(log.ComponentHTTP),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
		detector: security.NewDetector(),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("PUT /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /api/expenses/bulk-save", s.handleBulkSave)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)

	mux.HandleFunc("GET /api/reports/monthly", s.handleMonthlyReport)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no route for " + r.Method + " " + r.URL.Path).Write(w)
	})

	// Writes are rate limited per client; reads are not.
	var h http.Handler = mux
	h = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited,
		http.MethodPost, http.MethodPut, http.MethodDelete)(h)
	h = s.withSuspiciousRequestLogging(h)
	h = security.CORS(cfg.CORSAllowedOrigin)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) withSuspiciousRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldComponent, log.ComponentSecurity,
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldComponent, log.ComponentRateLimit,
		log.FieldClientIP, s.detector.ExtractClientIP(r))
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
}
