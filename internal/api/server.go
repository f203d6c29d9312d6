package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/middleware"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// SelectionLookup fetches a recorded selection decision. *analytics.Analytics
// implements it.
type SelectionLookup interface {
	GetSelection(ctx context.Context, selectionID string) (*analytics.SelectionEvent, error)
}

// Server groups dependencies for the operational HTTP handlers. It never
// serves selections itself.
type Server struct {
	Logger    *zap.Logger
	Catalog   *models.InMemoryCatalog
	Source    db.CatalogSource
	Registry  *models.PredicateRegistry
	Store     *db.RedisStore
	Analytics SelectionLookup
	Pool      *workerpool.Pool
	Metrics   observability.MetricsRegistry
	Config    config.Config
	reloadMu  sync.Mutex
}

// NewServer constructs a Server. Store, analytics and pool may be nil.
func NewServer(logger *zap.Logger, catalog *models.InMemoryCatalog, source db.CatalogSource, registry *models.PredicateRegistry,
	store *db.RedisStore, lookup SelectionLookup, pool *workerpool.Pool, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if registry == nil {
		registry = models.NewPredicateRegistry()
	}
	return &Server{
		Logger:    logger,
		Catalog:   catalog,
		Source:    source,
		Registry:  registry,
		Store:     store,
		Analytics: lookup,
		Pool:      pool,
		Metrics:   metrics,
		Config:    cfg,
	}
}

// Reload refreshes contents and targeting groups from the catalog source and
// then recomputes click-through rates.
func (s *Server) Reload(ctx context.Context) (db.LoadResult, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.Source == nil {
		s.Metrics.IncrementCatalogReloads("error")
		return db.LoadResult{}, fmt.Errorf("catalog source unavailable")
	}

	res, err := db.LoadCatalog(ctx, s.Source, s.Registry, s.Catalog, s.Logger)
	if err != nil {
		s.Metrics.IncrementCatalogReloads("error")
		return db.LoadResult{}, err
	}
	s.Metrics.IncrementCatalogReloads("success")
	s.Metrics.SetCatalogSize(s.Catalog.Counts())

	s.UpdateCTR(ctx)
	return res, nil
}

// UpdateCTR recalculates targeting group click-through rates from Redis.
// Failures are logged and leave the stored rates in place.
func (s *Server) UpdateCTR(ctx context.Context) {
	if s.Store == nil || s.Store.Client == nil {
		return
	}
	if _, err := logic.RefreshCTR(ctx, s.Store, s.Catalog, s.Config.CTRSmoothingWeight, s.Config.CTRDefault, s.Metrics, s.Logger); err != nil {
		s.Logger.Warn("ctr refresh failed", zap.Error(err))
	}
}

// NewRouter registers the operational routes.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.Use(middleware.WithRequestMetrics(s.Metrics))

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.ReloadHandler).Methods(http.MethodPost)
	r.HandleFunc("/click/{targetingGroupID}", s.ClickHandler).Methods(http.MethodPost)
	r.HandleFunc("/selections/{id}", s.SelectionHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler returns the router wrapped with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.NewRouter(), "ops")
}
