package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/api"
	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/selectors"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

type options struct {
	customerID    string
	marketplaceID string
	batch         bool
	trace         bool
	serve         bool
	policy        string
}

func main() {
	var opts options
	flag.StringVar(&opts.customerID, "customer", "", "customer id")
	flag.StringVar(&opts.marketplaceID, "marketplace", "", "marketplace id")
	flag.BoolVar(&opts.batch, "batch", false, "read customer,marketplace lines from stdin")
	flag.BoolVar(&opts.trace, "trace", false, "include the selection trace in the output")
	flag.BoolVar(&opts.serve, "serve", false, "keep running: reload the catalog periodically and serve OPS_ADDR until interrupted")
	flag.StringVar(&opts.policy, "policy", "", "selection policy override (best_ctr or random)")
	flag.Parse()

	cfg := config.Load()
	if opts.policy != "" {
		cfg.SelectionPolicy = opts.policy
	}

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg, opts, os.Stdin, os.Stdout); err != nil {
		logger.Error("adselect failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config, opts options, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.Environment, cfg.TracingSampleRate)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer shutdown()
		}
	}

	metrics := observability.NewPrometheusRegistry()

	pool := workerpool.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger, metrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PoolShutdownTimeout)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker pool shutdown", zap.Error(err))
		}
	}()

	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	var store *db.RedisStore
	if cfg.RedisAddr != "" {
		store, err = db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()
	}

	var analyticsSvc *analytics.Analytics
	if cfg.AnalyticsEnabled {
		analyticsSvc, err = analytics.InitClickHouse(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer analyticsSvc.Close()
	}

	catalog := models.NewInMemoryCatalog()
	registry := models.NewPredicateRegistry()
	ops := api.NewServer(logger, catalog, pg, registry, store, analyticsSvc, pool, metrics, cfg)
	if _, err := ops.Reload(ctx); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	selOpts := selectors.Options{
		Logger:      logger,
		Metrics:     metrics,
		Parallelism: cfg.SelectionParallelism,
		Seed:        cfg.SelectionSeed,
	}
	if analyticsSvc != nil {
		selOpts.Recorder = analyticsSvc
	}
	if store != nil {
		selOpts.Tracker = store
	}
	selector, err := selectors.New(cfg.SelectionPolicy, catalog, catalog, pool, selOpts)
	if err != nil {
		return err
	}

	if cfg.OpsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           ops.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("ops listener running", zap.String("addr", cfg.OpsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops listener", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if opts.serve {
		return serve(ctx, logger, cfg, ops)
	}

	return writeSelections(ctx, selector, opts, in, out)
}

// writeSelections prints one JSON line per selection. A hard selection
// failure is returned as an error so the process exits non-zero; in batch
// mode every line is still processed first.
func writeSelections(ctx context.Context, selector selectors.TraceableSelector, opts options, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	if !opts.batch {
		res, selErr := selectOne(ctx, selector, opts.customerID, opts.marketplaceID, opts.trace)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if selErr != nil {
			return fmt.Errorf("select advertisement: %w", selErr)
		}
		return nil
	}

	failed := 0
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		customerID, marketplaceID, _ := strings.Cut(line, ",")
		res, selErr := selectOne(ctx, selector, strings.TrimSpace(customerID), strings.TrimSpace(marketplaceID), opts.trace)
		if selErr != nil {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d selections failed", failed)
	}
	return nil
}

// serve keeps the catalog fresh until ctx is cancelled.
func serve(ctx context.Context, logger *zap.Logger, cfg config.Config, ops *api.Server) error {
	if cfg.ReloadInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(cfg.ReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := ops.Reload(ctx); err != nil {
				logger.Error("auto reload", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}

// selectionResult is one line of JSON output.
type selectionResult struct {
	CustomerID        string                `json:"customer_id"`
	MarketplaceID     string                `json:"marketplace_id"`
	ContentID         string                `json:"content_id,omitempty"`
	RenderableContent string                `json:"renderable_content,omitempty"`
	Empty             bool                  `json:"empty"`
	Error             string                `json:"error,omitempty"`
	Trace             *logic.SelectionTrace `json:"trace,omitempty"`
}

// selectOne runs a single selection. The returned error is the hard selection
// failure, if any, also reported in the result's Error field.
func selectOne(ctx context.Context, selector selectors.TraceableSelector, customerID, marketplaceID string, withTrace bool) (selectionResult, error) {
	res := selectionResult{CustomerID: customerID, MarketplaceID: marketplaceID}

	var trace *logic.SelectionTrace
	if withTrace {
		trace = &logic.SelectionTrace{}
		res.Trace = trace
	}

	ad, err := selector.SelectAdvertisementWithTrace(ctx, customerID, marketplaceID, trace)
	if err != nil {
		res.Error = err.Error()
	}
	res.Empty = ad.IsEmpty()
	if !ad.IsEmpty() {
		res.ContentID = ad.Content.ContentID
		res.RenderableContent = ad.Content.RenderableContent
	}
	return res, err
}
