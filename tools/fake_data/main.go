package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/config"
	"github.com/patrickwarner/adselection/internal/db"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

var (
	marketplaces   = flag.String("marketplaces", "US,DE,JP", "comma separated marketplace ids")
	contentsPerMkt = flag.Int("contents", 20, "advertisement contents per marketplace")
	groupsPerCont  = flag.Int("groups", 3, "targeting groups per content")
	seed           = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	reset          = flag.Bool("reset", false, "delete existing catalog rows first")
	skipReload     = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

// predicateMix lists the built-in predicate names used for generated groups,
// weighted towards groups that can serve.
var predicateMix = []string{"always", "always", "always", "never", "indeterminate"}

var products = []string{
	"Trail Running Shoes", "Noise Cancelling Headphones", "Cast Iron Skillet",
	"Espresso Machine", "Standing Desk", "Mechanical Keyboard", "Yoga Mat",
	"Smart Thermostat", "Camping Hammock", "Electric Toothbrush",
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	cfg := config.Load()
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	if *reset {
		if _, err := pg.DB.ExecContext(ctx, `TRUNCATE targeting_groups, advertisement_contents RESTART IDENTITY`); err != nil {
			logger.Fatal("reset catalog", zap.Error(err))
		}
	}

	r := rand.New(rand.NewSource(*seed))
	runID := randomString(r, 6)

	var contents, groups int
	for _, mkt := range strings.Split(*marketplaces, ",") {
		mkt = strings.TrimSpace(mkt)
		if mkt == "" {
			continue
		}
		for c := 0; c < *contentsPerMkt; c++ {
			content := fakeContent(r, runID, mkt, c)
			if err := pg.InsertContent(ctx, content); err != nil {
				logger.Fatal("insert content", zap.Error(err))
			}
			contents++

			for g := 0; g < *groupsPerCont; g++ {
				if err := pg.InsertTargetingGroup(ctx, fakeGroup(r, content.ContentID, g)); err != nil {
					logger.Fatal("insert targeting group", zap.Error(err))
				}
				groups++
			}
		}
	}
	logger.Info("catalog seeded",
		zap.Int("contents", contents),
		zap.Int("targeting_groups", groups),
		zap.Int64("seed", *seed))

	if !*skipReload && cfg.OpsAddr != "" {
		if err := callReloadEndpoint(cfg.OpsAddr); err != nil {
			logger.Warn("reload after seeding failed", zap.Error(err))
		}
	}
}

func fakeContent(r *rand.Rand, runID, marketplaceID string, idx int) models.AdvertisementContent {
	product := products[r.Intn(len(products))]
	id := fmt.Sprintf("%s-%s-%03d", strings.ToLower(marketplaceID), runID, idx)
	return models.AdvertisementContent{
		ContentID:         id,
		MarketplaceID:     marketplaceID,
		RenderableContent: fmt.Sprintf(`<div class="ad" data-content="%s"><h3>%s</h3><p>%d%% off this week</p></div>`, id, product, 5+r.Intn(40)),
	}
}

func fakeGroup(r *rand.Rand, contentID string, idx int) models.TargetingGroup {
	n := r.Intn(3)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, predicateMix[r.Intn(len(predicateMix))])
	}
	return models.TargetingGroup{
		TargetingGroupID: fmt.Sprintf("%s-g%d", contentID, idx),
		ContentID:        contentID,
		ClickThroughRate: float64(r.Intn(1000)) / 10000,
		PredicateNames:   names,
	}
}

func randomString(r *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

func callReloadEndpoint(opsAddr string) error {
	host := opsAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	req, err := http.NewRequest(http.MethodPost, "http://"+host+"/reload", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
