package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
)

// CatalogSource provides the raw catalog rows. *Postgres implements it.
type CatalogSource interface {
	LoadContents(ctx context.Context) ([]models.AdvertisementContent, error)
	LoadTargetingGroups(ctx context.Context) ([]models.TargetingGroup, error)
}

// LoadResult summarises a catalog load.
type LoadResult struct {
	Contents          int
	TargetingGroups   int
	MissingPredicates []string
}

// LoadCatalog reads contents and targeting groups from src, resolves each
// group's predicate names through registry and atomically replaces the
// catalog. Unknown predicate names are reported and leave their group
// unsatisfiable; they do not fail the load.
func LoadCatalog(ctx context.Context, src CatalogSource, registry *models.PredicateRegistry, catalog *models.InMemoryCatalog, logger *zap.Logger) (LoadResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	contents, err := src.LoadContents(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load contents: %w", err)
	}
	groups, err := src.LoadTargetingGroups(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load targeting groups: %w", err)
	}

	seen := make(map[string]struct{})
	var missing []string
	for i := range groups {
		g := &groups[i]
		preds, unknown := registry.Resolve(g.PredicateNames)
		g.Predicates = preds
		for _, name := range unknown {
			logger.Warn("targeting group references unknown predicate",
				zap.String("targeting_group_id", g.TargetingGroupID),
				zap.String("predicate", name))
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}

	if err := catalog.ReloadAll(contents, groups); err != nil {
		return LoadResult{}, fmt.Errorf("populate catalog: %w", err)
	}

	logger.Info("catalog loaded",
		zap.Int("contents", len(contents)),
		zap.Int("targeting_groups", len(groups)),
		zap.Int("missing_predicates", len(missing)))
	return LoadResult{Contents: len(contents), TargetingGroups: len(groups), MissingPredicates: missing}, nil
}
