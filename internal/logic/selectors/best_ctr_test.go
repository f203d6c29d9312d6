package selectors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/workerpool"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

func TestBestCTR_SingleContentNoPredicates(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US", RenderableContent: "<p>one</p>"}},
		[]models.TargetingGroup{{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.5}},
	)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	require.False(t, ad.IsEmpty())
	assert.Equal(t, "C1", ad.ContentID())
	assert.Equal(t, "<p>one</p>", ad.Content.RenderableContent)
}

func TestBestCTR_SkipsIneligibleContent(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.9, Predicates: preds(models.PredicateFalse, models.PredicateFalse)},
			{TargetingGroupID: "G2", ContentID: "C2", ClickThroughRate: 0.3, Predicates: preds(models.PredicateTrue, models.PredicateTrue)},
		},
	)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	assert.Equal(t, "C2", ad.ContentID())
}

func TestBestCTR_PicksHighestCTR(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.2},
			{TargetingGroupID: "G2", ContentID: "C2", ClickThroughRate: 0.8},
		},
	)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))

	for i := 0; i < 5; i++ {
		ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
		require.NoError(t, err)
		assert.Equal(t, "C2", ad.ContentID())
	}
}

func TestBestCTR_UsesBestEligibleGroupOnly(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			// C1's high CTR group is not eligible, so C1 scores 0.1
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.95, Predicates: preds(models.PredicateIndeterminate)},
			{TargetingGroupID: "G2", ContentID: "C1", ClickThroughRate: 0.1},
			{TargetingGroupID: "G3", ContentID: "C2", ClickThroughRate: 0.3},
			{TargetingGroupID: "G4", ContentID: "C2", ClickThroughRate: 0.6},
		},
	)
	sel := NewBestCTRSelector(cat, cat, nil)

	trace := &logic.SelectionTrace{}
	ad, err := sel.SelectAdvertisementWithTrace(context.Background(), "cust-1", "US", trace)
	require.NoError(t, err)
	assert.Equal(t, "C2", ad.ContentID())

	require.Len(t, trace.Steps, 3)
	assert.NotEmpty(t, trace.SelectionID)
	assert.Equal(t, []string{"C1", "C2"}, trace.Steps[0].ContentIDs)
	assert.Equal(t, "G4", trace.Steps[2].Details["targeting_group_id"])
	assert.Equal(t, "0.6", trace.Steps[2].Details["click_through_rate"])
}

func TestBestCTR_TieKeepsFirstContent(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.5},
			{TargetingGroupID: "G2", ContentID: "C2", ClickThroughRate: 0.5},
		},
	)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	assert.Equal(t, "C1", ad.ContentID())
}

func TestBestCTR_ContentWithoutGroupsIsIneligible(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{{TargetingGroupID: "G2", ContentID: "C2", ClickThroughRate: 0.01}},
	)
	cat.missingGroups = map[string]bool{"C2": true}
	sel := NewBestCTRSelector(cat, cat, nil)

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	assert.True(t, ad.IsEmpty())
}

func TestBestCTR_EmptyMarketplace(t *testing.T) {
	cat := newTestCatalog(t, nil, nil)
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := observability.NewMockMetricsRegistry()

	sel := NewBestCTRSelector(cat, cat, newTestPool(t))
	sel.SetLogger(zap.New(core))
	sel.SetMetrics(metrics)

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "")
	require.NoError(t, err)
	assert.True(t, ad.IsEmpty())

	contentCalls, groupCalls := cat.calls()
	assert.Zero(t, contentCalls)
	assert.Zero(t, groupCalls)
	assert.Equal(t, 1, logs.FilterMessageSnippet("marketplace id is empty").Len())
	assert.Equal(t, 1, metrics.SelectionCount("best_ctr", OutcomeInvalidInput))
}

func TestBestCTR_NoContentSkipsGroupLookups(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "DE"}},
		[]models.TargetingGroup{{TargetingGroupID: "G1", ContentID: "C1"}},
	)
	core, logs := observer.New(zapcore.WarnLevel)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))
	sel.SetLogger(zap.New(core))

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	assert.True(t, ad.IsEmpty())

	contentCalls, groupCalls := cat.calls()
	assert.Equal(t, 1, contentCalls)
	assert.Zero(t, groupCalls)
	assert.Equal(t, 1, logs.FilterMessageSnippet("no advertisement content").Len())
}

func TestBestCTR_NoEligibleContent(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}},
		[]models.TargetingGroup{{TargetingGroupID: "G1", ContentID: "C1", Predicates: preds(models.PredicateTrue, models.PredicateIndeterminate)}},
	)
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := observability.NewMockMetricsRegistry()
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))
	sel.SetLogger(zap.New(core))
	sel.SetMetrics(metrics)

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.NoError(t, err)
	assert.True(t, ad.IsEmpty())
	assert.Equal(t, 1, logs.FilterMessageSnippet("no eligible advertisement").Len())
	assert.Equal(t, 1, metrics.SelectionCount("best_ctr", OutcomeNoEligible))
}

func TestBestCTR_PredicateFaultFailsSelection(t *testing.T) {
	fault := errors.New("segment service timeout")
	faulty := models.PredicateFunc(func(context.Context, models.RequestContext) (models.PredicateResult, error) {
		return models.PredicateIndeterminate, fault
	})
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.9},
			{TargetingGroupID: "G2", ContentID: "C2", Predicates: []models.TargetingPredicate{faulty}},
		},
	)
	core, logs := observer.New(zapcore.ErrorLevel)
	sel := NewBestCTRSelector(cat, cat, newTestPool(t))
	sel.SetLogger(zap.New(core))

	ad, err := sel.SelectAdvertisement(context.Background(), "cust-1", "US")
	require.Error(t, err)
	assert.True(t, ad.IsEmpty())
	assert.ErrorIs(t, err, fault)

	var predErr *logic.PredicateEvaluationError
	require.ErrorAs(t, err, &predErr)
	assert.Equal(t, "C2", predErr.ContentID)
	assert.Equal(t, 1, logs.FilterMessageSnippet("targeting predicate failed").Len())
}

func TestBestCTR_DAOErrorsPropagate(t *testing.T) {
	down := errors.New("catalog unavailable")

	cat := newTestCatalog(t, []models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}}, nil)
	cat.contentsErr = down
	_, err := NewBestCTRSelector(cat, cat, nil).SelectAdvertisement(context.Background(), "cust-1", "US")
	assert.ErrorIs(t, err, down)

	cat = newTestCatalog(t, []models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}}, nil)
	cat.groupsErr = down
	_, err = NewBestCTRSelector(cat, cat, nil).SelectAdvertisement(context.Background(), "cust-1", "US")
	assert.ErrorIs(t, err, down)
}

func TestBestCTR_GroupErrorAfterEarlierContentsEvaluated(t *testing.T) {
	down := errors.New("targeting store timeout")
	var evaluated atomic.Int64
	counting := models.PredicateFunc(func(context.Context, models.RequestContext) (models.PredicateResult, error) {
		evaluated.Add(1)
		return models.PredicateTrue, nil
	})

	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}, {ContentID: "C2", MarketplaceID: "US"}},
		[]models.TargetingGroup{
			{TargetingGroupID: "G1", ContentID: "C1", ClickThroughRate: 0.9, Predicates: []models.TargetingPredicate{counting}},
			{TargetingGroupID: "G2", ContentID: "C2", ClickThroughRate: 0.1},
		},
	)
	cat.groupErrs = map[string]error{"C2": down}

	ad, err := NewBestCTRSelector(cat, cat, newTestPool(t)).SelectAdvertisement(context.Background(), "cust-1", "US")
	assert.ErrorIs(t, err, down)
	assert.True(t, ad.IsEmpty(), "an eligible earlier content must not be returned")
	assert.Equal(t, int64(1), evaluated.Load())
}

func TestBestCTR_PoolShutDown(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}},
		[]models.TargetingGroup{{TargetingGroupID: "G1", ContentID: "C1", Predicates: preds(models.PredicateTrue)}},
	)
	pool := workerpool.New(2, 4, nil, nil)
	require.NoError(t, pool.Shutdown(context.Background()))

	ad, err := NewBestCTRSelector(cat, cat, pool).SelectAdvertisement(context.Background(), "cust-1", "US")
	assert.ErrorIs(t, err, workerpool.ErrPoolClosed)
	assert.True(t, ad.IsEmpty())
}

func TestBestCTR_ParallelMatchesSequential(t *testing.T) {
	var contents []models.AdvertisementContent
	var groups []models.TargetingGroup
	ctrs := []float64{0.1, 0.7, 0.3, 0.7, 0.05, 0.2, 0.65, 0.4}
	for i, ctr := range ctrs {
		id := string(rune('A' + i))
		contents = append(contents, models.AdvertisementContent{ContentID: id, MarketplaceID: "US"})
		result := models.PredicateTrue
		if i%3 == 1 {
			// B is ineligible, leaving D as the first 0.7
			result = models.PredicateFalse
		}
		groups = append(groups, models.TargetingGroup{
			TargetingGroupID: "G" + id, ContentID: id, ClickThroughRate: ctr, Predicates: preds(result),
		})
	}
	cat := newTestCatalog(t, contents, groups)
	pool := newTestPool(t)

	sequential := NewBestCTRSelector(cat, cat, pool)
	parallel := NewBestCTRSelector(cat, cat, pool)
	parallel.SetParallelism(4)

	for i := 0; i < 10; i++ {
		seqTrace, parTrace := &logic.SelectionTrace{}, &logic.SelectionTrace{}
		want, err := sequential.SelectAdvertisementWithTrace(context.Background(), "cust-1", "US", seqTrace)
		require.NoError(t, err)
		got, err := parallel.SelectAdvertisementWithTrace(context.Background(), "cust-1", "US", parTrace)
		require.NoError(t, err)

		assert.Equal(t, "D", want.ContentID())
		assert.Equal(t, want.ContentID(), got.ContentID())
		assert.Equal(t, seqTrace.Steps[1], parTrace.Steps[1])
	}
}

func TestBestCTR_CallerCancellation(t *testing.T) {
	cat := newTestCatalog(t,
		[]models.AdvertisementContent{{ContentID: "C1", MarketplaceID: "US"}},
		[]models.TargetingGroup{{TargetingGroupID: "G1", ContentID: "C1", Predicates: preds(models.PredicateTrue)}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBestCTRSelector(cat, cat, newTestPool(t)).SelectAdvertisement(ctx, "cust-1", "US")
	assert.ErrorIs(t, err, context.Canceled)
}
