package models

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the catalog.
var ErrNotFound = errors.New("entity not found")

// ContentDAO looks up the advertisement contents offered in a marketplace.
// The returned slice may be empty and is not sorted by any criterion.
type ContentDAO interface {
	GetContents(ctx context.Context, marketplaceID string) ([]AdvertisementContent, error)
}

// TargetingGroupDAO looks up the targeting groups attached to a content.
// An unknown content id yields an empty slice.
type TargetingGroupDAO interface {
	GetTargetingGroups(ctx context.Context, contentID string) ([]TargetingGroup, error)
}

// catalogSnapshot is an immutable view of every marketplace's contents and
// their targeting groups.
type catalogSnapshot struct {
	contentsByMarketplace map[string][]AdvertisementContent
	groupsByContent       map[string][]TargetingGroup
	contentCount          int
	groupCount            int
}

// InMemoryCatalog implements ContentDAO and TargetingGroupDAO over an
// atomically swapped snapshot. Readers never block writers.
type InMemoryCatalog struct {
	data atomic.Pointer[catalogSnapshot]
}

var (
	_ ContentDAO        = (*InMemoryCatalog)(nil)
	_ TargetingGroupDAO = (*InMemoryCatalog)(nil)
)

// NewInMemoryCatalog creates an empty catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	c := &InMemoryCatalog{}
	c.data.Store(&catalogSnapshot{
		contentsByMarketplace: make(map[string][]AdvertisementContent),
		groupsByContent:       make(map[string][]TargetingGroup),
	})
	return c
}

// GetContents returns a copy of the contents for marketplaceID in load order.
func (c *InMemoryCatalog) GetContents(_ context.Context, marketplaceID string) ([]AdvertisementContent, error) {
	data := c.data.Load()
	items, ok := data.contentsByMarketplace[marketplaceID]
	if !ok {
		return nil, nil
	}
	result := make([]AdvertisementContent, len(items))
	copy(result, items)
	return result, nil
}

// GetTargetingGroups returns a copy of the groups attached to contentID.
func (c *InMemoryCatalog) GetTargetingGroups(_ context.Context, contentID string) ([]TargetingGroup, error) {
	data := c.data.Load()
	groups, ok := data.groupsByContent[contentID]
	if !ok {
		return nil, nil
	}
	result := make([]TargetingGroup, len(groups))
	copy(result, groups)
	return result, nil
}

// GetAllTargetingGroups returns every targeting group in the catalog.
func (c *InMemoryCatalog) GetAllTargetingGroups() []TargetingGroup {
	data := c.data.Load()
	result := make([]TargetingGroup, 0, data.groupCount)
	for _, groups := range data.groupsByContent {
		result = append(result, groups...)
	}
	return result
}

// Counts returns the number of contents and targeting groups loaded.
func (c *InMemoryCatalog) Counts() (contents, groups int) {
	data := c.data.Load()
	return data.contentCount, data.groupCount
}

// ReloadAll atomically replaces the catalog. Content ids must be unique and
// every group must reference a loaded content.
func (c *InMemoryCatalog) ReloadAll(contents []AdvertisementContent, groups []TargetingGroup) error {
	byMarketplace := make(map[string][]AdvertisementContent)
	known := make(map[string]struct{}, len(contents))
	for _, ct := range contents {
		if ct.ContentID == "" {
			return fmt.Errorf("content with empty id in marketplace %q", ct.MarketplaceID)
		}
		if _, dup := known[ct.ContentID]; dup {
			return fmt.Errorf("duplicate content id %q", ct.ContentID)
		}
		known[ct.ContentID] = struct{}{}
		byMarketplace[ct.MarketplaceID] = append(byMarketplace[ct.MarketplaceID], ct)
	}

	byContent := make(map[string][]TargetingGroup)
	for _, g := range groups {
		if _, ok := known[g.ContentID]; !ok {
			return fmt.Errorf("targeting group %s references unknown content %q: %w", g.TargetingGroupID, g.ContentID, ErrNotFound)
		}
		byContent[g.ContentID] = append(byContent[g.ContentID], g)
	}

	c.data.Store(&catalogSnapshot{
		contentsByMarketplace: byMarketplace,
		groupsByContent:       byContent,
		contentCount:          len(contents),
		groupCount:            len(groups),
	})
	return nil
}

// UpdateClickThroughRates applies new CTR values keyed by targeting group id
// in a single snapshot swap. Unknown ids are ignored.
func (c *InMemoryCatalog) UpdateClickThroughRates(updates map[string]float64) error {
	if len(updates) == 0 {
		return nil
	}

	current := c.data.Load()

	newGroups := make(map[string][]TargetingGroup, len(current.groupsByContent))
	for contentID, groups := range current.groupsByContent {
		needCopy := false
		for i := range groups {
			if _, ok := updates[groups[i].TargetingGroupID]; ok {
				needCopy = true
				break
			}
		}
		if !needCopy {
			newGroups[contentID] = groups
			continue
		}

		copied := make([]TargetingGroup, len(groups))
		copy(copied, groups)
		for i := range copied {
			if ctr, ok := updates[copied[i].TargetingGroupID]; ok {
				if ctr < 0 {
					return fmt.Errorf("negative click-through rate %f for targeting group %s", ctr, copied[i].TargetingGroupID)
				}
				copied[i].ClickThroughRate = ctr
			}
		}
		newGroups[contentID] = copied
	}

	c.data.Store(&catalogSnapshot{
		contentsByMarketplace: current.contentsByMarketplace,
		groupsByContent:       newGroups,
		contentCount:          current.contentCount,
		groupCount:            current.groupCount,
	})
	return nil
}
