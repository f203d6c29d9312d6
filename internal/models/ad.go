package models

// AdvertisementContent is a renderable advertisement offered in a single
// marketplace. Contents are loaded once per catalog reload and never mutated.
type AdvertisementContent struct {
	ContentID     string `json:"content_id"`     // Unique identifier for the content.
	MarketplaceID string `json:"marketplace_id"` // Marketplace the content is rendered on.
	// RenderableContent is the opaque payload handed to the renderer (HTML,
	// a template reference, native JSON). Selection never inspects it.
	RenderableContent string `json:"renderable_content"`
}

// GeneratedAdvertisement is the outcome of a selection call. It either wraps
// the chosen content or is empty, meaning no advertisement should be shown.
type GeneratedAdvertisement struct {
	Content *AdvertisementContent `json:"content,omitempty"`
}

// EmptyAdvertisement returns the "no ad selected" result.
func EmptyAdvertisement() GeneratedAdvertisement {
	return GeneratedAdvertisement{}
}

// NewGeneratedAdvertisement wraps the chosen content. A copy is taken so the
// result does not alias catalog memory.
func NewGeneratedAdvertisement(content AdvertisementContent) GeneratedAdvertisement {
	c := content
	return GeneratedAdvertisement{Content: &c}
}

// IsEmpty reports whether no advertisement was selected.
func (g GeneratedAdvertisement) IsEmpty() bool {
	return g.Content == nil
}

// ContentID returns the selected content id, or "" for the empty result.
func (g GeneratedAdvertisement) ContentID() string {
	if g.Content == nil {
		return ""
	}
	return g.Content.ContentID
}
