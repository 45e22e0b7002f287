package youtube

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"link-embed/internal/domain/entity"
	"link-embed/internal/infra/fetcher"
)

// OEmbedEndpoint is queried for video titles when the page gave none.
const OEmbedEndpoint = "https://www.youtube.com/oembed"

// PageFetcher retrieves a document. *fetcher.HTTPFetcher satisfies it.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

// Enricher fills the gaps the generic extractor leaves on YouTube pages.
type Enricher struct {
	fetcher PageFetcher
	logger  *slog.Logger
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithOEmbed lets the Enricher query the oEmbed endpoint through f.
// Without it, video titles are only taken from the page itself.
func WithOEmbed(f PageFetcher) EnricherOption {
	return func(e *Enricher) {
		e.fetcher = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// NewEnricher creates an Enricher.
func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns base with YouTube-specific values applied. requestedURL is the
// normalized URL the page was fetched for. Non-YouTube URLs return base unchanged.
// Values found here override the generic ones when non-empty.
func (e *Enricher) Enrich(ctx context.Context, html, requestedURL string, base entity.MetadataRecord) entity.MetadataRecord {
	if !IsYouTubeURL(requestedURL) {
		return base
	}

	if label := ExtractChannelLabel(requestedURL); label != "" {
		return e.enrichChannel(html, requestedURL, label, base)
	}
	if id := ExtractVideoID(requestedURL); id != "" {
		return e.enrichVideo(ctx, requestedURL, id, base)
	}
	return base
}

func (e *Enricher) enrichChannel(html, requestedURL, label string, base entity.MetadataRecord) entity.MetadataRecord {
	meta, ok := ExtractChannelFromJSONLD(html)
	source := "json-ld"
	if !ok {
		meta, ok = ExtractChannelFromInitialData(html)
		source = "initial-data"
	}

	if ok {
		e.logger.Debug("youtube channel metadata found",
			slog.String("url", requestedURL),
			slog.String("source", source))
		return apply(base, meta)
	}

	// 構造化データが無く汎用タグも取れなかった場合は仮のレコードにする
	if base.Title == requestedURL || base.Title == "" {
		base.Title = label + " - YouTube"
		base.Description = PlaceholderDescriptions[0]
		base.Image = ""
	}
	if base.SiteName == "" {
		base.SiteName = "YouTube"
	}
	return base
}

func (e *Enricher) enrichVideo(ctx context.Context, requestedURL, id string, base entity.MetadataRecord) entity.MetadataRecord {
	if !base.HasImage() {
		base.Image = ThumbnailURL(id)
	}
	if base.SiteName == "" {
		base.SiteName = "YouTube"
	}
	if base.Title != requestedURL || e.fetcher == nil {
		return base
	}

	oembed, err := e.fetchOEmbed(ctx, requestedURL)
	if err != nil {
		e.logger.Debug("youtube oembed lookup failed",
			slog.String("url", requestedURL),
			slog.Any("error", err))
		return base
	}
	if oembed.Title != "" {
		base.Title = oembed.Title
	}
	if oembed.ThumbnailURL != "" {
		base.Image = oembed.ThumbnailURL
	}
	if base.Description == "" && oembed.AuthorName != "" {
		base.Description = oembed.AuthorName
	}
	return base
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (e *Enricher) fetchOEmbed(ctx context.Context, videoURL string) (oembedResponse, error) {
	q := url.Values{}
	q.Set("url", videoURL)
	q.Set("format", "json")

	page, err := e.fetcher.Get(ctx, OEmbedEndpoint+"?"+q.Encode())
	if err != nil {
		return oembedResponse{}, err
	}

	var resp oembedResponse
	if err := json.Unmarshal([]byte(page.HTML), &resp); err != nil {
		return oembedResponse{}, err
	}
	resp.Title = strings.TrimSpace(resp.Title)
	resp.AuthorName = strings.TrimSpace(resp.AuthorName)
	if !entity.IsAbsoluteHTTPURL(resp.ThumbnailURL) {
		resp.ThumbnailURL = ""
	}
	return resp, nil
}

func apply(base entity.MetadataRecord, meta ChannelMetadata) entity.MetadataRecord {
	if meta.Title != "" {
		base.Title = meta.Title
	}
	if meta.Description != "" {
		base.Description = meta.Description
	}
	if meta.Image != "" && entity.IsAbsoluteHTTPURL(meta.Image) {
		base.Image = meta.Image
	}
	if base.SiteName == "" {
		base.SiteName = "YouTube"
	}
	return base
}
