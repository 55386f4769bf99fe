// Package enrich attaches stored knowledge (encyclopedia extracts, structured
// claims, visual tags, media assets) to viewpoints. Missing payloads are
// simply absent; only storage failures surface as errors.
package enrich

import (
	"context"
	"fmt"

	"tourrag/pkg/geo"
	"tourrag/pkg/model"
	"tourrag/pkg/store"
	"tourrag/pkg/wikitext"
)

const (
	nearbyRadiusKm = 50
	nearbyLimit    = 5
)

// Source is the storage surface the enricher reads from.
type Source interface {
	store.EntityStore
	store.WikiStore
	store.WikidataStore
	store.AssetStore
	store.VisualTagStore
	store.SummaryStore
}

// Enricher reads enrichment payloads for viewpoints.
type Enricher struct {
	store Source
}

// New creates an enricher over the given storage.
func New(st Source) *Enricher {
	return &Enricher{store: st}
}

// Wikipedia returns the stored encyclopedia payload with the extract cleaned
// to plain prose, or nil when none exists.
func (e *Enricher) Wikipedia(ctx context.Context, id int64) (*model.WikiEntry, error) {
	entry, err := e.store.GetWiki(ctx, id)
	if err != nil || entry == nil {
		return nil, err
	}
	entry.Extract = wikitext.Clean(entry.Extract)
	return entry, nil
}

// Wikidata returns the stored structured claims, or nil when none exist.
func (e *Enricher) Wikidata(ctx context.Context, id int64) (*model.WikidataEntry, error) {
	return e.store.GetWikidata(ctx, id)
}

// VisualTags returns the per-season tag blocks for a viewpoint, the requested
// season first.
func (e *Enricher) VisualTags(ctx context.Context, id int64, season string) ([]model.VisualTagInfo, error) {
	records, err := e.store.GetVisualTags(ctx, id, season)
	if err != nil {
		return nil, err
	}

	infos := make([]model.VisualTagInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, model.VisualTagInfo{
			Season:     rec.Season,
			Tags:       rec.Tags,
			Confidence: rec.Confidence,
			Source:     rec.Source,
			Evidence:   rec.Evidence,
		})
	}
	return infos, nil
}

// Assets returns media assets for a viewpoint. When an asset carries its own
// geotag, its distance from the viewpoint is computed.
func (e *Enricher) Assets(ctx context.Context, id int64, limit int, includeBytes bool) ([]*model.MediaAsset, error) {
	assets, err := e.store.GetAssets(ctx, id, limit, includeBytes)
	if err != nil || len(assets) == 0 {
		return assets, err
	}

	vp, err := e.store.GetViewpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if vp != nil {
		for _, a := range assets {
			if a.Lat != nil && a.Lon != nil {
				d := geo.DistanceM(vp.Lat, vp.Lon, *a.Lat, *a.Lon)
				a.DistanceM = &d
			}
		}
	}
	return assets, nil
}

// HistoricalSummary returns prose about the viewpoint's history with its
// provenance. The encyclopedia extract is preferred; the offline-generated
// summary is the fallback. No payload at all returns empty values.
func (e *Enricher) HistoricalSummary(ctx context.Context, id int64) (string, []model.Evidence, error) {
	wiki, err := e.Wikipedia(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if wiki != nil && wiki.Extract != "" {
		evidence := []model.Evidence{{
			Source:    "wikipedia",
			Reference: fmt.Sprintf("%s (%s)", wiki.Title, wiki.Lang),
		}}
		for _, c := range wiki.Citations {
			evidence = append(evidence, model.Evidence{
				Source:    "wikipedia_citation",
				Reference: c.Ref,
				Text:      c.Text,
			})
		}
		return wiki.Extract, evidence, nil
	}

	summary, err := e.store.GetAISummary(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if summary != nil && summary.HistorySummary != "" {
		return summary.HistorySummary, []model.Evidence{{
			Source:    "ai_summary",
			Reference: summary.Source,
		}}, nil
	}

	return "", nil, nil
}

// Bundle is everything known about one viewpoint, for the detail endpoint.
type Bundle struct {
	Viewpoint  *model.Viewpoint      `json:"viewpoint"`
	Wiki       *model.WikiEntry      `json:"wiki,omitempty"`
	Wikidata   *model.WikidataEntry  `json:"wikidata,omitempty"`
	Assets     []*model.MediaAsset   `json:"assets,omitempty"`
	VisualTags []model.VisualTagInfo `json:"visual_tags,omitempty"`
	Summary    string                `json:"history_summary,omitempty"`
	Evidence   []model.Evidence      `json:"evidence,omitempty"`
	Nearby     []*model.Viewpoint    `json:"nearby,omitempty"`
}

// Bundle assembles the full detail payload for a viewpoint, or nil when the
// viewpoint does not exist.
func (e *Enricher) Bundle(ctx context.Context, id int64) (*Bundle, error) {
	vp, err := e.store.GetViewpoint(ctx, id)
	if err != nil || vp == nil {
		return nil, err
	}

	b := &Bundle{Viewpoint: vp}

	if b.Wiki, err = e.Wikipedia(ctx, id); err != nil {
		return nil, err
	}
	if b.Wikidata, err = e.Wikidata(ctx, id); err != nil {
		return nil, err
	}
	if b.Assets, err = e.Assets(ctx, id, 0, false); err != nil {
		return nil, err
	}
	if b.VisualTags, err = e.VisualTags(ctx, id, ""); err != nil {
		return nil, err
	}
	if b.Summary, b.Evidence, err = e.HistoricalSummary(ctx, id); err != nil {
		return nil, err
	}

	nearby, err := e.store.FindNearby(ctx, vp.Lat, vp.Lon, nearbyRadiusKm, nearbyLimit+1)
	if err != nil {
		return nil, err
	}
	for _, n := range nearby {
		if n.ID != vp.ID && len(b.Nearby) < nearbyLimit {
			b.Nearby = append(b.Nearby, n)
		}
	}

	return b, nil
}
