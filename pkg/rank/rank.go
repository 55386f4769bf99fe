// Package rank fuses retrieval candidates with their stored enrichment into a
// scored, explained result list.
package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"tourrag/pkg/config"
	"tourrag/pkg/enrich"
	"tourrag/pkg/model"
)

// Ranker scores candidates against a query intent.
type Ranker struct {
	enricher *enrich.Enricher
	cfg      config.RankConfig
}

// New creates a ranker.
func New(enricher *enrich.Enricher, cfg config.RankConfig) *Ranker {
	return &Ranker{enricher: enricher, cfg: cfg}
}

// Rank enriches and scores candidates, returning the top k results in
// confidence order. Twice k candidates are enriched so a strong tag or season
// match can overtake a weak name hit.
func (r *Ranker) Rank(ctx context.Context, intent *model.QueryIntent, candidates []model.Candidate, k int) ([]model.ViewpointResult, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	if len(candidates) > 2*k {
		candidates = candidates[:2*k]
	}
	if len(candidates) == 0 {
		return []model.ViewpointResult{}, nil
	}

	results := make([]model.ViewpointResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.EnrichLimit)

	for i, c := range candidates {
		g.Go(func() error {
			res, err := r.score(gctx, intent, c)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stable: equal confidence keeps retrieval order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchConfidence > results[j].MatchConfidence
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (r *Ranker) score(ctx context.Context, intent *model.QueryIntent, c model.Candidate) (*model.ViewpointResult, error) {
	tags, err := r.enricher.VisualTags(ctx, c.ViewpointID, intent.SeasonHint)
	if err != nil {
		return nil, err
	}
	summary, evidence, err := r.enricher.HistoricalSummary(ctx, c.ViewpointID)
	if err != nil {
		return nil, err
	}

	nameScore := c.NameScore
	categoryScore := r.categoryScore(intent, c)
	overlapScore, shared := tagOverlap(intent, tags)
	seasonScore := seasonScore(intent, tags)

	confidence := r.cfg.NameWeight*nameScore +
		r.cfg.CategoryWeight*categoryScore +
		r.cfg.TagOverlapWeight*overlapScore +
		r.cfg.SeasonWeight*seasonScore

	var reasons []string
	if nameScore > 0.7 {
		reasons = append(reasons, fmt.Sprintf("name matches %q", c.NamePrimary))
	}
	if categoryScore > 0 && c.CategoryNorm != "" {
		reasons = append(reasons, fmt.Sprintf("category %s fits the query", c.CategoryNorm))
	}
	if len(shared) > 0 {
		reasons = append(reasons, "shares visual tags: "+strings.Join(shared, ", "))
	}
	if seasonScore > 0.5 && intent.SeasonHint != "" && intent.SeasonHint != model.SeasonUnknown {
		reasons = append(reasons, fmt.Sprintf("matches the %s scenery", intent.SeasonHint))
	}
	if c.Popularity != nil && *c.Popularity > 0.7 {
		reasons = append(reasons, "widely known viewpoint")
	}

	return &model.ViewpointResult{
		ViewpointID:     c.ViewpointID,
		Name:            c.NamePrimary,
		NameVariants:    c.NameVariants,
		Category:        c.CategoryNorm,
		Lat:             c.Lat,
		Lon:             c.Lon,
		Popularity:      c.Popularity,
		MatchConfidence: confidence,
		MatchReasons:    reasons,
		VisualTags:      tags,
		HistorySummary:  summary,
		Evidence:        evidence,
	}, nil
}

func (r *Ranker) categoryScore(intent *model.QueryIntent, c model.Candidate) float64 {
	if c.CategoryScore > 0 {
		return c.CategoryScore
	}
	if c.CategoryNorm == "" {
		return 0
	}
	for _, tag := range intent.QueryTags {
		if tag == c.CategoryNorm {
			return 1.0
		}
	}
	return 0
}

// tagOverlap computes the fraction of requested tags present in the best
// stored tag set, and returns the shared tags for the explanation.
func tagOverlap(intent *model.QueryIntent, records []model.VisualTagInfo) (float64, []string) {
	requested := map[string]bool{}
	for _, t := range intent.QueryTags {
		requested[t] = true
	}
	for _, t := range intent.SceneHints {
		requested[t] = true
	}
	if len(requested) == 0 || len(records) == 0 {
		return 0, nil
	}

	var best []string
	for _, rec := range records {
		var shared []string
		for _, tag := range rec.Tags {
			if requested[tag] {
				shared = append(shared, tag)
			}
		}
		if len(shared) > len(best) {
			best = shared
		}
	}
	return float64(len(best)) / float64(len(requested)), best
}

// seasonScore is the highest stored confidence among tag sets matching the
// requested season, 0 when no season was requested or nothing matches.
func seasonScore(intent *model.QueryIntent, records []model.VisualTagInfo) float64 {
	if intent.SeasonHint == "" || intent.SeasonHint == model.SeasonUnknown {
		return 0
	}
	var best float64
	for _, rec := range records {
		if rec.Season == intent.SeasonHint && rec.Confidence > best {
			best = rec.Confidence
		}
	}
	return best
}
