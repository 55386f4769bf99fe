// Package intent turns free-form user text and images into a structured query
// intent bound to the active tag schema.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tourrag/pkg/geo"
	"tourrag/pkg/llm"
	"tourrag/pkg/llm/imageutil"
	"tourrag/pkg/model"
	"tourrag/pkg/tagschema"
)

// ErrExtractionFailed is returned when the model call or its response parsing
// fails. Callers fall back to FallbackIntent.
var ErrExtractionFailed = errors.New("intent extraction failed")

// Input is one extraction request.
type Input struct {
	Text     string
	Images   []string // file paths, URLs, data URLs, or bare base64
	Language string
}

// Extractor extracts query intents via a vision-capable model profile.
type Extractor struct {
	provider llm.Provider
	registry *tagschema.Registry
}

// NewExtractor creates an extractor bound to the given provider and schema.
func NewExtractor(provider llm.Provider, registry *tagschema.Registry) *Extractor {
	return &Extractor{provider: provider, registry: registry}
}

// Extract interprets the input. Empty input yields a default intent with a
// confidence note rather than an error; model failures return
// ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, in Input) (*model.QueryIntent, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Images) == 0 {
		return &model.QueryIntent{
			SeasonHint:      model.SeasonUnknown,
			NameCandidates:  []string{},
			QueryTags:       []string{},
			SceneHints:      []string{},
			ConfidenceNotes: []string{"empty input, default intent"},
		}, nil
	}

	parts, notes, err := e.buildParts(text, in.Images, in.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var raw model.QueryIntent
	if err := e.provider.GenerateVisionJSON(ctx, "intent", e.systemPrompt(), parts, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	intent := e.sanitize(&raw, notes)
	intent.RawText = text
	return intent, nil
}

// FallbackIntent builds the minimal intent used when extraction fails: the raw
// text doubles as the only name candidate.
func FallbackIntent(text string) *model.QueryIntent {
	text = strings.TrimSpace(text)
	intent := &model.QueryIntent{
		RawText:         text,
		NameCandidates:  []string{},
		QueryTags:       []string{},
		SceneHints:      []string{},
		SeasonHint:      model.SeasonUnknown,
		ConfidenceNotes: []string{"extraction failed, raw text fallback"},
	}
	if text != "" {
		intent.NameCandidates = append(intent.NameCandidates, text)
	}
	return intent
}

func (e *Extractor) buildParts(text string, images []string, language string) ([]llm.Part, []string, error) {
	var parts []llm.Part
	var notes []string

	if text != "" {
		prompt := "User query: " + text
		if language != "" {
			prompt += "\nQuery language: " + language
		}
		parts = append(parts, llm.Part{Text: prompt})
	} else {
		parts = append(parts, llm.Part{Text: "Describe the viewpoint shown in the image(s) as a query intent."})
	}

	for _, img := range images {
		url, err := imageutil.ToDataURL(img)
		if err != nil {
			return nil, nil, fmt.Errorf("image %.40q: %w", img, err)
		}
		parts = append(parts, llm.Part{ImageURL: url})
	}
	if len(images) > 0 {
		notes = append(notes, fmt.Sprintf("%d image(s) analysed", len(images)))
	}
	return parts, notes, nil
}

// sanitize gates model output through the schema: off-schema tags are dropped
// with a note, the season hint is normalised, and the country hint is folded
// onto its canonical tag.
func (e *Extractor) sanitize(raw *model.QueryIntent, notes []string) *model.QueryIntent {
	intent := &model.QueryIntent{
		NameCandidates:  dedupe(raw.NameCandidates),
		SeasonHint:      raw.SeasonHint,
		GeoHints:        raw.GeoHints,
		ConfidenceNotes: append(notes, raw.ConfidenceNotes...),
	}

	kept, dropped := e.registry.Validate(raw.QueryTags)
	intent.QueryTags = kept
	if len(dropped) > 0 {
		slog.Debug("Dropped off-schema query tags", "tags", dropped)
		intent.ConfidenceNotes = append(intent.ConfidenceNotes,
			fmt.Sprintf("dropped off-schema tags: %s", strings.Join(dropped, ", ")))
	}

	var scenes []string
	for _, tag := range dedupe(raw.SceneHints) {
		if e.registry.IsSceneTag(tag) {
			scenes = append(scenes, tag)
		} else {
			intent.ConfidenceNotes = append(intent.ConfidenceNotes,
				fmt.Sprintf("dropped off-schema scene hint: %s", tag))
		}
	}
	intent.SceneHints = scenes

	if !model.ValidSeason(intent.SeasonHint) {
		if intent.SeasonHint != "" {
			intent.ConfidenceNotes = append(intent.ConfidenceNotes,
				fmt.Sprintf("unrecognised season %q", intent.SeasonHint))
		}
		intent.SeasonHint = model.SeasonUnknown
	}

	if intent.GeoHints.Country != "" {
		intent.GeoHints.Country = geo.CanonicalCountry(intent.GeoHints.Country)
	}

	if intent.QueryTags == nil {
		intent.QueryTags = []string{}
	}
	if intent.SceneHints == nil {
		intent.SceneHints = []string{}
	}
	if intent.NameCandidates == nil {
		intent.NameCandidates = []string{}
	}
	return intent
}

func (e *Extractor) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You interpret tourist viewpoint queries. Extract a structured intent from the user's text and images.

Respond with a single JSON object:
{
  "name_candidates": ["possible viewpoint or place names, any language"],
  "query_tags": ["tags from the allowed lists below"],
  "season_hint": "spring|summer|autumn|winter|unknown",
  "scene_hints": ["tags from the scene list below"],
  "geo_hints": {"place_name": "", "country": ""},
  "confidence_notes": ["short notes on uncertainty"]
}

Rules:
- query_tags and scene_hints MUST come from the allowed lists. Never invent tags.
- season_hint reflects visual or textual season cues; use "unknown" when unclear.
- name_candidates are proper names only, not descriptions.
- Never identify a specific viewpoint the user did not name, and never invent facts; extract only what the input states or shows.
- Keep country as a plain name; do not guess when there is no cue.

Allowed category tags: `)
	b.WriteString(strings.Join(e.registry.Categories(), ", "))
	b.WriteString("\nAllowed visual tags: ")
	b.WriteString(strings.Join(e.registry.VisualTags(), ", "))
	b.WriteString("\nAllowed scene tags: ")
	b.WriteString(strings.Join(e.registry.SceneTags(), ", "))
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
