// Package tagschema loads and serves the versioned controlled vocabulary used
// by intent extraction and retrieval. Tags outside the active schema are never
// allowed to reach a query.
package tagschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrSchemaNotFound is returned when the requested schema version has no file.
var ErrSchemaNotFound = errors.New("tag schema version not found")

// Registry is an immutable snapshot of one tag schema version.
type Registry struct {
	version    string
	raw        []byte
	categories map[string]string
	visualTags map[string]string
	sceneTags  map[string]string
	countries  map[string]string
	all        map[string]string
}

type schemaFile struct {
	Version    string            `json:"version"`
	Categories map[string]string `json:"categories"`
	VisualTags map[string]string `json:"visual_tags"`
	SceneTags  map[string]string `json:"scene_tags"`
	Countries  map[string]string `json:"countries"`
}

// Info summarises a loaded schema for health and admin surfaces.
type Info struct {
	Version    string `json:"version"`
	Categories int    `json:"categories"`
	VisualTags int    `json:"visual_tags"`
	SceneTags  int    `json:"scene_tags"`
	Countries  int    `json:"countries"`
}

// Load reads tag_schema_<version>.json from dir.
func Load(dir, version string) (*Registry, error) {
	path := filepath.Join(dir, fmt.Sprintf("tag_schema_%s.json", version))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, version)
		}
		return nil, fmt.Errorf("failed to read tag schema: %w", err)
	}

	var sf schemaFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse tag schema %s: %w", version, err)
	}
	if sf.Version != "" && sf.Version != version {
		return nil, fmt.Errorf("tag schema file %s declares version %s", path, sf.Version)
	}

	r := &Registry{
		version:    version,
		raw:        data,
		categories: sf.Categories,
		visualTags: sf.VisualTags,
		sceneTags:  sf.SceneTags,
		countries:  sf.Countries,
		all:        make(map[string]string),
	}
	for _, m := range []map[string]string{sf.Categories, sf.VisualTags, sf.SceneTags, sf.Countries} {
		for tag, desc := range m {
			if _, dup := r.all[tag]; dup {
				return nil, fmt.Errorf("tag schema %s: duplicate tag %q across sets", version, tag)
			}
			r.all[tag] = desc
		}
	}
	return r, nil
}

// Version returns the active schema version string.
func (r *Registry) Version() string { return r.version }

// Raw returns the schema file bytes as loaded.
func (r *Registry) Raw() []byte { return r.raw }

// Categories returns the sorted category tag list.
func (r *Registry) Categories() []string { return sortedKeys(r.categories) }

// VisualTags returns the sorted visual tag list.
func (r *Registry) VisualTags() []string { return sortedKeys(r.visualTags) }

// SceneTags returns the sorted scene tag list.
func (r *Registry) SceneTags() []string { return sortedKeys(r.sceneTags) }

// Countries returns the sorted country tag list.
func (r *Registry) Countries() []string { return sortedKeys(r.countries) }

// AllTags returns every tag of every set, sorted.
func (r *Registry) AllTags() []string { return sortedKeys(r.all) }

// IsCategory reports whether tag is a category tag.
func (r *Registry) IsCategory(tag string) bool {
	_, ok := r.categories[tag]
	return ok
}

// IsVisualTag reports whether tag is a visual tag.
func (r *Registry) IsVisualTag(tag string) bool {
	_, ok := r.visualTags[tag]
	return ok
}

// IsSceneTag reports whether tag is a scene tag.
func (r *Registry) IsSceneTag(tag string) bool {
	_, ok := r.sceneTags[tag]
	return ok
}

// Description returns the human description for a tag, or "" if unknown.
func (r *Registry) Description(tag string) string { return r.all[tag] }

// Validate splits tags into those present in the schema and those that are not.
// Order of the input is preserved in both outputs; duplicates are collapsed.
func (r *Registry) Validate(tags []string) (kept, dropped []string) {
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		if _, ok := r.all[tag]; ok {
			kept = append(kept, tag)
		} else {
			dropped = append(dropped, tag)
		}
	}
	return kept, dropped
}

// Info returns count metadata about the loaded schema.
func (r *Registry) Info() Info {
	return Info{
		Version:    r.version,
		Categories: len(r.categories),
		VisualTags: len(r.visualTags),
		SceneTags:  len(r.sceneTags),
		Countries:  len(r.countries),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
