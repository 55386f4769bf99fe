package tagschema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, dir, version, content string) {
	t.Helper()
	path := filepath.Join(dir, "tag_schema_"+version+".json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const testSchema = `{
  "version": "v1.0.0",
  "categories": {"mountain": "Mountains", "lake": "Lakes"},
  "visual_tags": {"snow_peak": "Snow summit", "autumn_foliage": "Autumn leaves"},
  "scene_tags": {"sunset": "Sunset light"},
  "countries": {"japan": "Japan"}
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "v1.0.0", testSchema)

	r, err := Load(dir, "v1.0.0")
	require.NoError(t, err)

	assert.Equal(t, "v1.0.0", r.Version())
	assert.Equal(t, []string{"lake", "mountain"}, r.Categories())
	assert.Equal(t, []string{"autumn_foliage", "snow_peak"}, r.VisualTags())
	assert.True(t, r.IsCategory("mountain"))
	assert.False(t, r.IsCategory("snow_peak"))
	assert.True(t, r.IsVisualTag("snow_peak"))
	assert.Equal(t, "Sunset light", r.Description("sunset"))

	info := r.Info()
	assert.Equal(t, 2, info.Categories)
	assert.Equal(t, 1, info.Countries)
}

func TestLoadMissingVersion(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "v1.0.0", testSchema)

	_, err := Load(dir, "v9.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestLoadVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "v2.0.0", testSchema) // file declares v1.0.0

	_, err := Load(dir, "v2.0.0")
	assert.Error(t, err)
}

func TestLoadDuplicateAcrossSets(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "v1.0.0", `{
	  "categories": {"mountain": "Mountains"},
	  "visual_tags": {"mountain": "A mountain in frame"}
	}`)

	_, err := Load(dir, "v1.0.0")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "v1.0.0", testSchema)

	r, err := Load(dir, "v1.0.0")
	require.NoError(t, err)

	tests := []struct {
		name        string
		input       []string
		wantKept    []string
		wantDropped []string
	}{
		{
			name:        "MixedKnownUnknown",
			input:       []string{"mountain", "unicorns", "snow_peak"},
			wantKept:    []string{"mountain", "snow_peak"},
			wantDropped: []string{"unicorns"},
		},
		{
			name:        "DuplicatesCollapsed",
			input:       []string{"lake", "lake", "lake"},
			wantKept:    []string{"lake"},
			wantDropped: nil,
		},
		{
			name:        "EmptyInput",
			input:       nil,
			wantKept:    nil,
			wantDropped: nil,
		},
		{
			name:        "AllUnknown",
			input:       []string{"foo", "bar"},
			wantKept:    nil,
			wantDropped: []string{"foo", "bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, dropped := r.Validate(tt.input)
			assert.Equal(t, tt.wantKept, kept)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}
