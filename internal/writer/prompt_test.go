package writer

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSeed_MinimalRequest(t *testing.T) {
	req := WriteRequest{Topic: "sleep", Style: "review", Language: "English"}

	seed := BuildSeed("id1", "out", req)

	lines := strings.Split(seed, "\n")
	assert.Equal(t, seedHeader, lines[0])
	assert.Contains(t, seed, "1. research the topic 'sleep' with the keywords 'None' using the `search_and_summarize` tool.")
	assert.Contains(t, seed, "2. based on the research, write a review article in English.")
	assert.Contains(t, seed, "3. save the article using the `save_article` tool with filename 'id1_main' and output_dir '"+filepath.Join("out", "md")+"'.")
	assert.Contains(t, seed, "4. **Finish**")
	assert.Contains(t, seed, "`finish` tool")
	assert.NotContains(t, seed, "translate")
	assert.NotContains(t, seed, "save_image_with_compression")
}

func TestBuildSeed_AllSteps(t *testing.T) {
	refs := false
	req := WriteRequest{
		Topic:             "CRISPR",
		Style:             "blog post",
		Language:          "English",
		Keywords:          []string{"gene", "editing"},
		TranslateTo:       []string{"fr", "ja"},
		GenerateImages:    true,
		FocusAreas:        []string{"ethics"},
		Instructions:      "Keep it short.",
		IncludeReferences: &refs,
		MaxSources:        intPtr(3),
	}

	seed := BuildSeed("id2", "out", req)

	assert.Contains(t, seed, "with the keywords 'gene, editing'")
	assert.Contains(t, seed, "4. translate the article into fr and save it using `save_article` with filename 'id2_main_fr'")
	assert.Contains(t, seed, "5. translate the article into ja and save it using `save_article` with filename 'id2_main_ja'")
	assert.Contains(t, seed, "6. generate an image for the main topic with `generate_image` and save it using `save_image_with_compression` with filename 'id2_image' and output_dir '"+filepath.Join("out", "img")+"'.")
	assert.Contains(t, seed, "7. **Finish**")
	assert.Contains(t, seed, "Use at most 3 sources.")
	assert.Contains(t, seed, "Focus on: ethics.")
	assert.Contains(t, seed, "Do not include a references section.")
	assert.True(t, strings.HasSuffix(seed, "Additional instructions: Keep it short."))
}
