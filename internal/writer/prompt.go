package writer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ilkoid/poncho-writer/pkg/tools/std"
)

// seedHeader открывает каждое задание агенту.
const seedHeader = "You are an expert research assistant. Your task is to write a high-quality article based on scientific literature."

// BuildSeed собирает единственное сообщение, с которого начинается прогон.
//
// Шаги нумеруются подряд: research → write → save → translations → image → finish.
// Имена файлов детерминированы article id, чтобы translate и generate-images
// находили статью без обращения к истории прогона.
func BuildSeed(articleID, outputDir string, req WriteRequest) string {
	mdDir := filepath.Join(outputDir, "md")
	imgDir := filepath.Join(outputDir, "img")

	keywords := "None"
	if len(req.Keywords) > 0 {
		keywords = strings.Join(req.Keywords, ", ")
	}

	var steps []string
	steps = append(steps,
		fmt.Sprintf("research the topic '%s' with the keywords '%s' using the `%s` tool.", req.Topic, keywords, std.ToolSearchAndSummarize),
		fmt.Sprintf("based on the research, write a %s article in %s.", req.Style, req.Language),
		fmt.Sprintf("save the article using the `%s` tool with filename '%s' and output_dir '%s'.", std.ToolSaveArticle, MainFilename(articleID), mdDir),
	)
	for _, lang := range req.TranslateTo {
		steps = append(steps, fmt.Sprintf("translate the article into %s and save it using `%s` with filename '%s_%s' and output_dir '%s'.",
			lang, std.ToolSaveArticle, MainFilename(articleID), lang, mdDir))
	}
	if req.GenerateImages {
		steps = append(steps, fmt.Sprintf("generate an image for the main topic with `%s` and save it using `%s` with filename '%s_image' and output_dir '%s'.",
			std.ToolGenerateImage, std.ToolSaveImage, articleID, imgDir))
	}
	steps = append(steps, fmt.Sprintf("**Finish**: After all other steps are complete, call the `%s` tool to provide a final summary of all actions taken, including the paths to all saved files.", std.ToolFinish))

	var b strings.Builder
	b.WriteString(seedHeader)
	b.WriteString("\nPlease follow these steps in order:")
	for i, step := range steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}

	if req.MaxSources != nil {
		fmt.Fprintf(&b, "\n\nUse at most %d sources.", *req.MaxSources)
	}
	if len(req.FocusAreas) > 0 {
		fmt.Fprintf(&b, "\nFocus on: %s.", strings.Join(req.FocusAreas, ", "))
	}
	if req.WantsReferences() {
		b.WriteString("\nInclude a references section listing the sources you used.")
	} else {
		b.WriteString("\nDo not include a references section.")
	}
	if req.Instructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions: %s", req.Instructions)
	}

	return b.String()
}

// MainFilename — имя основного файла статьи без расширения.
func MainFilename(articleID string) string {
	return articleID + "_main"
}
