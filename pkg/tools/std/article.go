package std

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// SaveArticleTool сохраняет текст в Markdown файл.
//
// Tool: save_article (legacy строковый формат)
//   - Результат: "Article successfully saved to <dir>/<filename>.md"
//   - Запись атомарная: временный файл + rename
type SaveArticleTool struct {
	defaultDir string
	mirror     ArtifactMirror
}

// NewSaveArticleTool создает инструмент сохранения статей.
//
// defaultDir используется когда LLM не передала output_dir. mirror может быть nil.
func NewSaveArticleTool(defaultDir string, mirror ArtifactMirror) *SaveArticleTool {
	return &SaveArticleTool{defaultDir: defaultDir, mirror: mirror}
}

// Definition возвращает описание tool для LLM.
func (t *SaveArticleTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolSaveArticle,
		Description: "Saves text content into a Markdown file in a specified directory.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "File name without extension",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Markdown content",
				},
				"output_dir": map[string]any{
					"type":        "string",
					"description": "Target directory (default: " + t.defaultDir + ")",
				},
			},
			"required": []string{"filename", "content"},
		},
	}
}

// ProducesFiles помечает результат как артефакт.
func (t *SaveArticleTool) ProducesFiles() bool { return true }

// Execute сохраняет статью (Rule 1: Raw In, String Out).
func (t *SaveArticleTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args struct {
		Filename  string `json:"filename"`
		Content   string `json:"content"`
		OutputDir string `json:"output_dir"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validateFilename(args.Filename); err != nil {
		return "", err
	}

	dir := args.OutputDir
	if dir == "" {
		dir = t.defaultDir
	}
	path := filepath.Join(dir, args.Filename+".md")

	if err := utils.WriteFileAtomic(path, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("error saving article: %w", err)
	}
	utils.Info("Article saved", "path", path, "bytes", len(args.Content))

	mirrorArtifact(ctx, t.mirror, path)
	return fmt.Sprintf("Article %s %s", tools.SavedMarker, path), nil
}

// ReadArticleTool читает ранее сохранённую статью.
//
// Tool: read_article
type ReadArticleTool struct{}

// NewReadArticleTool создает инструмент чтения статей.
func NewReadArticleTool() *ReadArticleTool {
	return &ReadArticleTool{}
}

// Definition возвращает описание tool для LLM.
func (t *ReadArticleTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolReadArticle,
		Description: "Reads a previously saved article and returns its text.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "Path returned by save_article",
				},
			},
			"required": []string{"file_path"},
		},
	}
}

// Execute читает файл. Отсутствующий файл — Failure, а не ошибка исполнения.
func (t *ReadArticleTool) Execute(ctx context.Context, argsJSON string) (tools.Output, error) {
	var args struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Output{}, fmt.Errorf("invalid arguments: %w", err)
	}

	data, err := os.ReadFile(args.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Failure("file not found", map[string]any{"file_path": args.FilePath}), nil
		}
		return tools.Output{}, fmt.Errorf("read article: %w", err)
	}
	return tools.Success(string(data)), nil
}
