package std

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/jimeng"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

const (
	// tempImagePattern — шаблон имени временного файла для generate_image.
	tempImagePattern = "poncho-image-*.img"

	// imagePromptMaxTokens ограничивает длину prompt для модели изображений.
	imagePromptMaxTokens = 300
)

// GenerateImageTool генерирует иллюстрацию: LLM пишет prompt, Jimeng рисует.
//
// Tool: generate_image
//   - Результат: payload {image_url, temp_file_path}
//   - Временный файл забирает и удаляет save_image_with_compression
type GenerateImageTool struct {
	drawer   Drawer
	provider llm.Provider
	timeout  time.Duration
	http     HTTPClient
	tempDir  string
}

// NewGenerateImageTool создает инструмент генерации изображений.
//
// tempDir пустой означает os.TempDir().
func NewGenerateImageTool(drawer Drawer, provider llm.Provider, timeout time.Duration, hc HTTPClient, tempDir string) *GenerateImageTool {
	return &GenerateImageTool{drawer: drawer, provider: provider, timeout: timeout, http: hc, tempDir: tempDir}
}

// Definition возвращает описание tool для LLM.
func (t *GenerateImageTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolGenerateImage,
		Description: "Generates an image based on a descriptive theme or scene. Returns image_url and temp_file_path; pass the result to save_image_with_compression.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"scene_description": map[string]any{
					"type":        "string",
					"description": "What the image should show",
				},
			},
			"required": []string{"scene_description"},
		},
	}
}

// Execute генерирует изображение и скачивает его во временный файл.
func (t *GenerateImageTool) Execute(ctx context.Context, argsJSON string) (tools.Output, error) {
	var args struct {
		SceneDescription string `json:"scene_description"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Output{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.SceneDescription) == "" {
		return tools.Failure("scene_description is required", nil), nil
	}

	utils.Info("Starting image generation", "scene_description", args.SceneDescription)

	promptRequest := fmt.Sprintf("Create a detailed, artistic prompt in English for an AI image model, based on: %q", args.SceneDescription)
	imagePrompt, err := generate(ctx, t.provider, t.timeout, promptRequest, llm.WithMaxTokens(imagePromptMaxTokens))
	if err != nil {
		return tools.Failure("image prompt generation failed", map[string]any{"cause": err.Error()}), nil
	}
	utils.Debug("Image prompt generated", "image_prompt", imagePrompt)

	urls, err := t.drawer.Draw(ctx, imagePrompt, jimeng.DrawOptions{})
	if err != nil {
		return tools.Failure("image API returned an issue", map[string]any{"cause": err.Error()}), nil
	}
	if len(urls) == 0 {
		return tools.Failure("image API returned no images", nil), nil
	}
	imageURL := urls[0]

	data, err := download(ctx, t.http, imageURL)
	if err != nil {
		return tools.Failure("image download failed", map[string]any{"image_url": imageURL, "cause": err.Error()}), nil
	}

	tempPath, err := writeTemp(t.tempDir, data)
	if err != nil {
		return tools.Output{}, err
	}

	utils.Info("Image generation successful", "url", imageURL, "temp_file_path", tempPath)
	return tools.SuccessPayload(map[string]any{
		"image_url":      imageURL,
		"temp_file_path": tempPath,
	}), nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, tempImagePattern)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp image: %w", err)
	}
	return f.Name(), nil
}

// SaveImageTool сжимает изображение в PNG и сохраняет его.
//
// Tool: save_image_with_compression (legacy строковый формат)
//
// image_input принимает:
//   - строку с URL (http/https)
//   - объект {"image_url": "..."}
//   - объект {"temp_file_path": "..."} из generate_image; временный файл удаляется
//     после успешного сохранения
//
// temp_file_path принимается только из tempDir и только с именем по tempImagePattern.
type SaveImageTool struct {
	defaultDir string
	maxBytes   int
	http       HTTPClient
	mirror     ArtifactMirror
	tempDir    string
}

// NewSaveImageTool создает инструмент сохранения изображений.
//
// tempDir должен совпадать с каталогом generate_image; пустой означает os.TempDir().
func NewSaveImageTool(defaultDir string, maxBytes int, hc HTTPClient, mirror ArtifactMirror, tempDir string) *SaveImageTool {
	return &SaveImageTool{defaultDir: defaultDir, maxBytes: maxBytes, http: hc, mirror: mirror, tempDir: tempDir}
}

// Definition возвращает описание tool для LLM.
func (t *SaveImageTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name: ToolSaveImage,
		Description: "Processes an image, compresses it, converts to PNG, and saves it. " +
			"The input can be a direct URL string, an object containing an 'image_url', " +
			"or the object returned by generate_image containing a 'temp_file_path'.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"image_input": map[string]any{
					"description": "Image URL string or object with image_url / temp_file_path",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "File name without extension",
				},
				"output_dir": map[string]any{
					"type":        "string",
					"description": "Target directory (default: " + t.defaultDir + ")",
				},
			},
			"required": []string{"image_input", "filename"},
		},
	}
}

// ProducesFiles помечает результат как артефакт.
func (t *SaveImageTool) ProducesFiles() bool { return true }

// Execute загружает, сжимает и сохраняет изображение (Rule 1: Raw In, String Out).
func (t *SaveImageTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	var args struct {
		ImageInput json.RawMessage `json:"image_input"`
		Filename   string          `json:"filename"`
		OutputDir  string          `json:"output_dir"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validateFilename(args.Filename); err != nil {
		return "", err
	}

	data, tempPath, err := t.loadImage(ctx, args.ImageInput)
	if err != nil {
		return "", err
	}

	compressed, err := utils.CompressPNG(data, t.maxBytes)
	if err != nil {
		return "", fmt.Errorf("error saving image: %w", err)
	}

	dir := args.OutputDir
	if dir == "" {
		dir = t.defaultDir
	}
	path := filepath.Join(dir, args.Filename+".png")

	if err := utils.WriteFileAtomic(path, compressed, 0o644); err != nil {
		return "", fmt.Errorf("error saving image: %w", err)
	}
	utils.Info("Image saved", "path", path, "original_bytes", len(data), "bytes", len(compressed))

	if tempPath != "" {
		if err := os.Remove(tempPath); err != nil {
			utils.Warn("Failed to remove temporary image", "path", tempPath, "error", err)
		}
	}

	mirrorArtifact(ctx, t.mirror, path)
	return fmt.Sprintf("Image %s %s", tools.SavedMarker, path), nil
}

// loadImage разбирает image_input и возвращает байты изображения и путь
// временного файла, если данные взяты из него.
func (t *SaveImageTool) loadImage(ctx context.Context, raw json.RawMessage) ([]byte, string, error) {
	raw = bytes.TrimSpace(raw)

	var input struct {
		ImageURL     string `json:"image_url"`
		TempFilePath string `json:"temp_file_path"`
	}

	switch {
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, "", fmt.Errorf("invalid image_input: %w", err)
		}
		// Модель иногда передаёт объект из generate_image строкой.
		if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{") {
			if err := json.Unmarshal([]byte(trimmed), &input); err != nil {
				return nil, "", fmt.Errorf("invalid image_input: %w", err)
			}
			break
		}
		input.ImageURL = s
	case len(raw) > 0 && raw[0] == '{':
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, "", fmt.Errorf("invalid image_input: %w", err)
		}
	}

	if input.TempFilePath != "" {
		path, err := t.checkTempPath(input.TempFilePath)
		if err != nil {
			return nil, "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("temporary image file not found at %s", input.TempFilePath)
		}
		return data, path, nil
	}

	if strings.HasPrefix(input.ImageURL, "http") {
		data, err := download(ctx, t.http, input.ImageURL)
		return data, "", err
	}

	return nil, "", fmt.Errorf("invalid input: could not find or download valid image data")
}

// checkTempPath пропускает только файлы, которые мог создать generate_image:
// лежащие прямо в tempDir и названные по tempImagePattern.
func (t *SaveImageTool) checkTempPath(p string) (string, error) {
	dir := t.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve temp dir: %w", err)
	}
	path, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid temp_file_path %s: %w", p, err)
	}

	if filepath.Dir(path) != dir {
		return "", fmt.Errorf("temp_file_path %s is outside the image temp dir", p)
	}
	if ok, _ := filepath.Match(tempImagePattern, filepath.Base(path)); !ok {
		return "", fmt.Errorf("temp_file_path %s is not a generated image", p)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("temporary image file not found at %s", p)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("temp_file_path %s is not a regular file", p)
	}
	return path, nil
}
