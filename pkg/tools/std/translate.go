package std

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// TranslateTextTool переводит текст через LLM с temperature 0.
//
// Tool: translate_text
type TranslateTextTool struct {
	provider llm.Provider
	timeout  time.Duration
}

// NewTranslateTextTool создает инструмент перевода для модели роли translator.
func NewTranslateTextTool(provider llm.Provider, timeout time.Duration) *TranslateTextTool {
	return &TranslateTextTool{provider: provider, timeout: timeout}
}

// Definition возвращает описание tool для LLM.
func (t *TranslateTextTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolTranslateText,
		Description: "Translates a given text into a specified target language.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to translate",
				},
				"target_language": map[string]any{
					"type":        "string",
					"description": "Target language name or code (e.g. 'French', 'zh-CN')",
				},
			},
			"required": []string{"text", "target_language"},
		},
	}
}

// Execute переводит текст. Сбой модели возвращается как Failure.
func (t *TranslateTextTool) Execute(ctx context.Context, argsJSON string) (tools.Output, error) {
	var args struct {
		Text           string `json:"text"`
		TargetLanguage string `json:"target_language"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Output{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.TargetLanguage) == "" {
		return tools.Failure("target_language is required", nil), nil
	}

	utils.Info("Starting translation", "text_length", len(args.Text), "target_language", args.TargetLanguage)

	prompt := fmt.Sprintf("Translate the following text into %s. Provide only the raw translated text.\n\nText: %s", args.TargetLanguage, args.Text)
	translated, err := generate(ctx, t.provider, t.timeout, prompt, llm.WithTemperature(0))
	if err != nil {
		utils.Error("Error during translation", "error", err, "target_language", args.TargetLanguage)
		return tools.Failure("translation failed", map[string]any{
			"target_language": args.TargetLanguage,
			"cause":           err.Error(),
		}), nil
	}

	utils.Info("Translation successful", "target_language", args.TargetLanguage)
	return tools.Success(translated), nil
}
