package std

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ilkoid/poncho-writer/pkg/tools"
)

// FinishTool — терминальный инструмент: его успешный вызов завершает прогон.
//
// Tool: finish
type FinishTool struct{}

// NewFinishTool создает терминальный инструмент.
func NewFinishTool() *FinishTool {
	return &FinishTool{}
}

// Definition возвращает описание tool для LLM.
func (t *FinishTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolFinish,
		Description: "Call this tool to signify that all tasks are complete and to provide a final summary.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"final_summary": map[string]any{
					"type":        "string",
					"description": "Summary of all actions taken, including the paths to all saved files",
				},
			},
			"required": []string{"final_summary"},
		},
	}
}

// Execute возвращает итоговое резюме как есть.
func (t *FinishTool) Execute(ctx context.Context, argsJSON string) (tools.Output, error) {
	var args struct {
		FinalSummary string `json:"final_summary"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Output{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.FinalSummary) == "" {
		return tools.Failure("final_summary must not be empty", nil), nil
	}
	return tools.Success(args.FinalSummary), nil
}
