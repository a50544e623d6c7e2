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

// contentPreviewRunes — сколько символов документа попадает в контекст для summary.
const contentPreviewRunes = 400

// noResultsMessage возвращается когда ни один источник ничего не нашёл.
const noResultsMessage = "No relevant articles found from any source."

// SearchAndSummarizeTool ищет публикации в PubMed и PMC и суммирует их через LLM.
//
// Tool: search_and_summarize
//   - Запрос: "<topic> AND <kw1> AND <kw2>"
//   - Результат: "Summary of Findings:\n<summary>\n\nSources:\n<context>"
type SearchAndSummarizeTool struct {
	searcher Searcher
	provider llm.Provider
	timeout  time.Duration
}

// NewSearchAndSummarizeTool создает инструмент исследования.
//
// provider — модель роли summarizer, timeout — её models.definitions.<name>.timeout.
func NewSearchAndSummarizeTool(searcher Searcher, provider llm.Provider, timeout time.Duration) *SearchAndSummarizeTool {
	return &SearchAndSummarizeTool{searcher: searcher, provider: provider, timeout: timeout}
}

// Definition возвращает описание tool для LLM.
func (t *SearchAndSummarizeTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        ToolSearchAndSummarize,
		Description: "Searches for a topic on PubMed and PMC, then generates a concise summary of the findings.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "Research topic",
				},
				"keywords": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional keywords joined to the topic with AND",
				},
				"max_results_per_source": map[string]any{
					"type":        "integer",
					"description": "Maximum documents per source (default 3)",
				},
			},
			"required": []string{"topic"},
		},
	}
}

// Execute выполняет поиск и суммаризацию.
//
// Ошибки поиска и LLM возвращаются как Failure: агент видит их в истории
// и может продолжить без исследования.
func (t *SearchAndSummarizeTool) Execute(ctx context.Context, argsJSON string) (tools.Output, error) {
	var args struct {
		Topic               string   `json:"topic"`
		Keywords            []string `json:"keywords"`
		MaxResultsPerSource int      `json:"max_results_per_source"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Output{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Topic) == "" {
		return tools.Failure("topic is required", nil), nil
	}
	if args.MaxResultsPerSource <= 0 {
		args.MaxResultsPerSource = 3
	}

	query := BuildSearchQuery(args.Topic, args.Keywords)
	utils.Info("Research started", "query", query, "max_per_source", args.MaxResultsPerSource)

	docs, err := t.searcher.Search(ctx, query, args.MaxResultsPerSource)
	if err != nil {
		return tools.Failure("research failed", map[string]any{"query": query, "cause": err.Error()}), nil
	}
	if len(docs) == 0 {
		return tools.Success(noResultsMessage), nil
	}

	var sb strings.Builder
	sb.WriteString("Found articles:\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "--- Doc %d (%s) ---\n", i+1, doc.SourceLabel())
		fmt.Fprintf(&sb, "Title: %s\n", orNA(doc.Title))
		fmt.Fprintf(&sb, "Source: %s\n", orNA(doc.Source))
		fmt.Fprintf(&sb, "Content: %s\n\n", utils.TruncateText(doc.Content, contentPreviewRunes))
	}
	sourcesContext := sb.String()

	prompt := fmt.Sprintf("Based on the following articles, provide a concise summary for the topic '%s'.\n\n%s", args.Topic, sourcesContext)
	summary, err := generate(ctx, t.provider, t.timeout, prompt, llm.WithTemperature(0.2))
	if err != nil {
		return tools.Failure("summarization failed", map[string]any{"query": query, "cause": err.Error()}), nil
	}

	utils.Info("Research completed", "query", query, "documents", len(docs))
	return tools.Success(fmt.Sprintf("Summary of Findings:\n%s\n\nSources:\n%s", summary, sourcesContext)), nil
}

// BuildSearchQuery склеивает тему и ключевые слова через AND.
func BuildSearchQuery(topic string, keywords []string) string {
	parts := []string{strings.TrimSpace(topic)}
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			parts = append(parts, kw)
		}
	}
	return strings.Join(parts, " AND ")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
