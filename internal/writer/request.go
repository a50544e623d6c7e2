package writer

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ilkoid/poncho-writer/pkg/config"
)

// Ограничения на тему статьи.
const (
	minTopicLength = 1
	maxTopicLength = 500
)

// Статус "processing" зарезервирован для асинхронных прогонов.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusProcessing = "processing"
)

// RequestErrorKind классифицирует нарушение контракта запроса.
type RequestErrorKind int

const (
	// KindInvalid — запрос не прошёл валидацию.
	KindInvalid RequestErrorKind = iota
	// KindNotFound — запрошенная статья или исходный файл не существует.
	KindNotFound
)

// RequestError — ошибка контракта запроса. HTTP слой отвечает на неё 4xx.
//
// Ожидаемые ошибки прогона (модель, инструменты, лимит шагов) сюда не попадают:
// они становятся WriteResponse со status "failed".
type RequestError struct {
	Kind    RequestErrorKind
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *RequestError {
	return &RequestError{Kind: KindInvalid, Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// WriteRequest — запрос на написание статьи (POST /api/v1/write).
type WriteRequest struct {
	Topic             string   `json:"topic"`
	Style             string   `json:"style,omitempty"`
	Keywords          []string `json:"keywords,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	FocusAreas        []string `json:"focus_areas,omitempty"`
	Language          string   `json:"language,omitempty"`
	IncludeReferences *bool    `json:"include_references,omitempty"`
	MaxSources        *int     `json:"max_sources,omitempty"`
	RequestID         string   `json:"request_id,omitempty"`
	TranslateTo       []string `json:"translate_to,omitempty"`
	GenerateImages    bool     `json:"generate_images,omitempty"`
}

// WantsReferences сообщает нужен ли список литературы (по умолчанию да).
func (r WriteRequest) WantsReferences() bool {
	return r.IncludeReferences == nil || *r.IncludeReferences
}

// Normalize проверяет запрос и применяет дефолты из секции api.
//
// Списки keywords и focus_areas очищаются от пробелов и дубликатов
// с сохранением порядка.
func (r *WriteRequest) Normalize(cfg config.APIConfig) error {
	r.Topic = strings.TrimSpace(r.Topic)
	if n := utf8.RuneCountInString(r.Topic); n < minTopicLength || n > maxTopicLength {
		return invalid("topic", "length must be between %d and %d characters", minTopicLength, maxTopicLength)
	}

	r.Keywords = dedupe(r.Keywords)
	r.FocusAreas = dedupe(r.FocusAreas)
	r.TranslateTo = dedupe(r.TranslateTo)

	r.Style = strings.TrimSpace(r.Style)
	if r.Style != "" && !slices.Contains(cfg.SupportedStyles, r.Style) {
		return invalid("style", "unsupported style '%s'. Supported: %s", r.Style, strings.Join(cfg.SupportedStyles, ", "))
	}
	if r.Style == "" {
		r.Style = cfg.DefaultStyle
	}

	r.Language = strings.TrimSpace(r.Language)
	if r.Language != "" && !slices.Contains(cfg.SupportedLanguages, r.Language) {
		return invalid("language", "unsupported language '%s'. Supported: %s", r.Language, strings.Join(cfg.SupportedLanguages, ", "))
	}
	if r.Language == "" {
		r.Language = cfg.DefaultLanguage
	}

	if len(r.Keywords) > cfg.MaxKeywords {
		return invalid("keywords", "too many keywords. Max: %d", cfg.MaxKeywords)
	}
	if len(r.FocusAreas) > cfg.MaxFocusAreas {
		return invalid("focus_areas", "too many focus areas. Max: %d", cfg.MaxFocusAreas)
	}

	if r.MaxSources == nil {
		n := cfg.DefaultMaxSources
		r.MaxSources = &n
	}
	if *r.MaxSources < 1 {
		return invalid("max_sources", "must be greater than or equal to 1")
	}
	if *r.MaxSources > cfg.MaxSourcesLimit {
		return invalid("max_sources", "%d exceeds limit %d", *r.MaxSources, cfg.MaxSourcesLimit)
	}

	r.Instructions = strings.TrimSpace(r.Instructions)
	return nil
}

// TranslateRequest — перевод уже написанной статьи (POST /api/v1/write/translate).
type TranslateRequest struct {
	ArticleID       string   `json:"article_id"`
	TargetLanguages []string `json:"target_languages"`
	SourceFile      string   `json:"source_file,omitempty"`
}

// Validate проверяет обязательные поля.
func (r *TranslateRequest) Validate() error {
	r.ArticleID = strings.TrimSpace(r.ArticleID)
	if r.ArticleID == "" {
		return invalid("article_id", "is required")
	}
	r.TargetLanguages = dedupe(r.TargetLanguages)
	if len(r.TargetLanguages) == 0 {
		return invalid("target_languages", "at least one language is required")
	}
	return nil
}

// ImageGenerationRequest — иллюстрации к написанной статье (POST /api/v1/write/generate-images).
type ImageGenerationRequest struct {
	ArticleID      string `json:"article_id"`
	SourceFile     string `json:"source_file,omitempty"`
	NumberOfImages *int   `json:"number_of_images,omitempty"`
}

// Validate проверяет обязательные поля; number_of_images по умолчанию 1.
func (r *ImageGenerationRequest) Validate() error {
	r.ArticleID = strings.TrimSpace(r.ArticleID)
	if r.ArticleID == "" {
		return invalid("article_id", "is required")
	}
	if r.NumberOfImages == nil {
		one := 1
		r.NumberOfImages = &one
	}
	if *r.NumberOfImages <= 0 {
		return invalid("number_of_images", "must be greater than 0")
	}
	return nil
}

// WriteResponse — ответ всех эндпоинтов записи.
type WriteResponse struct {
	ArticleID       string            `json:"article_id"`
	Status          string            `json:"status"`
	Content         *string           `json:"content"`
	Metadata        map[string]any    `json:"metadata"`
	ProcessingTime  float64           `json:"processing_time"`
	WordCount       *int              `json:"word_count"`
	Error           *string           `json:"error"`
	TraceID         *string           `json:"trace_id"`
	Translations    map[string]string `json:"translations"`
	GeneratedImages []string          `json:"generated_images"`
	FilePaths       map[string]string `json:"file_paths"`
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		cleaned := strings.TrimSpace(v)
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		result = append(result, cleaned)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func strPtr(s string) *string {
	return &s
}
