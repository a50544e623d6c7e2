// Реестр для хранения и поиска инструментов.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ilkoid/poncho-writer/pkg/utils"
)

var (
	// ErrToolNotFound — модель запросила незарегистрированный инструмент.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArgs — аргументы не являются JSON объектом или не содержат обязательных полей.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// NotFoundError описывает запрос неизвестного инструмента.
type NotFoundError struct {
	Name       string
	Registered []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool '%s' not found (registered: %s)", e.Name, strings.Join(e.Registered, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrToolNotFound }

// Registry — потокобезопасное хранилище инструментов.
//
// Заполняется при старте и только читается во время прогонов.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry создает новый пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// validateToolDefinition проверяет что ToolDefinition соответствует JSON Schema.
//
// Валидирует:
//   - Name не пустой
//   - Parameters.type == "object"
//   - Parameters.required является массивом строк
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Parameters == nil {
		return fmt.Errorf("tool '%s': parameters cannot be nil", def.Name)
	}

	typeStr, ok := def.Parameters["type"].(string)
	if !ok {
		return fmt.Errorf("tool '%s': parameters must have string 'type' field", def.Name)
	}
	if typeStr != "object" {
		return fmt.Errorf("tool '%s': parameters.type must be 'object', got: '%s'", def.Name, typeStr)
	}

	if _, exists := def.Parameters["required"]; exists {
		if _, err := requiredFields(def.Parameters); err != nil {
			return fmt.Errorf("tool '%s': %w", def.Name, err)
		}
	}

	return nil
}

// requiredFields достаёт parameters.required как []string.
//
// Схема может быть собрана в Go ([]string) или прочитана из JSON ([]any).
func requiredFields(schema JSONSchema) ([]string, error) {
	switch v := schema["required"].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		result := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameters.required[%d] must be a string, got: %T", i, item)
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("parameters.required must be an array")
	}
}

// Register добавляет инструмент в реестр с валидацией схемы.
//
// Повторная регистрация имени — ошибка.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()

	if err := validateToolDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool '%s' already registered", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// RegisterString регистрирует строковый инструмент через AdaptString.
func (r *Registry) RegisterString(tool StringTool) error {
	return r.Register(AdaptString(tool))
}

// Resolve ищет инструмент по имени.
//
// Неизвестное имя возвращает *NotFoundError со списком зарегистрированных имён.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{Name: name, Registered: r.Names()}
	}
	return tool, nil
}

// Names возвращает отсортированный список зарегистрированных имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions возвращает определения всех инструментов для отправки в LLM.
//
// Порядок детерминирован (по имени), чтобы запросы к модели были воспроизводимы.
func (r *Registry) Definitions() []ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// ProducesFiles сообщает, пишет ли инструмент файлы-артефакты.
func (r *Registry) ProducesFiles(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fp, ok := r.tools[name].(FileProducer)
	return ok && fp.ProducesFiles()
}

// ValidateArgs проверяет аргументы вызова перед исполнением.
//
// Снимает markdown-обёртку, проверяет что это JSON объект и что присутствуют
// все поля из parameters.required. Возвращает очищенный JSON.
func (r *Registry) ValidateArgs(name, argsJSON string) (string, error) {
	tool, err := r.Resolve(name)
	if err != nil {
		return "", err
	}

	cleaned := utils.CleanJsonBlock(argsJSON)
	if cleaned == "" {
		cleaned = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(cleaned), &args); err != nil || args == nil {
		return "", fmt.Errorf("%w: arguments for '%s' must be a JSON object", ErrInvalidArgs, name)
	}

	required, err := requiredFields(tool.Definition().Parameters)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	var missing []string
	for _, field := range required {
		if _, ok := args[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing required fields for '%s': %s", ErrInvalidArgs, name, strings.Join(missing, ", "))
	}

	return cleaned, nil
}
