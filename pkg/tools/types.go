// Интерфейс Tool и структуры определений.

package tools

import "context"

// JSONSchema представляет JSON Schema для параметров инструмента.
//
// Формат соответствует JSON Schema для Function Calling API.
type JSONSchema map[string]any

// ToolDefinition описывает инструмент для LLM (Function Calling API format).
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  JSONSchema `json:"parameters"` // JSON Schema объекта аргументов
}

// Tool — контракт, который должен реализовать любой инструмент.
type Tool interface {
	// Definition возвращает описание инструмента для LLM.
	Definition() ToolDefinition

	// Execute выполняет логику инструмента.
	// argsJSON — сырой JSON объект с аргументами, который прислала LLM.
	// Ожидаемые неудачи возвращаются как Failure; error означает сбой исполнения,
	// который Tool Step сам превратит в Failure.
	Execute(ctx context.Context, argsJSON string) (Output, error)
}

// StringTool — инструмент старого формата: "сырой JSON на входе, строка на выходе".
//
// Регистрируется через AdaptString, строка разбирается в Output один раз на границе.
type StringTool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, argsJSON string) (string, error)
}

// FileProducer помечает инструменты, результаты которых содержат путь к артефакту.
//
// Только такие инструменты попадают в artifact_paths итога прогона.
type FileProducer interface {
	ProducesFiles() bool
}
