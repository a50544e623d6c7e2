package chain

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

// DefaultMaxIterations — стандартный лимит циклов AGENT→ACTION.
const DefaultMaxIterations = 15

// DefaultToolTimeout — защитный timeout инструмента, если конфиг его не задал.
const DefaultToolTimeout = 5 * time.Minute

// DefaultEventBuffer — размер буфера канала событий Run.
const DefaultEventBuffer = 16

// DefaultSystemPrompt — системный промпт агента-писателя по умолчанию.
const DefaultSystemPrompt = `You are a professional science writer with access to tools.

Follow the numbered steps of the user's request in order. Use the tools to research,
save, translate and illustrate. Never invent file paths: use the paths the tools return.

When every step is done, call the "finish" tool with a short summary of what was produced.
If a tool fails, decide whether to retry with different arguments or to continue without it.`

// DebugConfig — настройки JSON трейса прогона.
type DebugConfig struct {
	// Enabled включает запись трейса (app.debug).
	Enabled bool

	// LogsDir — директория для JSON файлов.
	LogsDir string

	IncludeToolArgs    bool
	IncludeToolResults bool

	// MaxResultSize — обрезка результатов инструментов (0 = без ограничений).
	MaxResultSize int
}

// ReActCycleConfig — конфигурация графа агента.
//
// Используется при создании ReActCycle через NewReActCycle.
// Конфигурация может быть загружена из YAML (FromAppConfig) или создана программно.
type ReActCycleConfig struct {
	// SystemPrompt — системный промпт, добавляется перед историей в каждом Model Step.
	SystemPrompt string

	// MaxIterations — лимит завершённых циклов AGENT→ACTION.
	// По умолчанию: DefaultMaxIterations.
	MaxIterations int

	// ToolTimeout — timeout одного вызова инструмента.
	ToolTimeout time.Duration

	// ToolTimeouts — переопределения timeout по имени инструмента.
	ToolTimeouts map[string]time.Duration

	// ParallelTools разрешает параллельный запуск вызовов одной пачки.
	ParallelTools bool

	// EventBuffer — размер буфера канала событий.
	EventBuffer int

	Debug DebugConfig
}

// NewReActCycleConfig создаёт конфигурацию с дефолтными значениями.
func NewReActCycleConfig() ReActCycleConfig {
	return ReActCycleConfig{
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: DefaultMaxIterations,
		ToolTimeout:   DefaultToolTimeout,
		EventBuffer:   DefaultEventBuffer,
	}
}

// FromAppConfig строит конфигурацию графа из секций agent, tools и app.
//
// Rule 2: Конфигурация через YAML с дефолтными значениями.
func FromAppConfig(cfg *config.AppConfig) ReActCycleConfig {
	result := NewReActCycleConfig()
	if cfg == nil {
		return result
	}

	agent := cfg.Agent
	if agent.SystemPrompt != "" {
		result.SystemPrompt = agent.SystemPrompt
	}
	if agent.MaxIterations > 0 {
		result.MaxIterations = agent.MaxIterations
	}
	if agent.ToolTimeout > 0 {
		result.ToolTimeout = agent.ToolTimeout
	}
	if agent.EventBuffer > 0 {
		result.EventBuffer = agent.EventBuffer
	}
	result.ParallelTools = agent.ParallelTools

	for name, tc := range cfg.Tools {
		if tc.Timeout <= 0 {
			continue
		}
		if result.ToolTimeouts == nil {
			result.ToolTimeouts = make(map[string]time.Duration)
		}
		result.ToolTimeouts[name] = tc.Timeout
	}

	if cfg.App.Debug {
		result.Debug = DebugConfig{
			Enabled:            true,
			LogsDir:            filepath.Join(cfg.App.OutputDir, "debug"),
			IncludeToolArgs:    true,
			IncludeToolResults: true,
			MaxResultSize:      4000,
		}
	}

	return result
}

// normalize подставляет дефолты вместо нулевых и отрицательных значений.
func (c ReActCycleConfig) normalize() ReActCycleConfig {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Validate проверяет конфигурацию на валидность.
//
// Rule 7: Возвращает ошибку вместо panic.
func (c *ReActCycleConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations)
	}
	if c.ToolTimeout < 0 {
		return fmt.Errorf("tool_timeout must not be negative, got %v", c.ToolTimeout)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative, got %d", c.EventBuffer)
	}
	for name, t := range c.ToolTimeouts {
		if t < 0 {
			return fmt.Errorf("timeout for tool %q must not be negative", name)
		}
	}
	if c.Debug.Enabled && c.Debug.LogsDir == "" {
		return fmt.Errorf("debug logs dir is required when debug is enabled")
	}
	return nil
}

// producesFilesFunc возвращает предикат file-producing инструментов реестра.
func producesFilesFunc(registry *tools.Registry) func(string) bool {
	if registry == nil {
		return nil
	}
	return registry.ProducesFiles
}
