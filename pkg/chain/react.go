package chain

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/models"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// ReActCycle — граф агента-писателя.
//
// ReActCycle — immutable template: зависимости задаются сеттерами до первого
// прогона, каждый Run создаёт свой ReActExecution. Несколько прогонов могут
// работать параллельно.
//
// Rule 1: Работает с Tool interface ("Raw In, Output Out")
// Rule 2: Конфигурация через YAML
// Rule 3: Tools вызываются через Registry
// Rule 4: LLM вызывается через llm.Provider
// Rule 5: Thread-safe через immutability (шаблон + execution)
// Rule 7: Все ошибки возвращаются, нет panic
type ReActCycle struct {
	modelRegistry *models.Registry
	registry      *tools.Registry

	// defaultModel — модель агента (models.default_chat)
	defaultModel string

	config ReActCycleConfig

	// Steps (immutable template - клонируются в execution)
	llmStep  *LLMInvocationStep
	toolStep *ToolExecutionStep

	tracer trace.Tracer

	// observers — дополнительные наблюдатели для каждого прогона
	observers []ExecutionObserver
}

// NewReActCycle создаёт граф с данной конфигурацией.
//
// Невалидная конфигурация заменяется дефолтной с предупреждением в логе.
func NewReActCycle(config ReActCycleConfig) *ReActCycle {
	if err := config.Validate(); err != nil {
		utils.Warn("Invalid agent config, using defaults", "error", err)
		config = NewReActCycleConfig()
	}
	config = config.normalize()

	cycle := &ReActCycle{
		config: config,
		tracer: defaultTracer(),
	}

	cycle.llmStep = &LLMInvocationStep{
		systemPrompt:  config.SystemPrompt,
		parallelTools: config.ParallelTools,
	}

	cycle.toolStep = &ToolExecutionStep{
		defaultToolTimeout: config.ToolTimeout,
		toolTimeouts:       copyTimeouts(config.ToolTimeouts),
		parallel:           config.ParallelTools,
	}

	return cycle
}

// SetModelRegistry устанавливает реестр моделей и модель агента.
//
// Пустой defaultModel означает дефолт реестра.
func (c *ReActCycle) SetModelRegistry(registry *models.Registry, defaultModel string) {
	if defaultModel == "" && registry != nil {
		defaultModel = registry.Default()
	}
	c.modelRegistry = registry
	c.defaultModel = defaultModel
	c.llmStep.modelRegistry = registry
	c.llmStep.defaultModel = defaultModel
}

// SetRegistry устанавливает реестр инструментов.
//
// Rule 3: Tools вызываются через Registry.
func (c *ReActCycle) SetRegistry(registry *tools.Registry) {
	c.registry = registry
	c.llmStep.registry = registry
	c.toolStep.registry = registry
}

// SetToolTimeout переопределяет timeout конкретного инструмента.
func (c *ReActCycle) SetToolTimeout(toolName string, timeout time.Duration) {
	c.toolStep.SetToolTimeout(toolName, timeout)
}

// SetTracer заменяет tracer (по умолчанию — глобальный otel провайдер).
func (c *ReActCycle) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		c.tracer = tracer
	}
}

// AddObserver добавляет наблюдателя, который получит события каждого прогона.
//
// Наблюдатель должен быть thread-safe: прогоны идут параллельно.
func (c *ReActCycle) AddObserver(observer ExecutionObserver) {
	c.observers = append(c.observers, observer)
}

// Config возвращает копию конфигурации графа.
func (c *ReActCycle) Config() ReActCycleConfig {
	return c.config
}

// Run запускает прогон в отдельной goroutine и возвращает поток событий.
//
// Канал ограничен agent.event_buffer и закрывается после run_ended.
// Невалидные зависимости и panic внутри графа превращаются в run_ended с Err.
func (c *ReActCycle) Run(ctx context.Context, seed string) <-chan events.Event {
	emitter := events.NewChanEmitter(c.config.EventBuffer)

	go func() {
		defer emitter.Close()

		endWith := func(err error) {
			emitter.Emit(context.WithoutCancel(ctx), events.New(events.EventRunEnded, events.RunEndedData{Err: err}))
		}

		if err := c.validateDependencies(); err != nil {
			endWith(fmt.Errorf("invalid dependencies: %w", err))
			return
		}

		defer func() {
			if r := recover(); r != nil {
				utils.Error("Agent run panicked", "panic", r)
				endWith(fmt.Errorf("agent run panicked: %v", r))
			}
		}()

		exec := NewReActExecution(seed, c.llmStep, c.toolStep, emitter, c.tracer, &c.config)
		executor := c.newExecutor(emitter)
		_ = executor.Execute(ctx, exec)
	}()

	return emitter.Events()
}

// newExecutor собирает executor с наблюдателями для одного прогона.
func (c *ReActCycle) newExecutor(emitter events.Emitter) *ReActExecutor {
	executor := NewReActExecutor()
	executor.AddObserver(LoggingObserver{})

	if c.config.Debug.Enabled {
		recorder, err := NewChainDebugRecorder(c.config.Debug)
		if err != nil {
			utils.Warn("Debug recorder disabled", "error", err)
		} else {
			executor.AddObserver(recorder)
		}
	}

	for _, obs := range c.observers {
		executor.AddObserver(obs)
	}

	executor.SetIterationObserver(NewEmitterIterationObserver(emitter))

	// EmitterObserver последним: run_ended закрывает поток после всех наблюдателей.
	executor.AddObserver(NewEmitterObserver(emitter))
	return executor
}

// Execute запускает прогон и ждёт итог.
func (c *ReActCycle) Execute(ctx context.Context, seed string) RunOutcome {
	return Collect(ctx, c.Run(ctx, seed), producesFilesFunc(c.registry))
}

// validateDependencies проверяет что все зависимости установлены.
//
// Rule 7: Возвращает ошибку вместо panic.
func (c *ReActCycle) validateDependencies() error {
	if c.modelRegistry == nil {
		return fmt.Errorf("model registry is not set (call SetModelRegistry)")
	}
	if c.defaultModel == "" {
		return fmt.Errorf("default model is not set")
	}
	if c.registry == nil {
		return fmt.Errorf("tools registry is not set (call SetRegistry)")
	}
	return nil
}

var _ Chain = (*ReActCycle)(nil)
