package chain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
)

// ReActExecution — runtime состояние одного прогона.
//
// Чистый контейнер данных: логика цикла живёт в ReActExecutor.
// ReActCycle (template) → создаёт → ReActExecution (runtime data) → исполняет → ReActExecutor.
//
// Thread-safe: создаётся на каждый Run и не разделяется между прогонами.
type ReActExecution struct {
	chainCtx *ChainContext

	// Steps (локальные экземпляры для этого прогона)
	llmStep  *LLMInvocationStep
	toolStep *ToolExecutionStep

	emitter events.Emitter
	tracer  trace.Tracer

	// config — ссылка на конфигурацию шаблона (только чтение)
	config *ReActCycleConfig

	seed      string
	startTime time.Time

	// state — текущее состояние графа
	state GraphState

	// cycles — число завершённых циклов AGENT→ACTION
	cycles int

	// lastResponse — сообщение последнего Model Step
	lastResponse llm.Message

	// lastToolResults — результаты Tool Step текущей итерации
	lastToolResults []ToolResult

	// runErr — причина аварийного завершения (step limit, отмена, нарушение контракта)
	runErr error
}

// NewReActExecution создаёт execution для одного прогона.
//
// Клонирует шаги из шаблона для изоляции состояния между прогонами.
func NewReActExecution(
	seed string,
	llmStepTemplate *LLMInvocationStep,
	toolStepTemplate *ToolExecutionStep,
	emitter events.Emitter,
	tracer trace.Tracer,
	config *ReActCycleConfig,
) *ReActExecution {
	llmStep := &LLMInvocationStep{
		modelRegistry: llmStepTemplate.modelRegistry,
		defaultModel:  llmStepTemplate.defaultModel,
		registry:      llmStepTemplate.registry,
		systemPrompt:  llmStepTemplate.systemPrompt,
		parallelTools: llmStepTemplate.parallelTools,
		tracer:        tracer,
	}

	toolStep := &ToolExecutionStep{
		registry:           toolStepTemplate.registry,
		defaultToolTimeout: toolStepTemplate.defaultToolTimeout,
		toolTimeouts:       copyTimeouts(toolStepTemplate.toolTimeouts),
		parallel:           toolStepTemplate.parallel,
		tracer:             tracer,
	}

	return &ReActExecution{
		chainCtx:  NewChainContext(seed),
		llmStep:   llmStep,
		toolStep:  toolStep,
		emitter:   emitter,
		tracer:    tracer,
		config:    config,
		seed:      seed,
		startTime: time.Now(),
		state:     StateAgent,
	}
}

// ChainContext возвращает историю прогона.
func (e *ReActExecution) ChainContext() *ChainContext {
	return e.chainCtx
}

// State возвращает текущее состояние графа.
func (e *ReActExecution) State() GraphState {
	return e.state
}

// Seed возвращает исходное сообщение пользователя.
func (e *ReActExecution) Seed() string {
	return e.seed
}

// Elapsed возвращает время с начала прогона.
func (e *ReActExecution) Elapsed() time.Duration {
	return time.Since(e.startTime)
}

// emitEvent отправляет событие если emitter установлен.
func (e *ReActExecution) emitEvent(ctx context.Context, event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(ctx, event)
}

func copyTimeouts(src map[string]time.Duration) map[string]time.Duration {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]time.Duration, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
