package chain

import (
	"context"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// ExecutionObserver — наблюдатель за жизненным циклом прогона.
//
// Изолирует cross-cutting concerns (события, логи, debug трейс) от цикла
// ReActExecutor. Итерация = один Model Step и пачка инструментов после него.
//
// Контракт:
//  1. OnStart вызывается один раз в начале
//  2. OnIterationStart/OnIterationEnd вызываются для каждой итерации
//  3. OnFinish вызывается один раз в конце (штатно или с ошибкой)
//
// Итерация, прерванная отменой, может не получить OnIterationEnd.
type ExecutionObserver interface {
	OnStart(ctx context.Context, exec *ReActExecution)
	OnIterationStart(exec *ReActExecution, iteration int)
	OnIterationEnd(exec *ReActExecution, iteration int)
	OnFinish(ctx context.Context, exec *ReActExecution, err error)
}

// EmitterObserver отправляет финальное событие run_ended.
//
// Thread-safe при thread-safe events.Emitter.
type EmitterObserver struct {
	emitter events.Emitter
}

// NewEmitterObserver создаёт новый EmitterObserver.
func NewEmitterObserver(emitter events.Emitter) *EmitterObserver {
	return &EmitterObserver{emitter: emitter}
}

// OnStart ничего не отправляет.
func (o *EmitterObserver) OnStart(ctx context.Context, exec *ReActExecution) {}

// OnIterationStart ничего не отправляет.
func (o *EmitterObserver) OnIterationStart(exec *ReActExecution, iteration int) {}

// OnIterationEnd ничего не отправляет: события итерации шлёт EmitterIterationObserver.
func (o *EmitterObserver) OnIterationEnd(exec *ReActExecution, iteration int) {}

// OnFinish отправляет run_ended с полной историей.
//
// Событие отправляется и для отменённого прогона: потребитель должен получить
// итог, поэтому отмена ctx не отбрасывает его.
func (o *EmitterObserver) OnFinish(ctx context.Context, exec *ReActExecution, err error) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(context.WithoutCancel(ctx), events.New(events.EventRunEnded, events.RunEndedData{
		Messages:   exec.chainCtx.GetMessages(),
		Outputs:    exec.chainCtx.Outputs(),
		Iterations: exec.chainCtx.GetCurrentIteration(),
		Err:        err,
	}))
}

var _ ExecutionObserver = (*EmitterObserver)(nil)

// EmitterIterationObserver отправляет события внутри итерации.
//
// В отличие от ExecutionObserver, вызывается из executor напрямую:
// событиям нужны данные шага (сообщение модели, результаты инструментов).
type EmitterIterationObserver struct {
	emitter events.Emitter
}

// NewEmitterIterationObserver создаёт новый EmitterIterationObserver.
func NewEmitterIterationObserver(emitter events.Emitter) *EmitterIterationObserver {
	return &EmitterIterationObserver{emitter: emitter}
}

// EmitModelResponded отправляет model_responded.
func (o *EmitterIterationObserver) EmitModelResponded(ctx context.Context, msg llm.Message, iteration int) {
	if o == nil || o.emitter == nil {
		return
	}
	o.emitter.Emit(ctx, events.New(events.EventModelResponded, events.ModelRespondedData{
		Message:   msg,
		Iteration: iteration,
	}))
}

// EmitToolInvoked отправляет tool_invoked для каждого результата, в порядке запроса.
func (o *EmitterIterationObserver) EmitToolInvoked(ctx context.Context, results []ToolResult) {
	if o == nil || o.emitter == nil {
		return
	}
	for _, r := range results {
		o.emitter.Emit(ctx, events.New(events.EventToolInvoked, events.ToolInvokedData{
			Name:     r.Call.Name,
			CallID:   r.Call.ID,
			Output:   r.Output,
			Duration: r.Duration,
		}))
	}
}

// LoggingObserver пишет жизненный цикл прогона в структурированный лог.
type LoggingObserver struct{}

// OnStart логирует начало прогона.
func (LoggingObserver) OnStart(ctx context.Context, exec *ReActExecution) {
	utils.Info("Agent run started",
		"max_iterations", exec.config.MaxIterations,
		"seed_length", len(exec.seed))
}

// OnIterationStart логирует номер итерации.
func (LoggingObserver) OnIterationStart(exec *ReActExecution, iteration int) {
	utils.Debug("Agent iteration started", "iteration", iteration)
}

// OnIterationEnd логирует состав итерации.
func (LoggingObserver) OnIterationEnd(exec *ReActExecution, iteration int) {
	failed := 0
	for _, r := range exec.lastToolResults {
		if !r.Output.OK() {
			failed++
		}
	}
	utils.Debug("Agent iteration ended",
		"iteration", iteration,
		"tool_calls", len(exec.lastToolResults),
		"failed_tools", failed,
		"next", exec.state.String())
}

// OnFinish логирует итог прогона.
func (LoggingObserver) OnFinish(ctx context.Context, exec *ReActExecution, err error) {
	if err != nil {
		utils.Warn("Agent run ended with error",
			"iterations", exec.chainCtx.GetCurrentIteration(),
			"cycles", exec.cycles,
			"error", err,
			"duration_ms", exec.Elapsed().Milliseconds())
		return
	}
	utils.Info("Agent run ended",
		"iterations", exec.chainCtx.GetCurrentIteration(),
		"cycles", exec.cycles,
		"duration_ms", exec.Elapsed().Milliseconds())
}

var _ ExecutionObserver = LoggingObserver{}
