package chain

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// StepExecutor — исполнитель графа над ReActExecution.
//
// Возвращает причину аварийного завершения или nil для штатного END.
// Ожидаемые сбои (модель, инструменты) ошибкой не являются: они в истории.
type StepExecutor interface {
	Execute(ctx context.Context, exec *ReActExecution) error
}

// ReActExecutor исполняет граф AGENT → ACTION → ... → END.
//
// # Цикл
//
//	state = AGENT
//	loop:
//	  ctx отменён      → ErrRunCancelled
//	  END              → выход
//	  AGENT:
//	    cycles ≥ limit → ErrStepLimitExceeded (модель не вызывается)
//	    Model Step     → model_responded, next = ACTION | END
//	  ACTION:
//	    Tool Step      → tool_invoked × N, cycles++, next = AGENT | END
//
// # Observers
//
// Lifecycle уведомления идут в ExecutionObserver, события итерации —
// в EmitterIterationObserver.
//
// Thread-safe при изолированных ReActExecution.
type ReActExecutor struct {
	observers         []ExecutionObserver
	iterationObserver *EmitterIterationObserver
}

// NewReActExecutor создаёт новый ReActExecutor.
func NewReActExecutor() *ReActExecutor {
	return &ReActExecutor{
		observers: make([]ExecutionObserver, 0),
	}
}

// AddObserver добавляет наблюдателя. Вызывать до Execute().
func (e *ReActExecutor) AddObserver(observer ExecutionObserver) {
	e.observers = append(e.observers, observer)
}

// SetIterationObserver устанавливает наблюдатель событий итерации. Вызывать до Execute().
func (e *ReActExecutor) SetIterationObserver(observer *EmitterIterationObserver) {
	e.iterationObserver = observer
}

// Execute выполняет граф до END.
func (e *ReActExecutor) Execute(ctx context.Context, exec *ReActExecution) error {
	initAgentMetrics()
	ctx, span := tracerOrDefault(exec.tracer).Start(ctx, "Agent.Run", trace.WithAttributes(
		attribute.Int("agent.max_iterations", exec.config.MaxIterations),
	))
	defer span.End()

	agentRunCounter.Add(ctx, 1)
	e.notifyStart(ctx, exec)

	err := e.loop(ctx, exec)
	exec.runErr = err
	exec.state = StateEnd

	span.SetAttributes(
		attribute.Int("agent.iterations", exec.chainCtx.GetCurrentIteration()),
		attribute.Int("agent.cycles", exec.cycles),
	)
	status := "completed"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		agentErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error", errorKind(err))))
	}
	agentRunLatencyMs.Record(ctx, float64(exec.Elapsed().Microseconds())/1000, metric.WithAttributes(
		attribute.String("status", status),
	))

	e.notifyFinish(ctx, exec, err)
	return err
}

func (e *ReActExecutor) loop(ctx context.Context, exec *ReActExecution) error {
	for {
		// Отмена проверяется и после последнего шага: сбой модели или
		// инструмента из-за отменённого ctx не считается штатным END.
		if ctx.Err() != nil {
			return ErrRunCancelled
		}

		switch exec.state {
		case StateEnd:
			return nil

		case StateAgent:
			if exec.cycles >= exec.config.MaxIterations {
				utils.Warn("Step limit reached",
					"max_iterations", exec.config.MaxIterations,
					"model_calls", exec.chainCtx.GetCurrentIteration())
				return ErrStepLimitExceeded
			}
			if err := e.agentStep(ctx, exec); err != nil {
				return err
			}

		case StateAction:
			if err := e.actionStep(ctx, exec); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown graph state %s", exec.state)
		}
	}
}

// agentStep выполняет Model Step и открывает итерацию.
func (e *ReActExecutor) agentStep(ctx context.Context, exec *ReActExecution) error {
	iteration := exec.chainCtx.GetCurrentIteration() + 1
	exec.lastToolResults = nil
	e.notifyIterationStart(exec, iteration)

	result := exec.llmStep.Execute(ctx, exec.chainCtx)
	if result.Action == ActionError || result.Error != nil {
		return stepError(exec.llmStep, result)
	}

	if last := exec.chainCtx.GetLastMessage(); last != nil {
		exec.lastResponse = *last
	}
	e.iterationObserver.EmitModelResponded(ctx, exec.lastResponse, iteration)

	exec.state = result.Next
	if exec.state == StateEnd {
		e.notifyIterationEnd(exec, iteration)
	}
	return nil
}

// actionStep выполняет Tool Step и закрывает итерацию.
func (e *ReActExecutor) actionStep(ctx context.Context, exec *ReActExecution) error {
	result := exec.toolStep.Execute(ctx, exec.chainCtx)
	if result.Action == ActionError || result.Error != nil {
		return stepError(exec.toolStep, result)
	}

	exec.lastToolResults = exec.toolStep.GetToolResults()
	e.iterationObserver.EmitToolInvoked(ctx, exec.lastToolResults)

	exec.cycles++
	exec.state = result.Next
	e.notifyIterationEnd(exec, exec.chainCtx.GetCurrentIteration())
	return nil
}

func stepError(step Step, result StepResult) error {
	if result.Error != nil {
		return fmt.Errorf("%s step: %w", step.Name(), result.Error)
	}
	return fmt.Errorf("%s step failed", step.Name())
}

// errorKind возвращает короткий класс ошибки для атрибутов метрик.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrStepLimitExceeded):
		return "step_limit"
	case errors.Is(err, ErrRunCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}

func (e *ReActExecutor) notifyStart(ctx context.Context, exec *ReActExecution) {
	for _, obs := range e.observers {
		obs.OnStart(ctx, exec)
	}
}

func (e *ReActExecutor) notifyIterationStart(exec *ReActExecution, iteration int) {
	for _, obs := range e.observers {
		obs.OnIterationStart(exec, iteration)
	}
}

func (e *ReActExecutor) notifyIterationEnd(exec *ReActExecution, iteration int) {
	for _, obs := range e.observers {
		obs.OnIterationEnd(exec, iteration)
	}
}

func (e *ReActExecutor) notifyFinish(ctx context.Context, exec *ReActExecution, err error) {
	for _, obs := range e.observers {
		obs.OnFinish(ctx, exec, err)
	}
}

var _ StepExecutor = (*ReActExecutor)(nil)
