package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// ToolExecutionStep — Tool Step графа.
//
// Для каждого tool call последнего assistant сообщения: resolve → validate →
// execute под таймаутом. Любой сбой (нет инструмента, плохие аргументы,
// ошибка, panic, таймаут, отмена) превращается в Failure Output только этого
// вызова. Результаты добавляются в историю в порядке запроса.
//
// Rule 1: Работает с Tool interface.
// Rule 3: Tools вызываются через Registry.
// Rule 7: panic инструмента перехватывается и не роняет прогон.
type ToolExecutionStep struct {
	// registry — реестр инструментов (Rule 3)
	registry *tools.Registry

	// defaultToolTimeout — защитный timeout для выполнения инструментов
	defaultToolTimeout time.Duration

	// toolTimeouts — переопределение timeout для конкретных инструментов
	toolTimeouts map[string]time.Duration

	// parallel разрешает параллельный запуск вызовов одной пачки
	parallel bool

	tracer trace.Tracer

	// toolResults — результаты последнего Execute (в порядке запроса)
	toolResults []ToolResult
}

// ToolResult — результат выполнения одного инструмента.
type ToolResult struct {
	Call     llm.ToolCall
	Output   tools.Output
	Duration time.Duration
}

// Name возвращает имя Step (для логирования).
func (s *ToolExecutionStep) Name() string {
	return "tool_execution"
}

// Execute выполняет все инструменты из последнего LLM ответа.
//
// Возвращает StepResult{Next: StateEnd} если в пачке был вызов TerminalTool,
// иначе StepResult{Next: StateAgent}. Ошибка возвращается только когда
// последнее сообщение не является assistant сообщением с tool calls.
func (s *ToolExecutionStep) Execute(ctx context.Context, chainCtx *ChainContext) StepResult {
	s.toolResults = nil

	lastMsg := chainCtx.GetLastMessage()
	if lastMsg == nil || lastMsg.Role != llm.RoleAssistant || !lastMsg.HasToolCalls() {
		return StepResult{}.WithError(fmt.Errorf("tool step requires an assistant message with tool calls"))
	}
	calls := lastMsg.ToolCalls

	results := make([]ToolResult, len(calls))
	if s.parallel && len(calls) > 1 {
		var wg sync.WaitGroup
		for i, tc := range calls {
			wg.Add(1)
			go func(i int, tc llm.ToolCall) {
				defer wg.Done()
				results[i] = s.executeToolCall(ctx, tc)
			}(i, tc)
		}
		wg.Wait()
	} else {
		for i, tc := range calls {
			results[i] = s.executeToolCall(ctx, tc)
		}
	}

	for _, r := range results {
		chainCtx.AppendToolResult(r.Call, r.Output)
	}
	s.toolResults = results

	return StepResult{
		Action: ActionContinue,
		Next:   routeAfterAction(calls),
	}
}

// executeToolCall выполняет один tool call и всегда возвращает Output.
//
// Tool Timeout Protection:
//   - Использует defaultToolTimeout для предотвращения зависания
//   - Конкретный timeout можно переопределить через SetToolTimeout()
//   - При timeout возвращает Failure без блокировки всего агента
func (s *ToolExecutionStep) executeToolCall(ctx context.Context, tc llm.ToolCall) ToolResult {
	start := time.Now()
	result := ToolResult{Call: tc}

	ctx, span := tracerOrDefault(s.tracer).Start(ctx, "Agent.Tool", trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", tc.ID),
	))
	defer span.End()

	result.Output = s.invoke(ctx, tc)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Bool("tool.success", result.Output.OK()))
	initAgentMetrics()
	toolLatencyMs.Record(ctx, float64(result.Duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.Bool("tool.success", result.Output.OK()),
	))
	if !result.Output.OK() {
		span.SetStatus(codes.Error, result.Output.Reason)
		utils.Warn("Tool call failed",
			"tool", tc.Name,
			"call_id", tc.ID,
			"reason", result.Output.Reason,
			"duration_ms", result.Duration.Milliseconds())
	} else {
		utils.Debug("Tool call completed",
			"tool", tc.Name,
			"call_id", tc.ID,
			"path", result.Output.Path,
			"duration_ms", result.Duration.Milliseconds())
	}

	return result
}

func (s *ToolExecutionStep) invoke(ctx context.Context, tc llm.ToolCall) tools.Output {
	// 1. Проверяем имя и аргументы до вызова
	cleanArgs, err := s.registry.ValidateArgs(tc.Name, tc.Args)
	if err != nil {
		var notFound *tools.NotFoundError
		if errors.As(err, &notFound) {
			return tools.Failure("tool not found", map[string]any{
				"requested":  notFound.Name,
				"registered": notFound.Registered,
			})
		}
		return tools.Failure("invalid arguments", map[string]any{
			"tool":  tc.Name,
			"cause": err.Error(),
		})
	}

	tool, err := s.registry.Resolve(tc.Name)
	if err != nil {
		return tools.Failure("tool not found", map[string]any{"requested": tc.Name})
	}

	// 2. Определяем timeout для этого инструмента
	timeout := s.timeoutFor(tc.Name)
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 3. Выполняем tool в отдельной goroutine для возможности отмены
	type execResult struct {
		output tools.Output
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, execErr := tool.Execute(toolCtx, cleanArgs)
		resultChan <- execResult{output: out, err: execErr}
	}()

	// 4. Ждём результат или timeout
	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return tools.Failure("tool execution timeout", map[string]any{
				"tool":    tc.Name,
				"timeout": timeout.String(),
			})
		}
		return tools.Failure("tool execution cancelled", map[string]any{"tool": tc.Name})

	case res := <-resultChan:
		if res.err != nil {
			return tools.Failure("tool execution failed", map[string]any{
				"tool":  tc.Name,
				"cause": res.err.Error(),
			})
		}
		if res.output.Kind == "" {
			res.output.Kind = tools.KindSuccess
		}
		return res.output
	}
}

func (s *ToolExecutionStep) timeoutFor(name string) time.Duration {
	if t, ok := s.toolTimeouts[name]; ok && t > 0 {
		return t
	}
	if s.defaultToolTimeout > 0 {
		return s.defaultToolTimeout
	}
	return DefaultToolTimeout
}

// GetToolResults возвращает результаты последнего Execute.
func (s *ToolExecutionStep) GetToolResults() []ToolResult {
	return s.toolResults
}

// SetDefaultToolTimeout устанавливает защитный timeout для всех инструментов.
//
// Thread-safe: вызывать до начала Execute().
func (s *ToolExecutionStep) SetDefaultToolTimeout(timeout time.Duration) {
	s.defaultToolTimeout = timeout
}

// SetToolTimeout устанавливает индивидуальный timeout для конкретного инструмента.
//
// Thread-safe: вызывать до начала Execute().
func (s *ToolExecutionStep) SetToolTimeout(toolName string, timeout time.Duration) {
	if s.toolTimeouts == nil {
		s.toolTimeouts = make(map[string]time.Duration)
	}
	s.toolTimeouts[toolName] = timeout
}

// GetDefaultToolTimeout возвращает текущий default timeout.
func (s *ToolExecutionStep) GetDefaultToolTimeout() time.Duration {
	return s.defaultToolTimeout
}
