package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/models"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// ModelErrorPrefix — начало синтетического сообщения об ошибке вызова модели.
const ModelErrorPrefix = "An error occurred while calling the model: "

// LLMInvocationStep — Model Step графа.
//
// Отправляет всю историю (с системным промптом) и определения инструментов
// в llm.Provider и добавляет ровно одно assistant сообщение.
//
// Ошибка провайдера не выходит наружу: в историю добавляется синтетическое
// сообщение с Failed=true и без tool calls, политика переходов ведёт в END.
// Повторов нет.
//
// Rule 4: Работает через llm.Provider интерфейс.
// Rule 5: Thread-safe через ChainContext.
type LLMInvocationStep struct {
	// modelRegistry — реестр LLM провайдеров
	modelRegistry *models.Registry

	// defaultModel — имя модели агента (models.default_chat)
	defaultModel string

	// registry — реестр инструментов для получения определений
	registry *tools.Registry

	systemPrompt  string
	parallelTools bool
	tracer        trace.Tracer
}

// Name возвращает имя Step (для логирования).
func (s *LLMInvocationStep) Name() string {
	return "llm_invocation"
}

// Execute выполняет LLM вызов.
//
// Возвращает StepResult{Next: StateAction} если модель запросила инструменты,
// иначе StepResult{Next: StateEnd}.
func (s *LLMInvocationStep) Execute(ctx context.Context, chainCtx *ChainContext) StepResult {
	start := time.Now()
	iteration := chainCtx.IncrementIteration()

	msg, modelName, err := s.invoke(ctx, chainCtx, iteration)
	if err != nil {
		utils.Error("Model call failed",
			"iteration", iteration,
			"model", modelName,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		msg = llm.Message{
			Role:    llm.RoleAssistant,
			Content: ModelErrorPrefix + err.Error(),
			Failed:  true,
		}
	} else {
		utils.Debug("Model responded",
			"iteration", iteration,
			"model", modelName,
			"tool_calls", len(msg.ToolCalls),
			"content_length", len(msg.Content),
			"duration_ms", time.Since(start).Milliseconds())
	}

	chainCtx.AppendMessage(msg)

	return StepResult{
		Action: ActionContinue,
		Next:   routeAfterAgent(msg),
	}
}

// invoke вызывает провайдера под таймаутом модели и нормализует ответ.
func (s *LLMInvocationStep) invoke(ctx context.Context, chainCtx *ChainContext, iteration int) (llm.Message, string, error) {
	model, err := s.modelRegistry.Resolve(s.defaultModel)
	if err != nil {
		return llm.Message{}, s.defaultModel, fmt.Errorf("failed to get model provider: %w", err)
	}

	messages := chainCtx.BuildContextMessages(s.systemPrompt)
	toolDefs := s.registry.Definitions()

	ctx, span := tracerOrDefault(s.tracer).Start(ctx, "Agent.LLM", trace.WithAttributes(
		attribute.String("llm.model", model.Name),
		attribute.Int("agent.iteration", iteration),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(toolDefs)),
	))
	defer span.End()

	if model.Def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, model.Def.Timeout)
		defer cancel()
	}

	opts := []any{toolDefs}
	if len(toolDefs) > 0 {
		opts = append(opts, llm.WithParallelToolCalls(s.parallelTools))
	}

	callStart := time.Now()
	resp, err := model.Provider.Generate(ctx, messages, opts...)
	initAgentMetrics()
	llmLatencyMs.Record(ctx, float64(time.Since(callStart).Microseconds())/1000, metric.WithAttributes(
		attribute.String("llm.model", model.Name),
		attribute.Bool("llm.success", err == nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return llm.Message{}, model.Name, err
	}

	resp.Role = llm.RoleAssistant
	resp.Failed = false
	assignCallIDs(resp.ToolCalls, chainCtx.GetMessages())

	span.SetAttributes(attribute.Int("llm.tool_calls", len(resp.ToolCalls)))
	return resp, model.Name, nil
}

// assignCallIDs выдаёт новый id вызовам без id и вызовам, чей id уже встречался
// в истории или раньше в этой же пачке.
//
// Некоторые OpenAI-совместимые API не присылают id или повторяют call_0 на каждом ходу,
// а результаты инструментов сопоставляются с вызовами по id.
func assignCallIDs(calls []llm.ToolCall, history []llm.Message) {
	seen := make(map[string]struct{})
	for _, msg := range history {
		for _, tc := range msg.ToolCalls {
			seen[tc.ID] = struct{}{}
		}
	}
	for i := range calls {
		if _, dup := seen[calls[i].ID]; calls[i].ID == "" || dup {
			calls[i].ID = "call_" + uuid.NewString()
		}
		seen[calls[i].ID] = struct{}{}
	}
}
