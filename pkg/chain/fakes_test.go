package chain

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/models"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

const testModel = "test-model"

// scriptedProvider отвечает заранее заданными сообщениями по порядку.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Message
	errs      []error
	fallback  llm.Message
	calls     int
	seen      [][]llm.Message
	opts      [][]any

	// block заставляет Generate ждать отмены ctx.
	block bool
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llm.Message, opts ...any) (llm.Message, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.seen = append(p.seen, append([]llm.Message(nil), messages...))
	p.opts = append(p.opts, opts)
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return llm.Message{}, ctx.Err()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return llm.Message{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return p.fallback, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeTool — инструмент с настраиваемым поведением.
type fakeTool struct {
	name     string
	required []string
	files    bool
	exec     func(ctx context.Context, args string) (tools.Output, error)
}

func (f *fakeTool) Definition() tools.ToolDefinition {
	props := map[string]any{}
	for _, r := range f.required {
		props[r] = map[string]any{"type": "string"}
	}
	params := tools.JSONSchema{"type": "object", "properties": props}
	if len(f.required) > 0 {
		params["required"] = f.required
	}
	return tools.ToolDefinition{Name: f.name, Description: "fake " + f.name, Parameters: params}
}

func (f *fakeTool) Execute(ctx context.Context, args string) (tools.Output, error) {
	if f.exec == nil {
		return tools.Success(f.name + " ok"), nil
	}
	return f.exec(ctx, args)
}

func (f *fakeTool) ProducesFiles() bool { return f.files }

// finishTool повторяет поведение инструмента finish.
func finishTool() *fakeTool {
	return &fakeTool{
		name:     TerminalTool,
		required: []string{"final_summary"},
		exec: func(ctx context.Context, args string) (tools.Output, error) {
			var summary struct {
				FinalSummary string `json:"final_summary"`
			}
			if err := json.Unmarshal([]byte(args), &summary); err != nil {
				return tools.Output{}, err
			}
			if summary.FinalSummary == "" {
				return tools.Failure("final_summary must not be empty", nil), nil
			}
			return tools.Success(summary.FinalSummary), nil
		},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Args: args}
}

func callsMsg(calls ...llm.ToolCall) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
}

func textMsg(content string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: content}
}

func newToolRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, registry.Register(tool))
	}
	return registry
}

func newModelRegistry(t *testing.T, provider llm.Provider) *models.Registry {
	t.Helper()
	registry := models.NewRegistry()
	require.NoError(t, registry.Register(testModel, config.ModelDef{ModelName: testModel, Timeout: 5 * time.Second}, provider))
	registry.SetDefault(testModel)
	return registry
}

func newTestCycle(t *testing.T, provider llm.Provider, cfg ReActCycleConfig, ts ...tools.Tool) *ReActCycle {
	t.Helper()
	cycle := NewReActCycle(cfg)
	cycle.SetModelRegistry(newModelRegistry(t, provider), testModel)
	cycle.SetRegistry(newToolRegistry(t, ts...))
	return cycle
}

func testConfig(maxIterations int) ReActCycleConfig {
	cfg := NewReActCycleConfig()
	cfg.MaxIterations = maxIterations
	cfg.ToolTimeout = 2 * time.Second
	return cfg
}
