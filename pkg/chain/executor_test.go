package chain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

// recordingObserver считает уведомления жизненного цикла.
type recordingObserver struct {
	mu              sync.Mutex
	starts          int
	iterationStarts []int
	iterationEnds   []int
	finishes        int
	lastErr         error
	finalState      GraphState
}

func (o *recordingObserver) OnStart(ctx context.Context, exec *ReActExecution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *recordingObserver) OnIterationStart(exec *ReActExecution, iteration int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.iterationStarts = append(o.iterationStarts, iteration)
}

func (o *recordingObserver) OnIterationEnd(exec *ReActExecution, iteration int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.iterationEnds = append(o.iterationEnds, iteration)
}

func (o *recordingObserver) OnFinish(ctx context.Context, exec *ReActExecution, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishes++
	o.finalState = exec.State()
	o.lastErr = err
}

func collectEvents(stream <-chan events.Event) []events.Event {
	var out []events.Event
	for ev := range stream {
		out = append(out, ev)
	}
	return out
}

func TestExecute_NoToolCallsSingleStep(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{textMsg("Here is the article summary.")}}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	outcome := cycle.Execute(context.Background(), "write about tea")

	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, "Here is the article summary.", outcome.FinalSummary)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, 1, provider.Calls())
	assert.Empty(t, outcome.ArtifactPaths)
	assert.NoError(t, outcome.Error)
}

func TestExecute_FinishEndsRun(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Message{callsMsg(toolCall("f1", TerminalTool, `{"final_summary":"X"}`))},
		fallback:  textMsg("must not be called"),
	}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	outcome := cycle.Execute(context.Background(), "seed")

	assert.True(t, outcome.Completed())
	assert.Equal(t, "X", outcome.FinalSummary)
	assert.Equal(t, 1, provider.Calls())
}

func TestExecute_StepLimit(t *testing.T) {
	loop := &fakeTool{name: "search_and_summarize", required: []string{"topic"}}
	provider := &scriptedProvider{
		fallback: callsMsg(toolCall("s", "search_and_summarize", `{"topic":"t"}`)),
	}
	cycle := newTestCycle(t, provider, testConfig(3), loop, finishTool())

	outcome := cycle.Execute(context.Background(), "seed")

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, ErrStepLimitExceeded)
	assert.Equal(t, "step limit exceeded", outcome.ErrorMessage())
	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, 3, outcome.Iterations)
}

func TestExecute_DefaultStepLimitWhenZero(t *testing.T) {
	cfg := testConfig(0)
	cycle := NewReActCycle(cfg)
	assert.Equal(t, DefaultMaxIterations, cycle.Config().MaxIterations)
}

// research → save → finish: итог с текстом finish и одним артефактом.
func TestExecute_ResearchSaveFinishScenario(t *testing.T) {
	dir := t.TempDir()
	articlePath := filepath.Join(dir, "md", "abc_main.md")

	research := &fakeTool{
		name:     "search_and_summarize",
		required: []string{"topic"},
		exec: func(ctx context.Context, args string) (tools.Output, error) {
			return tools.Success("Summary of Findings:\nsleep matters\n\nSources:\nFound articles:"), nil
		},
	}
	save := &fakeTool{
		name:     "save_article",
		required: []string{"filename", "content"},
		files:    true,
		exec: func(ctx context.Context, args string) (tools.Output, error) {
			require.NoError(t, os.MkdirAll(filepath.Dir(articlePath), 0o755))
			require.NoError(t, os.WriteFile(articlePath, []byte("# Sleep"), 0o644))
			return tools.FromString("Article successfully saved to " + articlePath), nil
		},
	}

	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("c1", "search_and_summarize", `{"topic":"sleep"}`)),
		callsMsg(toolCall("c2", "save_article", `{"filename":"abc_main","content":"# Sleep"}`)),
		callsMsg(toolCall("c3", TerminalTool, `{"final_summary":"Article written and saved."}`)),
	}}
	cycle := newTestCycle(t, provider, testConfig(10), research, save, finishTool())

	outcome := cycle.Execute(context.Background(), "write about sleep")

	require.True(t, outcome.Completed(), outcome.ErrorMessage())
	assert.Equal(t, "Article written and saved.", outcome.FinalSummary)
	assert.Equal(t, map[string]string{"abc_main.md": articlePath}, outcome.ArtifactPaths)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, 3, provider.Calls())

	// Модель видит результат исследования в истории третьего запроса
	third := provider.seen[2]
	var sawResearch bool
	for _, m := range third {
		if m.Role == llm.RoleTool && m.ToolCallID == "c1" {
			sawResearch = true
			assert.Contains(t, m.Content, "Summary of Findings")
		}
	}
	assert.True(t, sawResearch)
}

// Провайдер повторяет id call_0 на каждом ходу: артефакт первого хода не теряется.
func TestExecute_ReusedCallIDsKeepEveryResult(t *testing.T) {
	save := &fakeTool{
		name:  "save_article",
		files: true,
		exec: func(ctx context.Context, args string) (tools.Output, error) {
			return tools.FromString("Article successfully saved to output/md/a.md"), nil
		},
	}
	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("call_0", "save_article", `{}`)),
		callsMsg(
			toolCall("call_0", TerminalTool, `{"final_summary":"Done"}`),
			toolCall("call_0", TerminalTool, `{"final_summary":"Done"}`),
		),
	}}
	cycle := newTestCycle(t, provider, testConfig(5), save, finishTool())

	outcome := cycle.Execute(context.Background(), "seed")

	require.True(t, outcome.Completed(), outcome.ErrorMessage())
	assert.Equal(t, "Done", outcome.FinalSummary)
	assert.Equal(t, map[string]string{"a.md": "output/md/a.md"}, outcome.ArtifactPaths)

	// Второй запрос к модели видит первый вызов с ответом под его id.
	second := provider.seen[1]
	var callID string
	for _, m := range second {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) == 1 {
			callID = m.ToolCalls[0].ID
		}
	}
	require.NotEmpty(t, callID)
	assert.Equal(t, "call_0", callID, "first use of an id is kept")
}

func TestAssignCallIDs(t *testing.T) {
	history := []llm.Message{callsMsg(toolCall("call_0", "x", `{}`))}
	calls := []llm.ToolCall{
		{ID: "call_0", Name: "a"},
		{ID: "call_1", Name: "b"},
		{ID: "call_1", Name: "c"},
		{ID: "", Name: "d"},
	}

	assignCallIDs(calls, history)

	ids := map[string]struct{}{"call_0": {}}
	for _, c := range calls {
		require.NotEmpty(t, c.ID)
		_, dup := ids[c.ID]
		assert.False(t, dup, "id %s of %s is not unique", c.ID, c.Name)
		ids[c.ID] = struct{}{}
	}
	assert.Equal(t, "call_1", calls[1].ID)
}

func TestExecute_FailedFinishFallsThrough(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("f1", TerminalTool, `{"final_summary":""}`)),
	}}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	outcome := cycle.Execute(context.Background(), "seed")

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, ErrNoFinalSummary)
	assert.Contains(t, outcome.ErrorMessage(), "tool: ")
	assert.Equal(t, 1, provider.Calls())
}

func TestExecute_ModelFailure(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("invalid api key")}}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	outcome := cycle.Execute(context.Background(), "seed")

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, ErrModelCall)
	assert.Equal(t, "model call failed: invalid api key", outcome.ErrorMessage())
	assert.Equal(t, 1, provider.Calls())
}

func TestExecute_Cancellation(t *testing.T) {
	provider := &scriptedProvider{block: true}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	done := make(chan RunOutcome, 1)
	go func() { done <- cycle.Execute(ctx, "seed") }()

	select {
	case outcome := <-done:
		assert.Equal(t, StatusFailed, outcome.Status)
		assert.ErrorIs(t, outcome.Error, ErrRunCancelled)
	case <-time.After(3 * time.Second):
		t.Fatal("Execute must return after cancellation")
	}
}

func TestRun_EventOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("a", "good", `{}`), toolCall("b", "bad", `{}`)),
		callsMsg(toolCall("f", TerminalTool, `{"final_summary":"done"}`)),
	}}
	good := &fakeTool{name: "good"}
	bad := &fakeTool{name: "bad", exec: func(ctx context.Context, args string) (tools.Output, error) {
		return tools.Failure("nope", nil), nil
	}}
	cfg := testConfig(5)
	cfg.ParallelTools = true
	cycle := newTestCycle(t, provider, cfg, good, bad, finishTool())

	evs := collectEvents(cycle.Run(context.Background(), "seed"))

	var types []events.EventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventModelResponded,
		events.EventToolInvoked,
		events.EventToolInvoked,
		events.EventModelResponded,
		events.EventToolInvoked,
		events.EventRunEnded,
	}, types)

	assert.Equal(t, "a", evs[1].Data.(events.ToolInvokedData).CallID)
	assert.Equal(t, "b", evs[2].Data.(events.ToolInvokedData).CallID)
	assert.False(t, evs[2].Data.(events.ToolInvokedData).Output.OK())

	ended := evs[len(evs)-1].Data.(events.RunEndedData)
	assert.NoError(t, ended.Err)
	assert.Equal(t, 2, ended.Iterations)
	assert.Len(t, ended.Messages, 6)
	assert.Len(t, ended.Outputs, 3)
}

func TestRun_MissingDependencies(t *testing.T) {
	cycle := NewReActCycle(testConfig(5))

	evs := collectEvents(cycle.Run(context.Background(), "seed"))

	require.Len(t, evs, 1)
	ended := evs[0].Data.(events.RunEndedData)
	assert.ErrorContains(t, ended.Err, "model registry is not set")

	outcome := cycle.Execute(context.Background(), "seed")
	assert.Equal(t, StatusFailed, outcome.Status)
}

func TestRun_ObserverNotifications(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("a", "good", `{}`)),
		textMsg("final"),
	}}
	cycle := newTestCycle(t, provider, testConfig(5), &fakeTool{name: "good"})
	obs := &recordingObserver{}
	cycle.AddObserver(obs)

	outcome := cycle.Execute(context.Background(), "seed")
	require.True(t, outcome.Completed())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.starts)
	assert.Equal(t, []int{1, 2}, obs.iterationStarts)
	assert.Equal(t, []int{1, 2}, obs.iterationEnds)
	assert.Equal(t, 1, obs.finishes)
	assert.NoError(t, obs.lastErr)
	assert.Equal(t, StateEnd, obs.finalState)
}

func TestRun_DebugRecorderWritesTrace(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{responses: []llm.Message{
		callsMsg(toolCall("f", TerminalTool, `{"final_summary":"ok"}`)),
	}}
	cfg := testConfig(5)
	cfg.Debug = DebugConfig{Enabled: true, LogsDir: dir, IncludeToolResults: true}
	cycle := newTestCycle(t, provider, cfg, finishTool())

	outcome := cycle.Execute(context.Background(), "seed")
	require.True(t, outcome.Completed())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"seed": "seed"`)
	assert.Contains(t, string(data), `"name": "finish"`)
	assert.Contains(t, string(data), `"is_final": true`)
}

func TestRun_ConcurrentRunsAreIsolated(t *testing.T) {
	provider := &scriptedProvider{fallback: callsMsg(toolCall("f", TerminalTool, `{"final_summary":"same"}`))}
	cycle := newTestCycle(t, provider, testConfig(5), finishTool())

	var wg sync.WaitGroup
	outcomes := make([]RunOutcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = cycle.Execute(context.Background(), "seed")
		}(i)
	}
	wg.Wait()

	for _, o := range outcomes {
		assert.True(t, o.Completed())
		assert.Equal(t, "same", o.FinalSummary)
		assert.Equal(t, 1, o.Iterations)
	}
	assert.Equal(t, 8, provider.Calls())
}
