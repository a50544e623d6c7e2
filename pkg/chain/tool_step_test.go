package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

func newToolStep(t *testing.T, parallel bool, ts ...tools.Tool) *ToolExecutionStep {
	return &ToolExecutionStep{
		registry:           newToolRegistry(t, ts...),
		defaultToolTimeout: time.Second,
		parallel:           parallel,
	}
}

// Пачка из четырёх вызовов: успех, panic, неизвестный инструмент, плохие аргументы.
// Каждый вызов получает ровно один ответ, порядок совпадает с запросом.
func TestToolStep_BatchFailuresIsolatedAndOrdered(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "serial"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			good := &fakeTool{name: "good", exec: func(ctx context.Context, args string) (tools.Output, error) {
				time.Sleep(20 * time.Millisecond)
				return tools.Success("A done"), nil
			}}
			panicky := &fakeTool{name: "panicky", exec: func(ctx context.Context, args string) (tools.Output, error) {
				panic("kaboom")
			}}
			strict := &fakeTool{name: "strict", required: []string{"text"}}

			step := newToolStep(t, parallel, good, panicky, strict)
			chainCtx := NewChainContext("seed")
			chainCtx.AppendMessage(callsMsg(
				toolCall("1", "good", `{}`),
				toolCall("2", "panicky", `{}`),
				toolCall("3", "missing", `{}`),
				toolCall("4", "strict", `{"other":"x"}`),
			))

			result := step.Execute(context.Background(), chainCtx)
			require.NoError(t, result.Error)
			assert.Equal(t, StateAgent, result.Next)

			msgs := chainCtx.GetMessages()
			require.Len(t, msgs, 6)
			var ids []string
			for _, m := range msgs[2:] {
				assert.Equal(t, llm.RoleTool, m.Role)
				ids = append(ids, m.ToolCallID)
			}
			assert.Equal(t, []string{"1", "2", "3", "4"}, ids)

			outputs := chainCtx.Outputs()
			assert.True(t, outputs["1"].OK())
			assert.Equal(t, "A done", outputs["1"].Text)

			assert.False(t, outputs["2"].OK())
			assert.Equal(t, "tool execution failed", outputs["2"].Reason)
			assert.Contains(t, outputs["2"].Details["cause"], "kaboom")

			assert.False(t, outputs["3"].OK())
			assert.Equal(t, "tool not found", outputs["3"].Reason)
			assert.Equal(t, "missing", outputs["3"].Details["requested"])
			assert.ElementsMatch(t, []string{"good", "panicky", "strict"}, outputs["3"].Details["registered"])

			assert.False(t, outputs["4"].OK())
			assert.Equal(t, "invalid arguments", outputs["4"].Reason)

			assert.Len(t, step.GetToolResults(), 4)
		})
	}
}

func TestToolStep_ToolErrorBecomesFailure(t *testing.T) {
	broken := &fakeTool{name: "broken", exec: func(ctx context.Context, args string) (tools.Output, error) {
		return tools.Output{}, errors.New("disk full")
	}}
	step := newToolStep(t, false, broken)
	chainCtx := NewChainContext("seed")
	chainCtx.AppendMessage(callsMsg(toolCall("1", "broken", `{}`)))

	step.Execute(context.Background(), chainCtx)

	out := chainCtx.Outputs()["1"]
	assert.Equal(t, "tool execution failed", out.Reason)
	assert.Equal(t, "disk full", out.Details["cause"])
	assert.Contains(t, chainCtx.GetLastMessage().Content, `"error":"tool execution failed"`)
}

func TestToolStep_Timeout(t *testing.T) {
	slow := &fakeTool{name: "slow", exec: func(ctx context.Context, args string) (tools.Output, error) {
		select {
		case <-time.After(5 * time.Second):
			return tools.Success("late"), nil
		case <-ctx.Done():
			return tools.Output{}, ctx.Err()
		}
	}}
	step := newToolStep(t, false, slow)
	step.SetToolTimeout("slow", 50*time.Millisecond)

	chainCtx := NewChainContext("seed")
	chainCtx.AppendMessage(callsMsg(toolCall("1", "slow", `{}`)))

	start := time.Now()
	step.Execute(context.Background(), chainCtx)

	assert.Less(t, time.Since(start), 2*time.Second)
	out := chainCtx.Outputs()["1"]
	assert.Equal(t, "tool execution timeout", out.Reason)
	assert.Equal(t, "50ms", out.Details["timeout"])
}

func TestToolStep_Cancelled(t *testing.T) {
	slow := &fakeTool{name: "slow", exec: func(ctx context.Context, args string) (tools.Output, error) {
		<-ctx.Done()
		return tools.Output{}, ctx.Err()
	}}
	step := newToolStep(t, false, slow)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	chainCtx := NewChainContext("seed")
	chainCtx.AppendMessage(callsMsg(toolCall("1", "slow", `{}`)))
	step.Execute(ctx, chainCtx)

	assert.Equal(t, "tool execution cancelled", chainCtx.Outputs()["1"].Reason)
}

func TestToolStep_FinishRoutesToEnd(t *testing.T) {
	step := newToolStep(t, false, finishTool())
	chainCtx := NewChainContext("seed")
	chainCtx.AppendMessage(callsMsg(toolCall("1", TerminalTool, `{"final_summary":"X"}`)))

	result := step.Execute(context.Background(), chainCtx)
	assert.Equal(t, StateEnd, result.Next)
	assert.Equal(t, "X", chainCtx.Outputs()["1"].Text)
}

func TestToolStep_RequiresToolCalls(t *testing.T) {
	step := newToolStep(t, false)
	chainCtx := NewChainContext("seed")

	result := step.Execute(context.Background(), chainCtx)
	assert.Equal(t, ActionError, result.Action)
	assert.Error(t, result.Error)
}

func TestToolStep_Timeouts(t *testing.T) {
	step := &ToolExecutionStep{}
	assert.Equal(t, DefaultToolTimeout, step.timeoutFor("x"))

	step.SetDefaultToolTimeout(time.Minute)
	assert.Equal(t, time.Minute, step.GetDefaultToolTimeout())
	assert.Equal(t, time.Minute, step.timeoutFor("x"))

	step.SetToolTimeout("x", time.Second)
	assert.Equal(t, time.Second, step.timeoutFor("x"))
	assert.Equal(t, time.Minute, step.timeoutFor("y"))
}
