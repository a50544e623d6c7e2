package chain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

func toolMsg(id, name string, out tools.Output) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: id, Name: name, Content: out.Render()}
}

func onlyFiles(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

func TestExtractOutcome_LastSuccessfulFinishWins(t *testing.T) {
	first := tools.Success("first")
	failed := tools.Failure("final_summary must not be empty", nil)
	second := tools.Success("second")
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		callsMsg(toolCall("1", TerminalTool, "{}")),
		toolMsg("1", TerminalTool, first),
		callsMsg(toolCall("2", TerminalTool, "{}")),
		toolMsg("2", TerminalTool, second),
		callsMsg(toolCall("3", TerminalTool, "{}")),
		toolMsg("3", TerminalTool, failed),
	}
	outputs := map[string]tools.Output{"1": first, "2": second, "3": failed}

	outcome := ExtractOutcome(messages, outputs, 3, nil, nil)

	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, "second", outcome.FinalSummary)
	assert.Equal(t, 3, outcome.Iterations)
}

func TestExtractOutcome_AssistantText(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		textMsg("  The article is ready.  "),
	}
	outcome := ExtractOutcome(messages, nil, 1, nil, nil)
	assert.True(t, outcome.Completed())
	assert.Equal(t, "The article is ready.", outcome.FinalSummary)
}

func TestExtractOutcome_EmptyAssistantTextFails(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		textMsg("   "),
	}
	outcome := ExtractOutcome(messages, nil, 1, nil, nil)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, ErrNoFinalSummary)
}

func TestExtractOutcome_ModelFailure(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		{Role: llm.RoleAssistant, Failed: true, Content: ModelErrorPrefix + "timeout"},
	}
	outcome := ExtractOutcome(messages, nil, 1, nil, nil)
	assert.ErrorIs(t, outcome.Error, ErrModelCall)
	assert.Equal(t, "model call failed: timeout", outcome.ErrorMessage())
}

func TestExtractOutcome_TailInError(t *testing.T) {
	long := strings.Repeat("x", 500)
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		callsMsg(toolCall("1", "search_and_summarize", "{}")),
		toolMsg("1", "search_and_summarize", tools.Success(long)),
		callsMsg(toolCall("2", "save_article", "{}")),
	}

	outcome := ExtractOutcome(messages, nil, 2, nil, nil)

	require.ErrorIs(t, outcome.Error, ErrNoFinalSummary)
	msg := outcome.ErrorMessage()
	assert.True(t, strings.HasPrefix(msg, "could not determine final summary: "))
	assert.NotContains(t, msg, "user: seed")
	assert.Contains(t, msg, "assistant: [tool calls: save_article]")
	assert.Contains(t, msg, "tool: "+strings.Repeat("x", tailContentRunes)+"...")
	assert.NotContains(t, msg, strings.Repeat("x", tailContentRunes+1))
}

func TestExtractOutcome_RunErrorWinsButKeepsArtifacts(t *testing.T) {
	saved := tools.Artifact("Article successfully saved to out/md/a_main.md", "out/md/a_main.md")
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		callsMsg(toolCall("1", "save_article", "{}")),
		toolMsg("1", "save_article", saved),
	}

	outcome := ExtractOutcome(messages, map[string]tools.Output{"1": saved}, 1, ErrStepLimitExceeded, onlyFiles("save_article"))

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, ErrStepLimitExceeded)
	assert.Equal(t, map[string]string{"a_main.md": "out/md/a_main.md"}, outcome.ArtifactPaths)
}

func TestExtractOutcome_ArtifactsOnlyFromFileProducers(t *testing.T) {
	article := tools.Artifact("Article successfully saved to out/md/x.md", "out/md/x.md")
	image := tools.Artifact("Image successfully saved to out/img/x_image.png", "out/img/x_image.png")
	payload := tools.SuccessPayload(map[string]any{"image_url": "http://img", "temp_file_path": "/tmp/a.img"})
	payload.Path = "/tmp/a.img"
	failedSave := tools.Failure("invalid filename", map[string]any{"filename": "../x"})

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		callsMsg(toolCall("1", "save_article", "{}"), toolCall("2", "save_image_with_compression", "{}"), toolCall("3", "generate_image", "{}"), toolCall("4", "save_article", "{}")),
		toolMsg("1", "save_article", article),
		toolMsg("2", "save_image_with_compression", image),
		toolMsg("3", "generate_image", payload),
		toolMsg("4", "save_article", failedSave),
		textMsg("done"),
	}
	outputs := map[string]tools.Output{"1": article, "2": image, "3": payload, "4": failedSave}

	outcome := ExtractOutcome(messages, outputs, 2, nil, onlyFiles("save_article", "save_image_with_compression"))

	assert.True(t, outcome.Completed())
	assert.Equal(t, map[string]string{
		"x.md":        "out/md/x.md",
		"x_image.png": "out/img/x_image.png",
	}, outcome.ArtifactPaths)
}

// Строковый результат с маркером сохранения восстанавливается из текста истории.
func TestExtractOutcome_SavedMarkerFromHistoryText(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "seed"},
		callsMsg(toolCall("1", "save_article", "{}")),
		{Role: llm.RoleTool, ToolCallID: "1", Name: "save_article", Content: "Article successfully saved to output/md/abc_main.md"},
		callsMsg(toolCall("2", TerminalTool, "{}")),
		{Role: llm.RoleTool, ToolCallID: "2", Name: TerminalTool, Content: "All done"},
	}

	outcome := ExtractOutcome(messages, nil, 2, nil, onlyFiles("save_article"))

	assert.True(t, outcome.Completed())
	assert.Equal(t, "All done", outcome.FinalSummary)
	assert.Equal(t, map[string]string{"abc_main.md": "output/md/abc_main.md"}, outcome.ArtifactPaths)
}

func TestCollect_StreamClosedWithoutRunEnded(t *testing.T) {
	t.Run("with successful finish", func(t *testing.T) {
		ch := make(chan events.Event, 4)
		ch <- events.New(events.EventModelResponded, events.ModelRespondedData{Iteration: 1})
		ch <- events.New(events.EventToolInvoked, events.ToolInvokedData{
			Name: "save_article", CallID: "1",
			Output: tools.FromString("Article successfully saved to out/md/a.md"),
		})
		ch <- events.New(events.EventToolInvoked, events.ToolInvokedData{Name: TerminalTool, CallID: "2", Output: tools.Success("summary")})
		close(ch)

		outcome := Collect(context.Background(), ch, onlyFiles("save_article"))

		assert.True(t, outcome.Completed())
		assert.Equal(t, "summary", outcome.FinalSummary)
		assert.Equal(t, 1, outcome.Iterations)
		assert.Equal(t, map[string]string{"a.md": "out/md/a.md"}, outcome.ArtifactPaths)
	})

	t.Run("without finish", func(t *testing.T) {
		ch := make(chan events.Event, 2)
		ch <- events.New(events.EventModelResponded, events.ModelRespondedData{Iteration: 1})
		ch <- events.New(events.EventToolInvoked, events.ToolInvokedData{Name: TerminalTool, CallID: "2", Output: tools.Failure("empty", nil)})
		close(ch)

		outcome := Collect(context.Background(), ch, nil)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.ErrorIs(t, outcome.Error, ErrNoFinalSummary)
	})
}

func TestCollect_CancelledContextDrainsStream(t *testing.T) {
	ch := make(chan events.Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := Collect(ctx, ch, nil)
	assert.ErrorIs(t, outcome.Error, ErrRunCancelled)

	// Производитель не блокируется: фоновая горутина читает канал
	sent := make(chan struct{})
	go func() {
		ch <- events.New(events.EventRunEnded, events.RunEndedData{})
		close(ch)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("stream must be drained after cancellation")
	}
}

func TestCollect_RunEndedUsesExtractor(t *testing.T) {
	ch := make(chan events.Event, 1)
	ch <- events.New(events.EventRunEnded, events.RunEndedData{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "seed"}, textMsg("final")},
		Iterations: 1,
	})
	close(ch)

	outcome := Collect(context.Background(), ch, nil)
	assert.True(t, outcome.Completed())
	assert.Equal(t, "final", outcome.FinalSummary)
	assert.Equal(t, 1, outcome.Iterations)
}
