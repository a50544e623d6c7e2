package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ilkoid/poncho-writer/pkg/chain"
	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

func TestPrinter_Events(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 60, false)

	p.Event(events.New(events.EventModelResponded, events.ModelRespondedData{
		Iteration: 1,
		Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "search_and_summarize", Args: `{"topic":"sleep"}`},
			{ID: "2", Name: "save_article", Args: `{"filename":"a"}`},
		}},
	}))
	p.Event(events.New(events.EventToolInvoked, events.ToolInvokedData{
		Name:     "save_article",
		CallID:   "2",
		Output:   tools.Artifact("Article successfully saved to out/md/a.md", "out/md/a.md"),
		Duration: 15 * time.Millisecond,
	}))
	p.Event(events.New(events.EventToolInvoked, events.ToolInvokedData{
		Name:   "translate_text",
		Output: tools.Failure("tool execution timeout", map[string]any{"timeout": "1s"}),
	}))
	p.Event(events.New(events.EventRunEnded, events.RunEndedData{Iterations: 3, Err: errors.New("step limit exceeded")}))

	out := buf.String()
	assert.Contains(t, out, "[step 1] model requested search_and_summarize, save_article")
	assert.Contains(t, out, `    search_and_summarize {"topic":"sleep"}`)
	assert.Contains(t, out, "save_article ok 15ms")
	assert.Contains(t, out, "-> out/md/a.md")
	assert.Contains(t, out, "translate_text failed: tool execution timeout")
	assert.Contains(t, out, "timeout:1s")
	assert.Contains(t, out, "run ended after 3 model steps: step limit exceeded")
}

func TestPrinter_PreviewIsTruncatedAndWrapped(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 40, false)

	long := strings.Repeat("word ", 200)
	p.Event(events.New(events.EventModelResponded, events.ModelRespondedData{
		Iteration: 2,
		Message:   llm.Message{Role: llm.RoleAssistant, Content: long},
	}))

	out := buf.String()
	assert.Contains(t, out, "[step 2] model answered")
	assert.Contains(t, out, "...")
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 40, line)
	}
}

func TestPrinter_Outcome(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 0, false)

	p.Outcome(chain.RunOutcome{
		Status:       chain.StatusCompleted,
		FinalSummary: "Done",
		ArtifactPaths: map[string]string{
			"b.png": "out/img/b.png",
			"a.md":  "out/md/a.md",
		},
		Iterations: 3,
	})

	out := buf.String()
	assert.Contains(t, out, "completed in 3 model steps")
	assert.Contains(t, out, "Done")
	assert.Less(t, strings.Index(out, "a.md"), strings.Index(out, "b.png"), "files are sorted")

	buf.Reset()
	p.Outcome(chain.RunOutcome{Status: chain.StatusFailed, Error: chain.ErrRunCancelled, Iterations: 1})
	assert.Contains(t, buf.String(), "failed after 1 model steps")
	assert.Contains(t, buf.String(), "run cancelled")
}
