package chain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ilkoid/poncho-writer/pkg/llm"
)

func TestChainDebugRecorder_Disabled(t *testing.T) {
	r, err := NewChainDebugRecorder(DebugConfig{})
	require.NoError(t, err)

	assert.False(t, r.Enabled())
	assert.Empty(t, r.GetRunID())
	assert.Empty(t, r.GetLogPath())
}

func TestChainDebugRecorder_AsObserver(t *testing.T) {
	dir := t.TempDir()
	r, err := NewChainDebugRecorder(DebugConfig{Enabled: true, LogsDir: dir, IncludeToolArgs: true})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(r.GetRunID(), "run_"))

	provider := &scriptedProvider{responses: []llm.Message{textMsg("done")}}
	cycle := newTestCycle(t, provider, testConfig(3))
	cycle.SetTracer(noop.NewTracerProvider().Tracer("test"))
	cycle.SetTracer(nil)
	cycle.AddObserver(r)

	outcome := cycle.Execute(context.Background(), "seed")
	require.True(t, outcome.Completed())

	require.NotEmpty(t, r.GetLogPath())
	assert.FileExists(t, r.GetLogPath())
	assert.Contains(t, r.GetLogPath(), r.GetRunID())
}
