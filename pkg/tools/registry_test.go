package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	def ToolDefinition
}

func (s stubTool) Definition() ToolDefinition { return s.def }

func (s stubTool) Execute(ctx context.Context, argsJSON string) (Output, error) {
	return Success(argsJSON), nil
}

func newStub(name string, required ...any) stubTool {
	params := JSONSchema{"type": "object", "properties": map[string]any{}}
	if len(required) > 0 {
		params["required"] = required
	}
	return stubTool{def: ToolDefinition{Name: name, Description: name, Parameters: params}}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("search_and_summarize", "topic")))
	require.NoError(t, r.Register(newStub("finish", "final_summary")))

	tool, err := r.Resolve("finish")
	require.NoError(t, err)
	assert.Equal(t, "finish", tool.Definition().Name)

	assert.Equal(t, []string{"finish", "search_and_summarize"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "finish", defs[0].Name)

	err = r.Register(newStub("finish"))
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("finish")))

	_, err := r.Resolve("delete_everything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "delete_everything", nf.Name)
	assert.Equal(t, []string{"finish"}, nf.Registered)
}

func TestRegistry_InvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(stubTool{def: ToolDefinition{Name: ""}}))
	assert.Error(t, r.Register(stubTool{def: ToolDefinition{Name: "x"}}))
	assert.Error(t, r.Register(stubTool{def: ToolDefinition{Name: "x", Parameters: JSONSchema{"type": "array"}}}))
	assert.Error(t, r.Register(stubTool{def: ToolDefinition{Name: "x", Parameters: JSONSchema{"type": "object", "required": []any{1}}}}))
}

func TestRegistry_ValidateArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("save_article", "filename", "content")))
	require.NoError(t, r.Register(stubTool{def: ToolDefinition{
		Name:       "finish",
		Parameters: JSONSchema{"type": "object", "required": []string{"final_summary"}},
	}}))

	cleaned, err := r.ValidateArgs("save_article", "```json\n{\"filename\":\"a\",\"content\":\"b\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"filename":"a","content":"b"}`, cleaned)

	_, err = r.ValidateArgs("save_article", `{"filename":"a"}`)
	assert.ErrorIs(t, err, ErrInvalidArgs)
	assert.ErrorContains(t, err, "content")

	_, err = r.ValidateArgs("save_article", `["a"]`)
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = r.ValidateArgs("finish", `{}`)
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = r.ValidateArgs("finish", `{"final_summary": "done"}`)
	assert.NoError(t, err)

	_, err = r.ValidateArgs("unknown", `{}`)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_ProducesFiles(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterString(&legacySaver{}))
	require.NoError(t, r.Register(newStub("finish")))

	assert.True(t, r.ProducesFiles("save_article"))
	assert.False(t, r.ProducesFiles("finish"))
	assert.False(t, r.ProducesFiles("missing"))
}
