package factory

import (
	"testing"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLMProvider(t *testing.T) {
	tests := []struct {
		name      string
		def       config.ModelDef
		expectErr bool
	}{
		{name: "openai", def: config.ModelDef{Provider: "openai", ModelName: "gpt-4o-mini", APIKey: "k"}},
		{name: "empty provider defaults to openai", def: config.ModelDef{ModelName: "gpt-4o-mini"}},
		{name: "openrouter", def: config.ModelDef{Provider: "openrouter", ModelName: "anthropic/claude-3.5-haiku", BaseURL: "https://openrouter.ai/api/v1"}},
		{name: "deepseek", def: config.ModelDef{Provider: "deepseek", ModelName: "deepseek-chat"}},
		{name: "unknown provider", def: config.ModelDef{Provider: "bard", ModelName: "x"}, expectErr: true},
		{name: "missing model name", def: config.ModelDef{Provider: "openai"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewLLMProvider(tt.def)
			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, provider)
		})
	}
}
