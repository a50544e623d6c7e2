// Package factory создаёт LLM провайдеров по определению модели из config.yaml.
package factory

import (
	"fmt"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/llm/openai"
)

// NewLLMProvider создает провайдера на основе конфигурации модели.
//
// Пустой provider трактуется как "openai": все поддерживаемые сервисы
// говорят на OpenAI-совместимом протоколе и отличаются только base_url.
func NewLLMProvider(modelDef config.ModelDef) (llm.Provider, error) {
	switch modelDef.Provider {
	case "", "openai", "deepseek", "openrouter", "zai":
		if modelDef.ModelName == "" {
			return nil, fmt.Errorf("model_name is required")
		}
		return openai.NewClient(modelDef), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", modelDef.Provider)
	}
}
