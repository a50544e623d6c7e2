// Интерфейс Провайдера, через который работает всё приложение.

package llm

import "context"

// Provider — контракт для любого AI-сервиса.
//
// opts может содержать:
//   - []tools.ToolDefinition первым элементом (Function Calling);
//   - GenerateOption для runtime переопределения параметров.
//
// Rule 4: Всё приложение работает с моделями только через этот интерфейс.
type Provider interface {
	Generate(ctx context.Context, messages []Message, opts ...any) (Message, error)
}
