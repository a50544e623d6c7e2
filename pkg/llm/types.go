// Базовые типы — универсальный язык общения с моделями.
package llm

// Role — роль автора сообщения в истории диалога.
type Role string

// Константы ролей.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall — запрос модели на вызов инструмента.
//
// Args — сырой JSON с аргументами в том виде, в котором его прислала модель.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// Message — одно сообщение в истории диалога.
//
// Для RoleAssistant может содержать ToolCalls (ноль или больше).
// Для RoleTool заполнены ToolCallID (на какой вызов отвечает) и Name (имя инструмента).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`

	// Failed помечает синтетическое сообщение, которое описывает ошибку вызова модели.
	Failed bool `json:"failed,omitempty"`
}

// HasToolCalls сообщает, запросила ли модель вызов инструментов.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
