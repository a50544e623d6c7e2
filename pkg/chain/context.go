package chain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

// ChainContext содержит состояние одного прогона: историю сообщений и
// структурированные результаты инструментов по call id.
//
// Thread-safe через sync.RWMutex (Rule 5).
// История только дополняется: Model Step добавляет одно сообщение,
// Tool Step — по одному сообщению на вызов.
type ChainContext struct {
	mu sync.RWMutex

	messages  []llm.Message
	outputs   map[string]tools.Output
	iteration int
}

// NewChainContext создаёт контекст с единственным seed сообщением пользователя.
func NewChainContext(seed string) *ChainContext {
	messages := make([]llm.Message, 0, 16)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: seed})
	return &ChainContext{
		messages: messages,
		outputs:  make(map[string]tools.Output),
	}
}

// GetCurrentIteration возвращает количество выполненных Model Step (thread-safe).
func (c *ChainContext) GetCurrentIteration() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.iteration
}

// IncrementIteration увеличивает счётчик Model Step (thread-safe).
func (c *ChainContext) IncrementIteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iteration++
	return c.iteration
}

// GetMessages возвращает копию сообщений (thread-safe).
func (c *ChainContext) GetMessages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]llm.Message, len(c.messages))
	copy(result, c.messages)
	return result
}

// GetLastMessage возвращает копию последнего сообщения (thread-safe).
func (c *ChainContext) GetLastMessage() *llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) == 0 {
		return nil
	}
	msg := c.messages[len(c.messages)-1]
	return &msg
}

// AppendMessage добавляет сообщение в историю (thread-safe).
func (c *ChainContext) AppendMessage(msg llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// AppendToolResult добавляет tool сообщение для вызова и запоминает его Output.
func (c *ChainContext) AppendToolResult(call llm.ToolCall, out tools.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    out.Render(),
		ToolCallID: call.ID,
		Name:       call.Name,
	})
	c.outputs[call.ID] = out
}

// Outputs возвращает копию результатов инструментов по call id (thread-safe).
func (c *ChainContext) Outputs() map[string]tools.Output {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]tools.Output, len(c.outputs))
	for k, v := range c.outputs {
		result[k] = v
	}
	return result
}

// BuildContextMessages формирует сообщения для LLM: системный промпт + история (thread-safe).
func (c *ChainContext) BuildContextMessages(systemPrompt string) []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]llm.Message, 0, len(c.messages)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: systemPrompt,
		})
	}
	return append(messages, c.messages...)
}

// String возвращает строковое представление контекста (для дебага).
func (c *ChainContext) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("ChainContext{")
	sb.WriteString(fmt.Sprintf("Iteration: %d, ", c.iteration))
	sb.WriteString(fmt.Sprintf("Messages: %d, ", len(c.messages)))
	sb.WriteString(fmt.Sprintf("Outputs: %d", len(c.outputs)))
	sb.WriteString("}")
	return sb.String()
}
