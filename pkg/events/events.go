// Package events описывает поток событий прогона агента.
//
// Это Port для подписки на шаги графа. HTTP слой, CLI и тесты читают один
// и тот же поток, не завися от внутренностей pkg/chain.
//
// # Порядок
//
// События доставляются строго в порядке выполнения шагов:
//
//	model_responded → tool_invoked × N → model_responded → ... → run_ended
//
// run_ended всегда последнее событие, после него канал закрывается.
//
// # Rule 11: Context Propagation
//
// Emitter.Emit() принимает context.Context для отмены операции.
package events

import (
	"context"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
)

// EventType представляет тип события от агента.
type EventType string

const (
	// EventModelResponded отправляется после каждого Model Step.
	EventModelResponded EventType = "model_responded"

	// EventToolInvoked отправляется для каждого ответа на tool call, в порядке запроса.
	EventToolInvoked EventType = "tool_invoked"

	// EventRunEnded отправляется один раз, когда граф достиг END.
	EventRunEnded EventType = "run_ended"
)

// EventData — sealed interface для данных события.
//
// Только типы из пакета events могут реализовать этот интерфейс.
type EventData interface {
	eventData()
}

// ModelRespondedData содержит сообщение, добавленное Model Step.
type ModelRespondedData struct {
	Message   llm.Message
	Iteration int
}

func (ModelRespondedData) eventData() {}

// ToolInvokedData содержит результат одного tool call.
type ToolInvokedData struct {
	Name     string
	CallID   string
	Output   tools.Output
	Duration time.Duration
}

func (ToolInvokedData) eventData() {}

// RunEndedData содержит итоговую историю прогона.
//
// Err — причина аварийного завершения (step limit, отмена); nil для штатного END.
type RunEndedData struct {
	Messages   []llm.Message
	Outputs    map[string]tools.Output // call id → результат
	Iterations int
	Err        error
}

func (RunEndedData) eventData() {}

// Event представляет событие от агента.
type Event struct {
	Type      EventType
	Data      EventData
	Timestamp time.Time
}

// New создаёт событие с текущим временем.
func New(t EventType, data EventData) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// Emitter — это Port для отправки событий.
//
// Rule 11: все операции должны уважать context.Context.
type Emitter interface {
	// Emit отправляет событие. Если context отменён, событие отбрасывается.
	Emit(ctx context.Context, event Event)
}

// Subscriber позволяет читать события из канала.
type Subscriber interface {
	// Events возвращает read-only канал событий.
	//
	// Канал закрывается после последнего события.
	Events() <-chan Event
}
