package chain

import (
	"context"
	"fmt"

	"github.com/ilkoid/poncho-writer/pkg/llm"
)

// GraphState — состояние графа исполнения.
type GraphState int

const (
	// StateAgent — следующим выполняется Model Step.
	StateAgent GraphState = iota

	// StateAction — следующим выполняется Tool Step.
	StateAction

	// StateEnd — терминальное состояние.
	StateEnd
)

// String возвращает строковое представление GraphState (для логов).
func (s GraphState) String() string {
	switch s {
	case StateAgent:
		return "AGENT"
	case StateAction:
		return "ACTION"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// NextAction определяет поведение executor после выполнения Step.
type NextAction int

const (
	// ActionContinue — перейти в состояние StepResult.Next.
	ActionContinue NextAction = iota

	// ActionError — прервать прогон с ошибкой (нарушение контракта графа).
	ActionError
)

// String возвращает строковое представление NextAction (для дебага).
func (a NextAction) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(a))
	}
}

// StepResult — результат выполнения Step.
//
// Ожидаемые сбои (ошибка модели, ошибка инструмента) не попадают в Error:
// они уже записаны в историю, а Next указывает куда идти дальше.
type StepResult struct {
	Action NextAction
	Next   GraphState
	Error  error
}

// WithError возвращает StepResult с ошибкой.
func (r StepResult) WithError(err error) StepResult {
	return StepResult{Action: ActionError, Next: StateEnd, Error: err}
}

// Step — атомарный шаг графа.
//
// Step работает с историей только через методы ChainContext.
type Step interface {
	// Name возвращает уникальное имя Step (для логирования).
	Name() string

	// Execute выполняет Step и возвращает следующий переход.
	Execute(ctx context.Context, chainCtx *ChainContext) StepResult
}

// routeAfterAgent: сообщение без tool calls завершает прогон, иначе — ACTION.
func routeAfterAgent(msg llm.Message) GraphState {
	if msg.HasToolCalls() {
		return StateAction
	}
	return StateEnd
}

// routeAfterAction: если в пачке был вызов терминального инструмента — END, иначе AGENT.
//
// Терминальный инструмент к этому моменту уже выполнен, его результат лежит в истории.
func routeAfterAction(calls []llm.ToolCall) GraphState {
	for _, tc := range calls {
		if tc.Name == TerminalTool {
			return StateEnd
		}
	}
	return StateAgent
}
