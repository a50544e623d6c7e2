// Package chain реализует граф исполнения агента-писателя.
//
// Граф чередует два шага над общей историей прогона:
//
//	AGENT (LLMInvocationStep) → ACTION (ToolExecutionStep) → AGENT → ... → END
//
// Переходы решает политика routeAfterAgent/routeAfterAction, лимит циклов
// задаёт ReActCycleConfig.MaxIterations. После END ExtractOutcome один раз
// разбирает историю и строит RunOutcome.
//
// Правила из dev_manifest.md:
//   - Rule 1: Работает с Tool interface ("Raw In, Output Out")
//   - Rule 2: Конфигурируется через YAML (agent секция)
//   - Rule 3: Tools вызываются через Registry
//   - Rule 4: LLM вызывается через llm.Provider
//   - Rule 5: Thread-safe через ChainContext
//   - Rule 7: Все ошибки возвращаются, нет panic
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/events"
)

// TerminalTool — имя инструмента, вызов которого завершает прогон.
const TerminalTool = "finish"

// Sentinel ошибки прогона. Проверяются через errors.Is на RunOutcome.Error.
var (
	// ErrStepLimitExceeded — достигнут agent.max_iterations без finish.
	ErrStepLimitExceeded = errors.New("step limit exceeded")

	// ErrRunCancelled — контекст прогона отменён до END.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrNoFinalSummary — история закончилась без finish и без финального ответа модели.
	ErrNoFinalSummary = errors.New("could not determine final summary")

	// ErrModelCall — последний Model Step завершился ошибкой провайдера.
	ErrModelCall = errors.New("model call failed")
)

// Chain — контракт графа агента для внешних потребителей (HTTP слой, CLI).
type Chain interface {
	// Run запускает прогон и возвращает поток событий.
	//
	// Канал закрывается после events.EventRunEnded. Потребитель обязан
	// дочитать канал до конца (Collect делает это сам).
	Run(ctx context.Context, seed string) <-chan events.Event

	// Execute запускает прогон и ждёт единственный RunOutcome.
	Execute(ctx context.Context, seed string) RunOutcome
}

// RunStatus — итоговый статус прогона.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunOutcome — результат прогона. Создаётся ровно один раз на прогон.
type RunOutcome struct {
	Status       RunStatus
	FinalSummary string

	// ArtifactPaths — имя файла → путь, из успешных результатов file-producing инструментов.
	ArtifactPaths map[string]string

	// Error — причина статуса failed (оборачивает одну из sentinel ошибок).
	Error error

	// Iterations — количество выполненных Model Step.
	Iterations int

	Duration time.Duration
}

// Completed сообщает что прогон завершился успешно.
func (o RunOutcome) Completed() bool {
	return o.Status == StatusCompleted
}

// ErrorMessage возвращает текст ошибки или пустую строку.
func (o RunOutcome) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}
	return o.Error.Error()
}
