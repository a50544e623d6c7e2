// Package debug записывает JSON трейсы прогонов агента-писателя.
//
// Один файл на прогон: seed запрос, каждый Model Step, каждый вызов
// инструмента, итоговая сводка и ошибка. Включается через app.debug.
package debug

import "time"

// DebugLog представляет полный трейс одного прогона.
type DebugLog struct {
	// RunID — уникальный идентификатор прогона (используется в имени файла)
	RunID string `json:"run_id"`

	// Timestamp — время начала прогона
	Timestamp time.Time `json:"timestamp"`

	// Seed — исходное сообщение пользователя
	Seed string `json:"seed"`

	// Duration — общая длительность в миллисекундах
	Duration int64 `json:"duration_ms"`

	Iterations []Iteration `json:"iterations"`
	Summary    Summary     `json:"summary"`

	// Error — причина аварийного завершения (step limit, отмена)
	Error string `json:"error,omitempty"`
}

// Iteration — один Model Step и пачка инструментов после него.
type Iteration struct {
	// Number — номер Model Step (начиная с 1)
	Number int `json:"iteration"`

	// Duration — длительность итерации в миллисекундах
	Duration int64 `json:"duration_ms"`

	LLMRequest    LLMRequest      `json:"llm_request"`
	LLMResponse   LLMResponse     `json:"llm_response"`
	ToolsExecuted []ToolExecution `json:"tools_executed,omitempty"`

	// IsFinal — true если после этой итерации граф перешёл в END
	IsFinal bool `json:"is_final,omitempty"`
}

// LLMRequest содержит информацию о запросе к модели.
type LLMRequest struct {
	Model         string `json:"model"`
	MessagesCount int    `json:"messages_count"`
	ToolsCount    int    `json:"tools_count"`
}

// LLMResponse содержит ответ модели.
type LLMResponse struct {
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCallInfo `json:"tool_calls,omitempty"`

	// Error — текст синтетического сообщения об ошибке модели
	Error string `json:"error,omitempty"`
}

// ToolCallInfo описывает вызов инструмента от модели.
type ToolCallInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// ToolExecution описывает выполнение одного инструмента.
type ToolExecution struct {
	Name   string `json:"name"`
	CallID string `json:"call_id"`

	// Args — аргументы (пусто если IncludeToolArgs=false)
	Args string `json:"args,omitempty"`

	// Result — отрендеренный Output (может быть обрезан)
	Result          string `json:"result,omitempty"`
	ResultTruncated bool   `json:"result_truncated,omitempty"`

	// Path — путь артефакта для file-producing инструментов
	Path string `json:"path,omitempty"`

	Duration int64 `json:"duration_ms"`
	Success  bool  `json:"success"`

	// Error — Reason из Failure
	Error string `json:"error,omitempty"`
}

// Summary содержит агрегированную статистику прогона.
type Summary struct {
	TotalLLMCalls      int      `json:"total_llm_calls"`
	TotalToolsExecuted int      `json:"total_tools_executed"`
	TotalToolDuration  int64    `json:"total_tool_duration_ms"`
	FailedTools        int      `json:"failed_tools"`
	Errors             []string `json:"errors,omitempty"`
	VisitedTools       []string `json:"visited_tools,omitempty"`
	Artifacts          []string `json:"artifacts,omitempty"`
}
