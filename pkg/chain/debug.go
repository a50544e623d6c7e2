package chain

import (
	"context"
	"fmt"

	"github.com/ilkoid/poncho-writer/pkg/debug"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// ChainDebugRecorder — ExecutionObserver, который пишет JSON трейс прогона
// через debug.Recorder. Создаётся на каждый прогон.
type ChainDebugRecorder struct {
	recorder *debug.Recorder
	enabled  bool
	logPath  string
}

// NewChainDebugRecorder создаёт recorder. Выключенный recorder ничего не пишет.
func NewChainDebugRecorder(cfg DebugConfig) (*ChainDebugRecorder, error) {
	if !cfg.Enabled {
		return &ChainDebugRecorder{}, nil
	}

	recorder, err := debug.NewRecorder(debug.RecorderConfig{
		LogsDir:            cfg.LogsDir,
		IncludeToolArgs:    cfg.IncludeToolArgs,
		IncludeToolResults: cfg.IncludeToolResults,
		MaxResultSize:      cfg.MaxResultSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create debug recorder: %w", err)
	}

	return &ChainDebugRecorder{recorder: recorder, enabled: true}, nil
}

// Enabled возвращает true если debug трейс включён.
func (r *ChainDebugRecorder) Enabled() bool {
	return r.enabled
}

// OnStart запоминает seed.
func (r *ChainDebugRecorder) OnStart(ctx context.Context, exec *ReActExecution) {
	if !r.enabled {
		return
	}
	r.recorder.Start(exec.seed)
}

// OnIterationStart открывает итерацию и записывает параметры запроса к модели.
func (r *ChainDebugRecorder) OnIterationStart(exec *ReActExecution, iteration int) {
	if !r.enabled {
		return
	}
	r.recorder.StartIteration(iteration)

	toolsCount := 0
	if exec.llmStep.registry != nil {
		toolsCount = len(exec.llmStep.registry.Names())
	}
	r.recorder.RecordLLMRequest(debug.LLMRequest{
		Model:         exec.llmStep.defaultModel,
		MessagesCount: len(exec.chainCtx.GetMessages()),
		ToolsCount:    toolsCount,
	})
}

// OnIterationEnd записывает ответ модели и результаты инструментов итерации.
func (r *ChainDebugRecorder) OnIterationEnd(exec *ReActExecution, iteration int) {
	if !r.enabled {
		return
	}

	msg := exec.lastResponse
	resp := debug.LLMResponse{}
	if msg.Failed {
		resp.Error = msg.Content
	} else {
		resp.Content = msg.Content
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, debug.ToolCallInfo{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	r.recorder.RecordLLMResponse(resp)

	for _, tr := range exec.lastToolResults {
		r.recorder.RecordToolExecution(debug.ToolExecution{
			Name:     tr.Call.Name,
			CallID:   tr.Call.ID,
			Args:     tr.Call.Args,
			Result:   tr.Output.Render(),
			Path:     tr.Output.Path,
			Duration: tr.Duration.Milliseconds(),
			Success:  tr.Output.OK(),
			Error:    tr.Output.Reason,
		})
	}

	r.recorder.EndIteration(exec.state == StateEnd)
}

// OnFinish сохраняет трейс в файл. Ошибка записи только логируется.
func (r *ChainDebugRecorder) OnFinish(ctx context.Context, exec *ReActExecution, err error) {
	if !r.enabled {
		return
	}
	path, saveErr := r.recorder.Finalize(err, exec.Elapsed())
	if saveErr != nil {
		utils.Error("Failed to save debug log", "error", saveErr)
		return
	}
	r.logPath = path
	utils.Debug("Debug log saved", "path", path)
}

// GetLogPath возвращает путь к сохранённому трейсу или пустую строку.
func (r *ChainDebugRecorder) GetLogPath() string {
	return r.logPath
}

// GetRunID возвращает ID трейса.
func (r *ChainDebugRecorder) GetRunID() string {
	if !r.enabled {
		return ""
	}
	return r.recorder.GetRunID()
}

var _ ExecutionObserver = (*ChainDebugRecorder)(nil)
