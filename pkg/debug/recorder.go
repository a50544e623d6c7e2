package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Recorder записывает трейс прогона и сохраняет его в JSON файл.
//
// Потокобезопасен: инструменты одной пачки могут завершаться параллельно.
type Recorder struct {
	mu sync.Mutex

	config RecorderConfig

	log DebugLog

	// currentIteration — итерация, которая сейчас заполняется
	currentIteration *Iteration
	iterationStart   time.Time

	visitedTools map[string]struct{}
	errors       []string
}

// RecorderConfig конфигурация для создания Recorder.
type RecorderConfig struct {
	// LogsDir — директория для сохранения трейсов
	LogsDir string

	// IncludeToolArgs — включать аргументы инструментов в трейс
	IncludeToolArgs bool

	// IncludeToolResults — включать результаты инструментов в трейс
	IncludeToolResults bool

	// MaxResultSize — максимальный размер результата (превышение обрезается).
	// 0 означает без ограничений.
	MaxResultSize int
}

// NewRecorder создаёт Recorder. Если LogsDir не существует, создаёт её.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.LogsDir != "" {
		if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	now := time.Now()
	runID := fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])

	return &Recorder{
		config: cfg,
		log: DebugLog{
			RunID:     runID,
			Timestamp: now,
		},
		visitedTools: make(map[string]struct{}),
	}, nil
}

// Start запоминает seed сообщение прогона.
func (r *Recorder) Start(seed string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Seed = seed
	r.log.Timestamp = time.Now()
}

// StartIteration начинает запись новой итерации.
func (r *Recorder) StartIteration(num int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentIteration = &Iteration{Number: num}
	r.iterationStart = time.Now()
}

// RecordLLMRequest записывает параметры запроса к модели.
func (r *Recorder) RecordLLMRequest(req LLMRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIteration != nil {
		r.currentIteration.LLMRequest = req
	}
}

// RecordLLMResponse записывает ответ модели.
func (r *Recorder) RecordLLMResponse(resp LLMResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIteration == nil {
		return
	}
	r.currentIteration.LLMResponse = resp
	if resp.Error != "" {
		r.errors = append(r.errors, "model: "+resp.Error)
	}
}

// RecordToolExecution записывает выполнение инструмента.
func (r *Recorder) RecordToolExecution(exec ToolExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIteration == nil {
		return
	}

	if !r.config.IncludeToolArgs {
		exec.Args = ""
	}
	if !r.config.IncludeToolResults {
		exec.Result = ""
	} else if r.config.MaxResultSize > 0 && len([]rune(exec.Result)) > r.config.MaxResultSize {
		exec.Result = utils.TruncateText(exec.Result, r.config.MaxResultSize)
		exec.ResultTruncated = true
	}

	r.currentIteration.ToolsExecuted = append(r.currentIteration.ToolsExecuted, exec)
	r.visitedTools[exec.Name] = struct{}{}

	if !exec.Success && exec.Error != "" {
		r.errors = append(r.errors, fmt.Sprintf("tool %s: %s", exec.Name, exec.Error))
	}
}

// EndIteration закрывает текущую итерацию.
func (r *Recorder) EndIteration(final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIteration == nil {
		return
	}
	r.currentIteration.IsFinal = final
	r.currentIteration.Duration = time.Since(r.iterationStart).Milliseconds()
	r.log.Iterations = append(r.log.Iterations, *r.currentIteration)
	r.currentIteration = nil
}

// Finalize закрывает незавершённую итерацию и сохраняет трейс в файл.
//
// Возвращает путь к сохранённому файлу.
func (r *Recorder) Finalize(runErr error, duration time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentIteration != nil {
		r.currentIteration.Duration = time.Since(r.iterationStart).Milliseconds()
		r.log.Iterations = append(r.log.Iterations, *r.currentIteration)
		r.currentIteration = nil
	}

	r.log.Duration = duration.Milliseconds()
	if runErr != nil {
		r.log.Error = runErr.Error()
	}
	r.buildSummary()

	data, err := json.MarshalIndent(r.log, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal debug log: %w", err)
	}

	path := r.filePath()
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write debug log: %w", err)
	}
	return path, nil
}

// buildSummary формирует агрегированную статистику.
func (r *Recorder) buildSummary() {
	summary := Summary{
		Errors:       r.errors,
		VisitedTools: make([]string, 0, len(r.visitedTools)),
	}
	for tool := range r.visitedTools {
		summary.VisitedTools = append(summary.VisitedTools, tool)
	}
	sort.Strings(summary.VisitedTools)

	for _, iter := range r.log.Iterations {
		summary.TotalLLMCalls++
		for _, tool := range iter.ToolsExecuted {
			summary.TotalToolsExecuted++
			summary.TotalToolDuration += tool.Duration
			if !tool.Success {
				summary.FailedTools++
			}
			if tool.Success && tool.Path != "" {
				summary.Artifacts = append(summary.Artifacts, tool.Path)
			}
		}
	}

	r.log.Summary = summary
}

func (r *Recorder) filePath() string {
	return filepath.Join(r.config.LogsDir, r.log.RunID+".json")
}

// GetRunID возвращает идентификатор прогона.
func (r *Recorder) GetRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.RunID
}

// Snapshot возвращает копию накопленного трейса (для тестов и CLI).
func (r *Recorder) Snapshot() DebugLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.log
	log.Iterations = append([]Iteration(nil), r.log.Iterations...)
	return log
}
