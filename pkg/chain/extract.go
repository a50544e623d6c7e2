package chain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

const (
	// tailMessages — сколько последних сообщений попадает в ошибку ErrNoFinalSummary.
	tailMessages = 3

	// tailContentRunes — обрезка содержимого сообщения в хвосте истории.
	tailContentRunes = 200
)

// ExtractOutcome строит RunOutcome по истории завершённого прогона.
//
// Порядок поиска итогового текста:
//  1. последний успешный результат finish;
//  2. последнее сообщение — assistant без ошибки и без tool calls, с текстом;
//  3. иначе failed: ErrModelCall для синтетического сообщения об ошибке модели,
//     ErrNoFinalSummary с хвостом истории для всего остального.
//
// runErr (step limit, отмена) побеждает: статус failed с этой ошибкой.
// ArtifactPaths собираются независимо от статуса.
//
// producesFiles = nil означает, что артефактом считается любой успешный Output с Path.
func ExtractOutcome(messages []llm.Message, outputs map[string]tools.Output, iterations int, runErr error, producesFiles func(string) bool) RunOutcome {
	outcome := RunOutcome{
		ArtifactPaths: collectArtifacts(messages, outputs, producesFiles),
		Iterations:    iterations,
	}

	if runErr != nil {
		outcome.Status = StatusFailed
		outcome.Error = runErr
		return outcome
	}

	if summary, ok := lastFinishSummary(messages, outputs); ok {
		outcome.Status = StatusCompleted
		outcome.FinalSummary = summary
		return outcome
	}

	if len(messages) > 0 {
		last := messages[len(messages)-1]
		if last.Role == llm.RoleAssistant && !last.HasToolCalls() {
			if last.Failed {
				outcome.Status = StatusFailed
				outcome.Error = fmt.Errorf("%w: %s", ErrModelCall, strings.TrimPrefix(last.Content, ModelErrorPrefix))
				return outcome
			}
			if content := strings.TrimSpace(last.Content); content != "" {
				outcome.Status = StatusCompleted
				outcome.FinalSummary = content
				return outcome
			}
		}
	}

	outcome.Status = StatusFailed
	outcome.Error = fmt.Errorf("%w: %s", ErrNoFinalSummary, historyTail(messages))
	return outcome
}

// lastFinishSummary ищет последний успешный результат TerminalTool.
func lastFinishSummary(messages []llm.Message, outputs map[string]tools.Output) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != llm.RoleTool || msg.Name != TerminalTool {
			continue
		}
		out, ok := outputs[msg.ToolCallID]
		if !ok {
			// История без структурированных результатов: разбираем текст сообщения.
			out = tools.FromString(msg.Content)
		}
		if out.OK() {
			return finishText(out), true
		}
	}
	return "", false
}

func finishText(out tools.Output) string {
	if out.Text != "" {
		return out.Text
	}
	return out.Render()
}

// collectArtifacts возвращает {имя файла: путь} по успешным результатам
// file-producing инструментов. Сбои таких инструментов логируются.
func collectArtifacts(messages []llm.Message, outputs map[string]tools.Output, producesFiles func(string) bool) map[string]string {
	artifacts := make(map[string]string)
	for _, msg := range messages {
		if msg.Role != llm.RoleTool {
			continue
		}
		out, ok := outputs[msg.ToolCallID]
		if !ok {
			out = tools.FromString(msg.Content)
		}
		addArtifact(artifacts, msg.Name, out, producesFiles)
	}
	return artifacts
}

func addArtifact(artifacts map[string]string, toolName string, out tools.Output, producesFiles func(string) bool) {
	if producesFiles != nil && !producesFiles(toolName) {
		return
	}
	if !out.OK() {
		if producesFiles != nil {
			utils.Warn("File-producing tool failed",
				"tool", toolName,
				"reason", out.Reason,
				"details", out.Details)
		}
		return
	}
	if out.Path == "" {
		return
	}
	artifacts[filepath.Base(out.Path)] = out.Path
}

// historyTail форматирует последние сообщения как "role: content | role: content".
func historyTail(messages []llm.Message) string {
	start := len(messages) - tailMessages
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, tailMessages)
	for _, msg := range messages[start:] {
		content := strings.Join(strings.Fields(msg.Content), " ")
		if content == "" && msg.HasToolCalls() {
			names := make([]string, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				names[i] = tc.Name
			}
			content = "[tool calls: " + strings.Join(names, ", ") + "]"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, utils.TruncateText(content, tailContentRunes)))
	}
	if len(parts) == 0 {
		return "empty history"
	}
	return strings.Join(parts, " | ")
}

// Collect читает поток событий прогона до конца и возвращает RunOutcome.
//
// Итог строится по run_ended. Поток, закрытый без run_ended, завершается
// успешно только если был успешный вызов finish, иначе ErrNoFinalSummary.
// При отмене ctx возвращается ErrRunCancelled, остаток потока вычитывается
// в фоне, чтобы не блокировать прогон.
func Collect(ctx context.Context, stream <-chan events.Event, producesFiles func(string) bool) RunOutcome {
	start := time.Now()

	var (
		iterations int
		summary    string
		finished   bool
		artifacts  = make(map[string]string)
	)

	for {
		select {
		case <-ctx.Done():
			go drain(stream)
			return RunOutcome{
				Status:        StatusFailed,
				Error:         ErrRunCancelled,
				ArtifactPaths: artifacts,
				Iterations:    iterations,
				Duration:      time.Since(start),
			}

		case ev, ok := <-stream:
			if !ok {
				outcome := RunOutcome{
					ArtifactPaths: artifacts,
					Iterations:    iterations,
					Duration:      time.Since(start),
				}
				if finished {
					outcome.Status = StatusCompleted
					outcome.FinalSummary = summary
				} else {
					outcome.Status = StatusFailed
					outcome.Error = fmt.Errorf("%w: event stream closed before run end", ErrNoFinalSummary)
				}
				return outcome
			}

			switch data := ev.Data.(type) {
			case events.ModelRespondedData:
				iterations = data.Iteration

			case events.ToolInvokedData:
				addArtifact(artifacts, data.Name, data.Output, producesFiles)
				if data.Name == TerminalTool && data.Output.OK() {
					finished = true
					summary = finishText(data.Output)
				}

			case events.RunEndedData:
				if data.Iterations > iterations {
					iterations = data.Iterations
				}
				outcome := ExtractOutcome(data.Messages, data.Outputs, iterations, data.Err, producesFiles)
				outcome.Duration = time.Since(start)
				go drain(stream)
				return outcome
			}
		}
	}
}

// drain вычитывает канал до закрытия.
func drain(stream <-chan events.Event) {
	for range stream {
	}
}
