package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SavedMarker — фраза, по которой строковые инструменты сообщают об успешной записи файла.
const SavedMarker = "successfully saved to"

// OutputKind различает успешный и неуспешный результат инструмента.
type OutputKind string

const (
	KindSuccess OutputKind = "success"
	KindFailure OutputKind = "failure"
)

// Output — результат вызова инструмента: Success{Text | Payload, Path?} или Failure{Reason, Details}.
type Output struct {
	Kind    OutputKind     `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Path    string         `json:"path,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Success создаёт текстовый успешный результат.
func Success(text string) Output {
	return Output{Kind: KindSuccess, Text: text}
}

// SuccessPayload создаёт структурированный успешный результат.
func SuccessPayload(payload map[string]any) Output {
	return Output{Kind: KindSuccess, Payload: payload}
}

// Artifact создаёт успешный результат с путём к записанному файлу.
func Artifact(text, path string) Output {
	return Output{Kind: KindSuccess, Text: text, Path: path}
}

// Failure создаёт результат-ошибку.
func Failure(reason string, details map[string]any) Output {
	return Output{Kind: KindFailure, Reason: reason, Details: details}
}

// OK сообщает что результат успешный.
func (o Output) OK() bool {
	return o.Kind == KindSuccess
}

// Render возвращает текст для tool сообщения в истории диалога.
//
// Failure рендерится как {"error": ..., "details": ...}, чтобы FromString
// восстанавливал тот же вид результата.
func (o Output) Render() string {
	if !o.OK() {
		body := map[string]any{"error": o.Reason}
		if len(o.Details) > 0 {
			body["details"] = o.Details
		}
		return marshalOrFallback(body, "Error: "+o.Reason)
	}

	if o.Text != "" || o.Payload == nil {
		return o.Text
	}

	body := make(map[string]any, len(o.Payload)+1)
	for k, v := range o.Payload {
		body[k] = v
	}
	if o.Path != "" {
		body["file_path"] = o.Path
	}
	return marshalOrFallback(body, fmt.Sprintf("%v", o.Payload))
}

func marshalOrFallback(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// FromString разбирает результат строкового инструмента.
//
// Правила:
//   - JSON объект с ключом file_path или error разбирается как структурированный результат
//   - строка с SavedMarker — успех, Path = остаток строки после маркера без пробелов
//   - любая другая строка — текстовый успех
func FromString(s string) Output {
	trimmed := strings.TrimSpace(s)

	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			if _, hasErr := m["error"]; hasErr {
				return FromMap(m)
			}
			if _, hasPath := m["file_path"]; hasPath {
				return FromMap(m)
			}
		}
	}

	if idx := strings.Index(s, SavedMarker); idx >= 0 {
		path := strings.TrimSpace(s[idx+len(SavedMarker):])
		if path != "" {
			return Artifact(s, path)
		}
	}

	return Success(s)
}

// FromMap разбирает структурированный результат: ключ error означает Failure,
// file_path означает успех с путём к артефакту.
func FromMap(m map[string]any) Output {
	if errVal, ok := m["error"]; ok {
		details := make(map[string]any)
		if nested, ok := m["details"].(map[string]any); ok {
			for k, v := range nested {
				details[k] = v
			}
		}
		for k, v := range m {
			if k != "error" && k != "details" {
				details[k] = v
			}
		}
		if len(details) == 0 {
			details = nil
		}
		return Failure(fmt.Sprint(errVal), details)
	}

	out := SuccessPayload(m)
	if path, ok := m["file_path"].(string); ok {
		out.Path = strings.TrimSpace(path)
	}
	return out
}

// AdaptString оборачивает строковый инструмент в Tool.
//
// Признак FileProducer исходного инструмента сохраняется.
func AdaptString(t StringTool) Tool {
	if fp, ok := t.(FileProducer); ok && fp.ProducesFiles() {
		return &fileStringAdapter{stringAdapter{inner: t}}
	}
	return &stringAdapter{inner: t}
}

type stringAdapter struct {
	inner StringTool
}

func (a *stringAdapter) Definition() ToolDefinition {
	return a.inner.Definition()
}

func (a *stringAdapter) Execute(ctx context.Context, argsJSON string) (Output, error) {
	raw, err := a.inner.Execute(ctx, argsJSON)
	if err != nil {
		return Output{}, err
	}
	return FromString(raw), nil
}

type fileStringAdapter struct {
	stringAdapter
}

func (a *fileStringAdapter) ProducesFiles() bool { return true }
