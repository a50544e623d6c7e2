// Package utils предоставляет вспомогательные функции для обработки данных.
//
// Включает очистку ответов LLM от markdown-обёртки, усечение текста для логов
// и диагностики, атомарную запись файлов и сжатие изображений.
package utils

import (
	"strings"
	"unicode/utf8"
)

// CleanJsonBlock удаляет markdown-обёртку вокруг JSON.
//
// Модели иногда присылают аргументы tool call обёрнутыми в кодовый блок:
//
//	```json
//	{"filename": "a"}
//	```
func CleanJsonBlock(s string) string {
	s = strings.TrimSpace(s)

	for _, prefix := range []string{"```json", "```JSON", "```Json", "```"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// ExtractJSON находит первый JSON-объект в тексте.
//
// Возвращает пустую строку если объект не найден. Не валидирует JSON.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

// StripQuotes убирает обрамляющие кавычки, которые модели любят ставить вокруг промптов.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"«", "»"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}

// TruncateText обрезает строку до maxRunes символов, добавляя "...".
//
// Режет по границе руны, чтобы не ломать UTF-8.
func TruncateText(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}

// WordCount считает слова, разделённые пробельными символами.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
