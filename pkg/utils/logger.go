// Логгер приложения: фасад Info/Debug/Warn/Error(msg, keyvals...) поверх zerolog.
//
// До вызова InitLogger все сообщения отбрасываются, поэтому библиотечные пакеты
// могут логировать без проверок, а тесты не засоряют вывод.
package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logMutex sync.RWMutex
	logger   = zerolog.Nop()
	logFile  *os.File
)

// InitLogger настраивает глобальный логгер.
//
// level: debug, info, warn, error. path: пустая строка = stdout,
// иначе JSON строки дописываются в файл.
func InitLogger(level, path string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if path != "" {
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
	}

	SetLogOutput(out, lvl)

	logMutex.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	logMutex.Unlock()

	Info("Logger initialized", "level", lvl.String(), "file", path)
	return nil
}

// SetLogOutput направляет логи в произвольный writer (используется в тестах и CLI).
func SetLogOutput(w io.Writer, level zerolog.Level) {
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	logMutex.Lock()
	logger = l
	logMutex.Unlock()
}

// Logger возвращает текущий zerolog логгер для пакетов, которым нужен полный API.
func Logger() zerolog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logger
}

// Info - информационное сообщение.
func Info(msg string, keyvals ...any) {
	l := Logger()
	write(l.Info(), msg, keyvals)
}

// Error - сообщение об ошибке.
func Error(msg string, keyvals ...any) {
	l := Logger()
	write(l.Error(), msg, keyvals)
}

// Debug - отладочное сообщение.
func Debug(msg string, keyvals ...any) {
	l := Logger()
	write(l.Debug(), msg, keyvals)
}

// Warn - предупреждение.
func Warn(msg string, keyvals ...any) {
	l := Logger()
	write(l.Warn(), msg, keyvals)
}

// write добавляет пары key/value. Непарный хвост пишется под ключом "extra".
func write(e *zerolog.Event, msg string, keyvals []any) {
	if e == nil {
		return
	}
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals[:len(keyvals)-1:len(keyvals)-1], "extra", keyvals[len(keyvals)-1])
	}
	e.Fields(keyvals).Msg(msg)
}

// Close закрывает лог-файл и возвращает логгер в режим "молчания".
//
// Вызывается через defer в main().
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logFile != nil {
		if err := logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "[LOGGER WARNING: Close failed: %v]\n", err)
		}
		logFile = nil
	}
	logger = zerolog.Nop()
}
