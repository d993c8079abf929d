package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger — минимальный интерфейс логирования, который внедряется во все слои приложения.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(err error, format string, args ...any)
}

// SlogLogger реализует Logger поверх стандартного slog.
type SlogLogger struct {
	log *slog.Logger
}

func NewSlogLogger() *SlogLogger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	return &SlogLogger{log: slog.New(handler)}
}

func (l *SlogLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Warnf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

// Errorf логирует ошибку отдельным атрибутом, сообщение форматируется как обычно.
func (l *SlogLogger) Errorf(err error, format string, args ...any) {
	if err == nil {
		l.log.Error(fmt.Sprintf(format, args...))
		return
	}

	l.log.Error(fmt.Sprintf(format, args...), slog.String("error", err.Error()))
}
