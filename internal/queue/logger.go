package queue

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
)

// Logger adapts slog to asynq.Logger.
type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With("component", "asynq")}
}

func (l *Logger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *Logger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *Logger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }

func (l *Logger) Fatal(args ...interface{}) {
	l.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}

func asynqLevel(level slog.Level) asynq.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return asynq.DebugLevel
	case level <= slog.LevelInfo:
		return asynq.InfoLevel
	case level <= slog.LevelWarn:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}
