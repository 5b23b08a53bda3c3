package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Log struct {
	*slog.LevelVar
	*slog.Logger
}

// Logger is the global logger instance
var Logger *Log

func init() {
	Logger = New(os.Stderr)
	Logger.SetLogLevel("error") // Set default log level to Error
}

// New 创建一个写入 w 的文本日志, time 字段重命名为 timestamp
func New(w io.Writer) *Log {
	level := &slog.LevelVar{}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{Key: "timestamp", Value: slog.TimeValue(a.Value.Time())}
			}
			return a
		},
	}
	return &Log{
		LevelVar: level,
		Logger:   slog.New(slog.NewTextHandler(w, opts)),
	}
}

func (l *Log) SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		l.Set(slog.LevelDebug)
	case "info":
		l.Set(slog.LevelInfo)
	case "warn", "warning":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	}
}

// Discard 返回丢弃所有输出的 logger, 供测试使用
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
