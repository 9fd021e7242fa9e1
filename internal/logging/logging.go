// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/camera-control/ccs/internal/config"
)

// Options select where and how the logger writes.
type Options struct {
	Level      string
	Format     string    // console or json
	File       string    // optional rotated JSON log file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    io.Writer // defaults to stderr
}

// FromConfig maps the logging section and the resolved log file path.
func FromConfig(cfg config.LoggingConfig, file string) Options {
	return Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       file,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}
}

// Logger is a started process logger.
type Logger struct {
	*zap.Logger
	file    *lumberjack.Logger
	restore func()
}

// Start builds the logger and redirects the standard library log package
// into it. Stop undoes both.
func Start(opts Options) (*Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(opts.Format), zapcore.AddSync(console), level),
	}

	l := &Logger{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(l.file), level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	l.restore = zap.RedirectStdLog(l.Logger)
	return l, nil
}

// Stop flushes buffered entries and releases the log file.
func (l *Logger) Stop() error {
	if l.restore != nil {
		l.restore()
		l.restore = nil
	}
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func consoleEncoder(format string) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	return zapcore.NewConsoleEncoder(encCfg)
}
