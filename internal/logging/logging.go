// Package logging builds the zap loggers used across vigil.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and the optional log file.
type Config struct {
	Level string
	// File, when set, receives a plain-text copy of every entry and is
	// rotated at MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Writer replaces stderr for console output.
	Writer io.Writer
}

// EncoderConfig is the console layout: ISO8601 time, capital levels, no
// stack traces.
func EncoderConfig(color bool) zapcore.EncoderConfig {
	level := zapcore.CapitalLevelEncoder
	if color {
		level = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    level,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// ParseLevel accepts debug, info, warn and error (case insensitive).
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, errors.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// New returns a logger writing to stderr and, if configured, a rotating file.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var console zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	color := term.IsTerminal(int(os.Stderr.Fd()))
	if cfg.Writer != nil {
		console = zapcore.Lock(zapcore.AddSync(cfg.Writer))
		color = false
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(EncoderConfig(color)), console, lvl),
	}

	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(EncoderConfig(false)), zapcore.AddSync(rotator), lvl))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
