// Package logging builds the process loggers.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const flags = log.LstdFlags | log.Lmicroseconds | log.LUTC

// Options configures the rotating log file
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger writing to stdout and, when opts.File is set, to a
// rotating file. The returned closer releases the file.
func New(prefix string, opts Options) (*log.Logger, io.Closer, error) {
	if opts.File == "" {
		return log.New(os.Stdout, prefix, flags), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    withDefault(opts.MaxSizeMB, 50),
		MaxBackups: withDefault(opts.MaxBackups, 5),
		MaxAge:     withDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}

	return log.New(io.MultiWriter(os.Stdout, rotator), prefix, flags), rotator, nil
}

// MustNew is New with a stdout fallback when the file cannot be opened
func MustNew(prefix string, opts Options) (*log.Logger, io.Closer) {
	logger, closer, err := New(prefix, opts)
	if err != nil {
		logger = log.New(os.Stdout, prefix, flags)
		logger.Printf("failed to initialize file logger: %v", err)
		return logger, nopCloser{}
	}
	return logger, closer
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
