// Package logging builds the per-component loggers. Every component logs
// through a standard *log.Logger with a bracketed prefix; when a log file
// is configured the output is also written to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File is the rotated log file. Empty disables file output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console receives log output as well (default: os.Stderr). Use
	// io.Discard to log to the file only.
	Console io.Writer
}

// Factory hands out loggers sharing one output.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New creates a Factory.
func New(opts Options) (*Factory, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	f := &Factory{out: console}
	if opts.File == "" {
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	f.file = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	if console == io.Discard {
		f.out = f.file
	} else {
		f.out = io.MultiWriter(console, f.file)
	}
	return f, nil
}

// Logger returns a logger for component, e.g. Logger("proxy") prefixes
// lines with "[proxy] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without file output.
func (f *Factory) Rotate() error {
	if f.file == nil {
		return nil
	}
	return f.file.Rotate()
}

// Close flushes and closes the log file.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
