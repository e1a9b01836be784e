package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	errMu sync.Mutex
	errW  io.WriteCloser
}

// New writes INFO and WARN lines to stdout and ERROR lines to stdout and errorsPath.
// The errors file is truncated on startup. An empty errorsPath keeps errors on stdout only.
func New(errorsPath string) (*Logger, error) {
	if errorsPath == "" {
		return newWithWriters(os.Stdout, os.Stdout, nil), nil
	}

	if err := os.Truncate(errorsPath, 0); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newWithWriters(os.Stdout, io.MultiWriter(os.Stdout, f), f), nil
}

// Discard returns a logger that drops everything. Used by tests and one-shot tools.
func Discard() *Logger {
	return newWithWriters(io.Discard, io.Discard, nil)
}

func newWithWriters(out, errOut io.Writer, closer io.WriteCloser) *Logger {
	return &Logger{
		info: log.New(out, "INFO ", log.LstdFlags|log.Lmicroseconds),
		warn: log.New(out, "WARN ", log.LstdFlags|log.Lmicroseconds),
		err:  log.New(errOut, "ERROR ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		errW: closer,
	}
}

func (l *Logger) Close() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.errW != nil {
		err := l.errW.Close()
		l.errW = nil
		return err
	}
	return nil
}

func (l *Logger) Infof(format string, args ...any) {
	l.info.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.warn.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	// depth 2 so Lshortfile points at the caller, not this wrapper
	_ = l.err.Output(2, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	l.errMu.Lock()
	defer l.errMu.Unlock()
	_ = l.err.Output(2, err.Error())
}
