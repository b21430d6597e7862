package clog

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apex/log"
)

const GlobalLoggerCtx = "global"

// RequestCtx is the logging context name of a request.
func RequestCtx(requestNum int) string {
	return fmt.Sprintf("req-%d", requestNum)
}

// ContextLogger routes log entries by context name. A context without its own logger
// (for example a request nobody asked a separate log for) goes to the global logger.
type ContextLogger struct {
	GlobalLogger *log.Logger

	mu      sync.RWMutex
	loggers map[string]*contextEntry
}

type contextEntry struct {
	logger  *log.Logger
	handler *Handler
}

func NewContextLogger(globalLoggerWriter io.WriteCloser) *ContextLogger {
	return &ContextLogger{
		GlobalLogger: &log.Logger{Handler: NewHandler(globalLoggerWriter), Level: log.InfoLevel},
		loggers:      make(map[string]*contextEntry),
	}
}

// AddLoggingContext gives ctx its own output. An existing output for ctx is closed.
func (l *ContextLogger) AddLoggingContext(ctx string, w io.WriteCloser) {
	h := NewHandler(w)
	entry := &contextEntry{
		logger:  &log.Logger{Handler: h, Level: l.GlobalLogger.Level},
		handler: h,
	}

	l.mu.Lock()
	old := l.loggers[ctx]
	l.loggers[ctx] = entry
	l.mu.Unlock()

	if old != nil {
		old.handler.Close()
	}
}

func (l *ContextLogger) RemoveLoggingContext(ctx string) {
	l.mu.Lock()
	entry, ok := l.loggers[ctx]
	delete(l.loggers, ctx)
	l.mu.Unlock()

	if ok {
		entry.handler.Close()
	}
}

func (l *ContextLogger) SetLevel(ctx string, level log.Level) {
	if ctx == GlobalLoggerCtx {
		l.GlobalLogger.Level = level
		return
	}

	if entry := l.lookup(ctx); entry != nil {
		entry.logger.Level = level
	}
}

func (l *ContextLogger) SetLevelFromString(ctx, s string) error {
	level, err := log.ParseLevel(s)
	if err != nil {
		return err
	}

	l.SetLevel(ctx, level)
	return nil
}

// SetOutput swaps the writer of an existing context, closing the previous one.
func (l *ContextLogger) SetOutput(ctx string, w io.WriteCloser) error {
	if ctx == GlobalLoggerCtx {
		h, ok := l.GlobalLogger.Handler.(*Handler)
		if !ok {
			return fmt.Errorf("global logger has a foreign handler")
		}
		h.SetOutput(w)
		return nil
	}

	entry := l.lookup(ctx)
	if entry == nil {
		return fmt.Errorf("no such context %s", ctx)
	}

	entry.handler.SetOutput(w)
	return nil
}

// Contexts lists, sorted, the names of the contexts that have their own logger.
func (l *ContextLogger) Contexts() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.loggers))
	for name := range l.loggers {
		names = append(names, name)
	}
	l.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (l *ContextLogger) UsingCtx(ctx string) *log.Entry {
	if entry := l.lookup(ctx); entry != nil {
		return entry.logger.WithField("ctx", ctx)
	}
	return l.GlobalLogger.WithField("ctx", ctx)
}

func (l *ContextLogger) Global() *log.Entry {
	return l.GlobalLogger.WithField("ctx", GlobalLoggerCtx)
}

func (l *ContextLogger) lookup(ctx string) *contextEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loggers[ctx]
}
