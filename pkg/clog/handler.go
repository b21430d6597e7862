package clog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/fatih/color"
)

// Handler writes one line per entry: level, time, context, message and then the remaining
// fields sorted by name. Levels are colored when writing to a terminal.
type Handler struct {
	mu       sync.Mutex
	Writer   io.WriteCloser
	colorize bool
}

var levelNames = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  "INFO",
	log.WarnLevel:  "WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

var levelColors = [...]*color.Color{
	log.DebugLevel: color.New(color.FgWhite),
	log.InfoLevel:  color.New(color.FgBlue),
	log.WarnLevel:  color.New(color.FgYellow),
	log.ErrorLevel: color.New(color.FgRed),
	log.FatalLevel: color.New(color.FgRed, color.Bold),
}

func NewHandler(w io.WriteCloser) *Handler {
	return &Handler{Writer: w, colorize: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	return !color.NoColor && (w == os.Stdout || w == os.Stderr)
}

func (h *Handler) SetOutput(w io.WriteCloser) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeWriter()
	h.Writer = w
	h.colorize = isTerminal(w)
}

func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeWriter()
}

// closeWriter never closes stdout or stderr.
func (h *Handler) closeWriter() {
	if h.Writer == nil || h.Writer == os.Stdout || h.Writer == os.Stderr {
		return
	}
	_ = h.Writer.Close()
}

func (h *Handler) HandleLog(e *log.Entry) error {
	level := fmt.Sprintf("%5s", levelNames[e.Level])
	if h.colorize {
		level = levelColors[e.Level].Sprint(level)
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		if name != "ctx" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b bytes.Buffer
	_, _ = fmt.Fprintf(&b, "%s %s", level, time.Now().Format(time.DateTime))
	if ctx, ok := e.Fields["ctx"]; ok {
		_, _ = fmt.Fprintf(&b, " [%v]", ctx)
	}
	_, _ = fmt.Fprintf(&b, " %-25s", e.Message)

	for _, name := range names {
		_, _ = fmt.Fprintf(&b, " %s=%v", name, e.Fields[name])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.Writer, b.String())

	return nil
}
