package clog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/require"
)

type buffer struct {
	bytes.Buffer
	closed bool
}

func (b *buffer) Close() error {
	b.closed = true
	return nil
}

func TestHandler_FormatsFields(t *testing.T) {
	var out buffer
	logger := &log.Logger{Handler: NewHandler(&out), Level: log.DebugLevel}

	logger.WithFields(log.Fields{"tape": "T1", "ctx": "req-3", "drive": "D1"}).Info("mounted")

	line := out.String()
	require.True(t, strings.HasPrefix(line, " INFO "), line)
	require.Contains(t, line, "[req-3] mounted")
	require.Less(t, strings.Index(line, "drive=D1"), strings.Index(line, "tape=T1"))
	require.NotContains(t, line, "ctx=")
}

func TestContextLogger_RoutesByContext(t *testing.T) {
	var global, req buffer
	l := NewContextLogger(&global)

	l.UsingCtx(RequestCtx(1)).Info("no own logger")
	require.Contains(t, global.String(), "[req-1] no own logger")

	l.AddLoggingContext(RequestCtx(1), &req)
	l.UsingCtx(RequestCtx(1)).Info("own logger")
	require.Contains(t, req.String(), "own logger")
	require.Equal(t, 1, strings.Count(global.String(), "own logger"))
	require.Equal(t, []string{"req-1"}, l.Contexts())

	l.SetLevel(RequestCtx(1), log.ErrorLevel)
	l.UsingCtx(RequestCtx(1)).Info("filtered")
	require.NotContains(t, req.String(), "filtered")

	require.Error(t, l.SetLevelFromString(GlobalLoggerCtx, "loud"))
	require.NoError(t, l.SetLevelFromString(GlobalLoggerCtx, "warn"))
	require.Equal(t, log.WarnLevel, l.GlobalLogger.Level)

	var replacement buffer
	require.NoError(t, l.SetOutput(RequestCtx(1), &replacement))
	require.True(t, req.closed)
	require.Error(t, l.SetOutput("req-2", &replacement))

	l.RemoveLoggingContext(RequestCtx(1))
	require.True(t, replacement.closed)
	require.Empty(t, l.Contexts())
}

func TestEndRequest_ClosesRequestLog(t *testing.T) {
	var out buffer
	AddLoggingContext(RequestCtx(41), &out)
	require.Contains(t, Contexts(), "req-41")

	ForRequest(41).Info("copying")
	require.Contains(t, out.String(), "request=41")

	EndRequest(41)
	require.True(t, out.closed)
	require.NotContains(t, Contexts(), "req-41")

	// A request without its own log is a no-op.
	EndRequest(42)
}
