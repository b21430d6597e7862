package clog

import (
	"io"
	"os"

	"github.com/apex/log"
)

// std backs the package level functions. The daemon only ever has one.
var std = NewContextLogger(os.Stdout)

func Global() *log.Entry { return std.Global() }

func UsingCtx(ctx string) *log.Entry { return std.UsingCtx(ctx) }

// ForRequest is the logger of one request, tagged with its number.
func ForRequest(requestNum int) *log.Entry {
	return std.UsingCtx(RequestCtx(requestNum)).WithField("request", requestNum)
}

// EndRequest closes the separate log of a finished request, if one was set up.
func EndRequest(requestNum int) {
	std.RemoveLoggingContext(RequestCtx(requestNum))
}

func AddLoggingContext(ctx string, w io.WriteCloser) { std.AddLoggingContext(ctx, w) }

func RemoveLoggingContext(ctx string) { std.RemoveLoggingContext(ctx) }

func Contexts() []string { return std.Contexts() }

func SetLevel(ctx string, level log.Level) { std.SetLevel(ctx, level) }

func SetLevelFromString(ctx, s string) error { return std.SetLevelFromString(ctx, s) }

func SetGlobalLoggerLevelFromString(s string) error {
	return std.SetLevelFromString(GlobalLoggerCtx, s)
}

func SetOutput(ctx string, w io.WriteCloser) error { return std.SetOutput(ctx, w) }
