package webapi

import (
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/pkg/errors"
)

// LogController changes logging at runtime. The global context also drives the package
// level apex logger; any other context (req-<n>) gets its own logger on first use.
type LogController struct {
	mu       sync.Mutex
	Contexts map[string]*LogSetting `json:"contexts"`
	handler  *clog.Handler
}

type LogSetting struct {
	Level  string `json:"level"`
	Output string `json:"output"`
}

type LogRequest struct {
	Context   string `json:"context"`
	LogLevel  string `json:"log_level"`
	LogOutput string `json:"log_output"`
}

func NewLogController() *LogController {
	handler := clog.NewHandler(os.Stdout)
	log.SetHandler(handler)

	return &LogController{
		Contexts: map[string]*LogSetting{
			clog.GlobalLoggerCtx: {Level: log.InfoLevel.String(), Output: "stdout"},
		},
		handler: handler,
	}
}

func (c *LogController) SetLogging(ctx echo.Context) error {
	var req LogRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingOutput(req.Context, req.LogOutput); err != nil {
		return badRequest(err)
	}

	if err := c.setLoggingLevel(req.Context, req.LogLevel); err != nil {
		return badRequest(err)
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogLevel(ctx echo.Context) error {
	var req LogRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingLevel(req.Context, req.LogLevel); err != nil {
		return badRequest(err)
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogOutput(ctx echo.Context) error {
	var req LogRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingOutput(req.Context, req.LogOutput); err != nil {
		return badRequest(err)
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) ShowCurrentLogging(ctx echo.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.JSON(http.StatusOK, c)
}

func contextName(ctx string) string {
	if ctx == "" {
		return clog.GlobalLoggerCtx
	}
	return ctx
}

func (c *LogController) setLoggingLevel(ctx, logLevel string) error {
	ctx = contextName(ctx)
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %s", logLevel)
	}

	setting, ok := c.Contexts[ctx]
	if !ok {
		return errors.Errorf("no logging context %s, set its output first", ctx)
	}

	clog.SetLevel(ctx, level)
	if ctx == clog.GlobalLoggerCtx {
		log.SetLevel(level)
	}
	setting.Level = level.String()

	return nil
}

func (c *LogController) setLoggingOutput(ctx, logOutput string) error {
	ctx = contextName(ctx)

	var w io.WriteCloser
	switch logOutput {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "":
		return errors.New("no log output given")
	default:
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "unable to open log output %s", logOutput)
		}
		w = f
	}

	setting, ok := c.Contexts[ctx]
	switch {
	case ctx == clog.GlobalLoggerCtx:
		if err := clog.SetOutput(ctx, w); err != nil {
			return err
		}
		c.handler.SetOutput(w)
	case ok:
		if err := clog.SetOutput(ctx, w); err != nil {
			return err
		}
	default:
		clog.AddLoggingContext(ctx, w)
		setting = &LogSetting{Level: c.Contexts[clog.GlobalLoggerCtx].Level}
		c.Contexts[ctx] = setting
	}

	setting.Output = logOutput
	return nil
}
