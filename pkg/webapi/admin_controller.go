package webapi

import (
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/scheduler"
	"github.com/rcrowley/go-metrics"
)

// AdminController answers daemon level questions and stops the daemon.
type AdminController struct {
	sched     *scheduler.Scheduler
	startTime time.Time

	// shutdown is called in its own goroutine once a stop has been accepted.
	shutdown func()
}

func NewAdminController(sched *scheduler.Scheduler, startTime time.Time, shutdown func()) *AdminController {
	return &AdminController{sched: sched, startTime: startTime, shutdown: shutdown}
}

type DaemonStatus struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Stopping  bool      `json:"stopping"`
}

func (c *AdminController) Status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, DaemonStatus{
		PID:       os.Getpid(),
		StartTime: c.startTime,
		Stopping:  c.sched.Stopped(),
	})
}

func (c *AdminController) Metrics(ctx echo.Context) error {
	ctx.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx.Response().WriteHeader(http.StatusOK)
	metrics.WriteJSONOnce(c.sched.Stats().Registry, ctx.Response())
	return nil
}

// Stop accepts ?mode=graceful (the default, running units finish), terminate (units stop
// between files) or force (transfers in progress are abandoned too).
func (c *AdminController) Stop(ctx echo.Context) error {
	mode := ctx.QueryParam("mode")
	termination := c.sched.Termination()

	switch mode {
	case "", "graceful":
		mode = "graceful"
	case "terminate":
		termination.Terminate()
	case "force":
		termination.ForceTerminate()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be graceful, terminate or force")
	}

	log.Infof("%s stop requested", mode)
	go c.shutdown()

	return ctx.JSON(http.StatusAccepted, map[string]string{"stop": mode})
}
