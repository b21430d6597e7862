package webapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/fileop"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/materials-commons/tapehsm/pkg/status"
	"github.com/pkg/errors"
)

// RequestController accepts migration and recall requests and answers questions about them.
type RequestController struct {
	env     *fileop.Env
	numbers *fileop.RequestNumbers
}

func NewRequestController(env *fileop.Env, numbers *fileop.RequestNumbers) *RequestController {
	return &RequestController{env: env, numbers: numbers}
}

type RequestNumberResponse struct {
	RequestNum int `json:"request_num"`
}

type SubmitResponse struct {
	RequestNum int                `json:"request_num"`
	Result     fileop.BatchResult `json:"result"`
}

type MigrateRequest struct {
	RequestNum int      `json:"request_num"`
	Pools      []string `json:"pools"`
	Target     string   `json:"target"`
	Files      []string `json:"files"`
}

type RecallRequest struct {
	RequestNum int      `json:"request_num"`
	Target     string   `json:"target"`
	Files      []string `json:"files"`
}

type TransparentRecallRequest struct {
	File   string `json:"file"`
	Target string `json:"target"`
}

func (c *RequestController) NextRequestNumber(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, RequestNumberResponse{RequestNum: c.numbers.Next()})
}

func (c *RequestController) Migrate(ctx echo.Context) error {
	req, err := bindStrict[MigrateRequest](ctx)
	if err != nil {
		return err
	}

	target, err := hsm.ParseTargetState(req.Target)
	if err != nil {
		return badRequest(err)
	}

	m, err := fileop.NewMigration(c.env, c.requestNum(req.RequestNum), req.Pools, target)
	if err != nil {
		return toHTTPError(err)
	}

	return c.submit(ctx, m, req.Files)
}

func (c *RequestController) Recall(ctx echo.Context) error {
	req, err := bindStrict[RecallRequest](ctx)
	if err != nil {
		return err
	}

	target, err := recallTarget(req.Target)
	if err != nil {
		return badRequest(err)
	}

	r, err := fileop.NewSelRecall(c.env, c.requestNum(req.RequestNum), target)
	if err != nil {
		return badRequest(err)
	}

	return c.submit(ctx, r, req.Files)
}

// TransparentRecall recalls one file on behalf of a process blocked on it. It answers once
// the file is back.
func (c *RequestController) TransparentRecall(ctx echo.Context) error {
	req, err := bindStrict[TransparentRecallRequest](ctx)
	if err != nil {
		return err
	}

	if req.File == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no file given")
	}

	target, err := recallTarget(req.Target)
	if err != nil {
		return badRequest(err)
	}

	if c.env.Scheduler.Stopped() {
		return toHTTPError(hsm.ErrSchedulerStopped)
	}

	r, err := fileop.NewTraRecall(c.env, c.numbers.Next(), target)
	if err != nil {
		return badRequest(err)
	}

	// A file that cannot be queued still gets a FAILED row, the request finishes right away.
	if err := r.AddJob(ctx.Request().Context(), req.File); err != nil {
		clog.ForRequest(r.RequestNumber()).Warnf("transparent recall of %s: %s", req.File, err)
	}

	if err := r.AddRequest(ctx.Request().Context()); err != nil {
		return err
	}

	p, err := waitDone(ctx.Request().Context(), c.env.Scheduler.Tracker(), r.RequestNumber())
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, p)
}

// RequestStatus reports the counters of a request. Requests the tracker no longer knows,
// for example from before a restart, are answered from the job store.
func (c *RequestController) RequestStatus(ctx echo.Context) error {
	reqNum, err := strconv.Atoi(ctx.Param("num"))
	if err != nil {
		return badRequest(err)
	}

	if p, ok := c.env.Scheduler.Tracker().Query(reqNum); ok {
		return ctx.JSON(http.StatusOK, p)
	}

	p, found, err := progressFromStore(c.env.Stors, reqNum)
	switch {
	case err != nil:
		return err
	case !found:
		return echo.NewHTTPError(http.StatusNotFound, "no such request")
	default:
		return ctx.JSON(http.StatusOK, p)
	}
}

func (c *RequestController) ListRequests(ctx echo.Context) error {
	reqNum, err := requestNumParam(ctx)
	if err != nil {
		return badRequest(err)
	}

	requests, err := c.env.Stors.RequestStor.ListRequests(reqNum)
	if err != nil {
		return err
	}

	if requests == nil {
		requests = []hsmmodel.Request{}
	}

	return ctx.JSON(http.StatusOK, requests)
}

func (c *RequestController) ListJobs(ctx echo.Context) error {
	reqNum, err := requestNumParam(ctx)
	if err != nil {
		return badRequest(err)
	}

	jobs, err := c.env.Stors.JobStor.ListJobs(reqNum)
	if err != nil {
		return err
	}

	if jobs == nil {
		jobs = []hsmmodel.Job{}
	}

	return ctx.JSON(http.StatusOK, jobs)
}

func (c *RequestController) requestNum(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.numbers.Next()
}

// submit queues files and creates the request rows in the background; units that can
// start right away would otherwise hold the response until they are done.
func (c *RequestController) submit(ctx echo.Context, op fileop.FileOperation, files []string) error {
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files given")
	}

	if c.env.Scheduler.Stopped() {
		return toHTTPError(hsm.ErrSchedulerStopped)
	}

	result, err := op.AddJobs(ctx.Request().Context(), files)
	if err != nil {
		return err
	}

	go func() {
		if err := op.AddRequest(context.Background()); err != nil {
			clog.ForRequest(op.RequestNumber()).Errorf("unable to submit: %s", err)
		}
	}()

	return ctx.JSON(http.StatusAccepted, SubmitResponse{RequestNum: op.RequestNumber(), Result: result})
}

func recallTarget(s string) (hsm.FileState, error) {
	if s == "" {
		return hsm.Resident, nil
	}
	return hsm.ParseTargetState(s)
}

func requestNumParam(ctx echo.Context) (int, error) {
	num := ctx.QueryParam("num")
	if num == "" {
		return stor.AllRequests, nil
	}
	return strconv.Atoi(num)
}

func progressFromStore(stors *stor.Stors, reqNum int) (status.Progress, bool, error) {
	p := status.Progress{RequestNum: reqNum}

	rows, err := stors.RequestStor.ListRequests(reqNum)
	if err != nil || len(rows) == 0 {
		return p, false, err
	}

	counts, err := stors.JobStor.CountStates(reqNum)
	if err != nil {
		return p, false, err
	}

	p = status.ProgressFromCounts(reqNum, counts)

	unfinished, err := stors.RequestStor.CountUnfinished(reqNum)
	if err != nil {
		return p, false, err
	}
	p.Done = unfinished == 0

	return p, true, nil
}

// waitDone blocks until reqNum is done or ctx ends.
func waitDone(ctx context.Context, tracker *status.Tracker, reqNum int) (status.Progress, error) {
	updates, cancel, ok := tracker.Subscribe(reqNum)
	defer cancel()
	if !ok {
		return status.Progress{}, errors.Errorf("request %d is not tracked", reqNum)
	}

	for {
		select {
		case <-ctx.Done():
			return status.Progress{}, ctx.Err()
		case p := <-updates:
			if p.Done {
				return p, nil
			}
		}
	}
}
