package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/decoder"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/pkg/errors"
)

// toHTTPError maps domain errors onto status codes. Unknown errors are left for echo's
// default handler, which turns them into a 500.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	switch errors.Cause(err) {
	case hsm.ErrUnknownPool, hsm.ErrUnknownTape:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case hsm.ErrTooManyPools, hsm.ErrNoPools, hsm.ErrInvalidPoolName:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case hsm.ErrPoolExists, hsm.ErrPoolNotEmpty, hsm.ErrPoolInUse, hsm.ErrTapeBusy, hsm.ErrTapeInPool,
		hsm.ErrTapeNotInPool, hsm.ErrDuplicateJob:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case hsm.ErrSchedulerStopped:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func badRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// bindStrict decodes the request body, rejecting fields the request type does not know.
func bindStrict[T any](ctx echo.Context) (T, error) {
	v, err := decoder.DecodeStrict[T](ctx.Request().Body)
	if err != nil {
		return v, badRequest(err)
	}
	return v, nil
}
