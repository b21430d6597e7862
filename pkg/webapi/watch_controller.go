package webapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/status"
)

// WatchController streams request progress over a websocket until the request is done.
type WatchController struct {
	tracker  *status.Tracker
	upgrader websocket.Upgrader
}

func NewWatchController(tracker *status.Tracker) *WatchController {
	return &WatchController{
		tracker:  tracker,
		upgrader: websocket.Upgrader{},
	}
}

func (c *WatchController) WatchRequest(ctx echo.Context) error {
	reqNum, err := strconv.Atoi(ctx.Param("num"))
	if err != nil {
		return badRequest(err)
	}

	updates, cancel, ok := c.tracker.Subscribe(reqNum)
	defer cancel()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "request is not active")
	}

	ws, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// The client never sends anything, reading only notices that it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return nil
		case p := <-updates:
			if err := writeJSON(ws, p); err != nil {
				return nil
			}

			if p.Done {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return nil
			}
		}
	}
}

func writeJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return ws.WriteJSON(v)
}
