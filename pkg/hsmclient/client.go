package hsmclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/materials-commons/tapehsm/pkg/status"
	"github.com/materials-commons/tapehsm/pkg/webapi"
	"github.com/materials-commons/tapehsm/pkg/webapi/apimiddleware"
	"github.com/pkg/errors"
)

// Client talks to a running tapehsmd.
type Client struct {
	BaseURL string
	Key     string
	r       *resty.Client
}

// APIError is the body echo sends back with an HTTP error.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (http status %d)", e.Message, e.StatusCode)
}

func New(baseURL, key string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	r := resty.New().
		SetBaseURL(baseURL+"/api").
		SetHeader("Content-Type", "application/json")
	if key != "" {
		r.SetHeader(apimiddleware.KeyHeader, key)
	}

	return &Client{BaseURL: baseURL, Key: key, r: r}
}

func (c *Client) NextRequestNumber() (int, error) {
	var resp webapi.RequestNumberResponse
	err := c.do(http.MethodPost, "/reqnum", nil, &resp)
	return resp.RequestNum, err
}

func (c *Client) Migrate(req webapi.MigrateRequest) (*webapi.SubmitResponse, error) {
	var resp webapi.SubmitResponse
	if err := c.do(http.MethodPost, "/migrations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Recall(req webapi.RecallRequest) (*webapi.SubmitResponse, error) {
	var resp webapi.SubmitResponse
	if err := c.do(http.MethodPost, "/recalls", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransparentRecall returns once the daemon has finished with the file.
func (c *Client) TransparentRecall(file, target string) (status.Progress, error) {
	var p status.Progress
	err := c.do(http.MethodPost, "/trecall", webapi.TransparentRecallRequest{File: file, Target: target}, &p)
	return p, err
}

func (c *Client) RequestStatus(reqNum int) (status.Progress, error) {
	var p status.Progress
	err := c.do(http.MethodGet, "/requests/"+strconv.Itoa(reqNum)+"/status", nil, &p)
	return p, err
}

// ListRequests lists request rows, all of them when reqNum is 0.
func (c *Client) ListRequests(reqNum int) ([]hsmmodel.Request, error) {
	var requests []hsmmodel.Request
	err := c.do(http.MethodGet, "/requests"+numQuery(reqNum), nil, &requests)
	return requests, err
}

func (c *Client) ListJobs(reqNum int) ([]hsmmodel.Job, error) {
	var jobs []hsmmodel.Job
	err := c.do(http.MethodGet, "/jobs"+numQuery(reqNum), nil, &jobs)
	return jobs, err
}

func (c *Client) ListDrives() ([]inventory.Drive, error) {
	var drives []inventory.Drive
	err := c.do(http.MethodGet, "/drives", nil, &drives)
	return drives, err
}

func (c *Client) ListCartridges() ([]inventory.Cartridge, error) {
	var cartridges []inventory.Cartridge
	err := c.do(http.MethodGet, "/cartridges", nil, &cartridges)
	return cartridges, err
}

func (c *Client) ListPools() ([]inventory.PoolSummary, error) {
	var pools []inventory.PoolSummary
	err := c.do(http.MethodGet, "/pools", nil, &pools)
	return pools, err
}

func (c *Client) CreatePool(name string) (*inventory.Pool, error) {
	var pool inventory.Pool
	if err := c.do(http.MethodPost, "/pools", webapi.PoolRequest{Name: name}, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Client) DeletePool(name string) error {
	return c.do(http.MethodDelete, "/pools/"+url.PathEscape(name), nil, nil)
}

func (c *Client) AddCartridge(pool, tapeID string) (*inventory.Pool, error) {
	var p inventory.Pool
	path := "/pools/" + url.PathEscape(pool) + "/cartridges"
	if err := c.do(http.MethodPost, path, webapi.PoolCartridgeRequest{TapeID: tapeID}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) RemoveCartridge(pool, tapeID string) (*inventory.Pool, error) {
	var p inventory.Pool
	path := "/pools/" + url.PathEscape(pool) + "/cartridges/" + url.PathEscape(tapeID)
	if err := c.do(http.MethodDelete, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DaemonStatus() (*webapi.DaemonStatus, error) {
	var s webapi.DaemonStatus
	if err := c.do(http.MethodGet, "/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Metrics returns the scheduler registry, one map of values per metric.
func (c *Client) Metrics() (map[string]map[string]interface{}, error) {
	var m map[string]map[string]interface{}
	err := c.do(http.MethodGet, "/metrics", nil, &m)
	return m, err
}

func (c *Client) Stop(mode string) error {
	path := "/stop"
	if mode != "" {
		path += "?mode=" + url.QueryEscape(mode)
	}
	return c.do(http.MethodPost, path, nil, nil)
}

// Watch calls fn with every progress update of a running request. It returns after the
// update that has Done set, or when ctx is cancelled.
func (c *Client) Watch(ctx context.Context, reqNum int, fn func(p status.Progress)) error {
	wsURL, err := c.watchURL(reqNum)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.Key != "" {
		header.Set(apimiddleware.KeyHeader, c.Key)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "request is not active"}
		}
		return errors.Wrapf(err, "unable to watch request %d", reqNum)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	for {
		var p status.Progress
		if err := ws.ReadJSON(&p); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		fn(p)
		if p.Done {
			return nil
		}
	}
}

func (c *Client) watchURL(reqNum int) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/requests/" + strconv.Itoa(reqNum) + "/watch"
	return u.String(), nil
}

func (c *Client) do(method, path string, body, result interface{}) error {
	req := c.r.R().SetError(&APIError{})
	if body != nil {
		req.SetBody(body)
	}

	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	if resp.IsError() {
		apiErr, ok := resp.Error().(*APIError)
		if !ok || apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.StatusCode = resp.StatusCode()
		return apiErr
	}

	return nil
}

func numQuery(reqNum int) string {
	if reqNum <= 0 {
		return ""
	}
	return "?num=" + strconv.Itoa(reqNum)
}

// IsNotFound is true for a 404 answer.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
