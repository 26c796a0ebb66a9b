package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	transport "github.com/fluxcd/ecs-bluegreen/pkg/http"
	"github.com/fluxcd/ecs-bluegreen/pkg/http/httperror"
)

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) StartRun(ctx context.Context, topo deploy.Topology) (deploy.RunID, error) {
	var id deploy.RunID
	err := c.methodWithResp(ctx, "POST", &id, transport.StartRun, topo)
	return id, err
}

func (c *Client) ListRuns(ctx context.Context, opts api.ListRunsOptions) ([]deploy.RunStatus, error) {
	var res []deploy.RunStatus
	params := []string{"cluster", opts.Cluster, "service", opts.Service}
	if opts.Active {
		params = append(params, "active", "true")
	}
	if opts.Limit > 0 {
		params = append(params, "limit", strconv.Itoa(opts.Limit))
	}
	err := c.Get(ctx, &res, transport.ListRuns, params...)
	return res, err
}

func (c *Client) GetRun(ctx context.Context, id deploy.RunID) (deploy.Run, error) {
	var res deploy.Run
	err := c.Get(ctx, &res, transport.GetRun, "id", string(id))
	return res, err
}

func (c *Client) RunStatus(ctx context.Context, id deploy.RunID) (deploy.RunStatus, error) {
	var res deploy.RunStatus
	err := c.Get(ctx, &res, transport.RunStatus, "id", string(id))
	return res, err
}

func (c *Client) RunEvents(ctx context.Context, id deploy.RunID) ([]event.Event, error) {
	var res []event.Event
	err := c.Get(ctx, &res, transport.RunEvents, "id", string(id))
	return res, err
}

func (c *Client) Decide(ctx context.Context, id deploy.RunID, approval deploy.Approval) error {
	return c.PostWithBody(ctx, transport.Decide, approval, "id", string(id))
}

func (c *Client) Retry(ctx context.Context, id deploy.RunID) error {
	return c.Post(ctx, transport.Retry, "id", string(id))
}

func (c *Client) Discard(ctx context.Context, id deploy.RunID) error {
	return c.Post(ctx, transport.Discard, "id", string(id))
}

// --- Request helpers

// Post sends a request with no body; params fill in the route's path
// variables and the query.
func (c *Client) Post(ctx context.Context, route string, params ...string) error {
	return c.PostWithBody(ctx, route, nil, params...)
}

// PostWithBody sends body, if not nil, encoded as JSON.
func (c *Client) PostWithBody(ctx context.Context, route string, body interface{}, params ...string) error {
	return c.methodWithResp(ctx, "POST", nil, route, body, params...)
}

// methodWithResp encodes body, sends the request, and decodes any
// response into dest. An empty response leaves dest alone.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, params ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, params...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		if bodyBytes, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response from server")
	}
	if len(respBytes) == 0 || dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// Get executes a GET against the daemon, decoding the response into
// dest if it's not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, params ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, params...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

// executeRequest returns the response only for a 2xx status; for
// anything else the body is consumed into the returned error.
func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	}

	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, transport.ErrorUnauthorized
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body of error")
	}
	// Our own errors come back as JSON; anything else (a proxy, say)
	// is reported by status.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var niceError bgerr.Error
		if err := json.Unmarshal(body, &niceError); err == nil && niceError.Err != nil {
			return nil, &niceError
		}
	}
	return nil, &httperror.APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
