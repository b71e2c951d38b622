package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/runkv/internal/platform/requestid"
	"github.com/animus-labs/runkv/objectstore"
	"github.com/animus-labs/runkv/runstore"
)

const apiPrefix = "/api/2.0/mlflow"

// Client talks to a remote tracking server. One Client serves one
// server; it is not safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	artifacts objectstore.Store
	requestID string
	// expByRun caches run to experiment resolution for artifact key
	// prefixes.
	expByRun map[string]string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Auth.Enabled() {
		authed, err := newAuthClient(ctx, cfg.Auth)
		if err != nil {
			return nil, err
		}
		authed.Timeout = cfg.Timeout
		httpClient = authed
	}
	reqID := strings.TrimSpace(cfg.RequestID)
	if reqID == "" {
		reqID = requestid.New("runkv")
	}
	return &Client{
		baseURL:   strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		http:      httpClient,
		artifacts: cfg.Artifacts,
		requestID: reqID,
		expByRun:  map[string]string{},
	}, nil
}

type wireError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func serverError(op string, status int, e wireError) error {
	switch e.Code {
	case "RESOURCE_DOES_NOT_EXIST":
		return fmt.Errorf("%s: %s: %w", op, e.Message, runstore.ErrNotFound)
	}
	if e.Message != "" {
		return fmt.Errorf("%s: %s (%s)", op, e.Message, e.Code)
	}
	return fmt.Errorf("%s: unexpected status %d", op, status)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	op := method + " " + endpoint
	u := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		payload = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", c.requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	reader := io.LimitReader(resp.Body, 8<<20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e wireError
		_ = json.NewDecoder(reader).Decode(&e)
		return serverError(op, resp.StatusCode, e)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, reader)
		return nil
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("experiment name is required")
	}

	id, err := c.getExperimentByName(ctx, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, runstore.ErrNotFound) {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	err = c.do(ctx, http.MethodPost, "/experiments/create", nil, map[string]any{"name": name}, &created)
	if err == nil {
		return created.ExperimentID, nil
	}
	// Another writer may have created it between the two calls.
	if strings.Contains(err.Error(), "RESOURCE_ALREADY_EXISTS") {
		return c.getExperimentByName(ctx, name)
	}
	return "", err
}

func (c *Client) getExperimentByName(ctx context.Context, name string) (string, error) {
	var resp struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	query := url.Values{"experiment_name": {name}}
	if err := c.do(ctx, http.MethodGet, "/experiments/get-by-name", query, nil, &resp); err != nil {
		return "", err
	}
	return resp.Experiment.ExperimentID, nil
}

func (c *Client) CreateRun(ctx context.Context, experimentID string, tags map[string]string) (runstore.Run, error) {
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return runstore.Run{}, errors.New("experiment id is required")
	}
	body := map[string]any{
		"experiment_id": experimentID,
		"start_time":    toMillis(time.Now()),
	}
	if wireTags := tagsToWire(tags); wireTags != nil {
		body["tags"] = wireTags
	}
	var resp struct {
		Run wireRun `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, "/runs/create", nil, body, &resp); err != nil {
		return runstore.Run{}, err
	}
	run := resp.Run.toRun()
	c.expByRun[run.ID] = run.ExperimentID
	return run, nil
}

func (c *Client) getWireRun(ctx context.Context, runID string) (wireRun, error) {
	var resp struct {
		Run wireRun `json:"run"`
	}
	query := url.Values{"run_id": {runID}}
	if err := c.do(ctx, http.MethodGet, "/runs/get", query, nil, &resp); err != nil {
		return wireRun{}, err
	}
	c.expByRun[resp.Run.Info.RunID] = resp.Run.Info.ExperimentID
	return resp.Run, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (runstore.Run, error) {
	wire, err := c.getWireRun(ctx, runID)
	if err != nil {
		return runstore.Run{}, err
	}
	run := wire.toRun()
	if run.Lifecycle == runstore.LifecycleDeleted {
		return runstore.Run{}, fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	return run, nil
}

func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/runs/delete", nil, map[string]any{"run_id": runID}, nil)
}

func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	body := map[string]any{"run_id": runID, "key": toWireTagKey(key), "value": value}
	return c.do(ctx, http.MethodPost, "/runs/set-tag", nil, body, nil)
}

func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	body := map[string]any{"run_id": runID, "key": key, "value": value}
	return c.do(ctx, http.MethodPost, "/runs/log-parameter", nil, body, nil)
}

func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	body := map[string]any{
		"run_id":    runID,
		"key":       key,
		"value":     value,
		"timestamp": toMillis(time.Now()),
		"step":      step,
	}
	return c.do(ctx, http.MethodPost, "/runs/log-metric", nil, body, nil)
}

func (c *Client) SetTerminated(ctx context.Context, runID string, status runstore.RunStatus) error {
	if status == "" {
		status = runstore.StatusFinished
	}
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	body := map[string]any{
		"run_id":   runID,
		"status":   string(status),
		"end_time": toMillis(time.Now()),
	}
	return c.do(ctx, http.MethodPost, "/runs/update", nil, body, nil)
}

// searchPageSize is the server's per-page cap on search results.
const searchPageSize = 1000

func (c *Client) SearchRuns(ctx context.Context, experimentID string, filter runstore.Filter, maxResults int) ([]runstore.Run, error) {
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return nil, errors.New("experiment id is required")
	}
	if maxResults <= 0 || maxResults > runstore.MaxSearchResults {
		maxResults = runstore.MaxSearchResults
	}

	var runs []runstore.Run
	pageToken := ""
	for len(runs) < maxResults {
		pageSize := maxResults - len(runs)
		if pageSize > searchPageSize {
			pageSize = searchPageSize
		}
		body := map[string]any{
			"experiment_ids": []string{experimentID},
			"run_view_type":  "ACTIVE_ONLY",
			"max_results":    pageSize,
		}
		if expr := filter.Expr(); expr != "" {
			body["filter"] = expr
		}
		if pageToken != "" {
			body["page_token"] = pageToken
		}

		var resp struct {
			Runs          []wireRun `json:"runs"`
			NextPageToken string    `json:"next_page_token"`
		}
		if err := c.do(ctx, http.MethodPost, "/runs/search", nil, body, &resp); err != nil {
			return nil, err
		}
		for _, wire := range resp.Runs {
			run := wire.toRun()
			c.expByRun[run.ID] = run.ExperimentID
			runs = append(runs, run)
		}
		if resp.NextPageToken == "" || len(resp.Runs) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(runs) > maxResults {
		runs = runs[:maxResults]
	}
	return runs, nil
}
