// Package generation talks to the kie.ai jobs API: create a task, poll it until it
// settles, download the result.
package generation

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

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"image-stand/internal/logging"
)

const (
	DefaultBaseURL = "https://api.kie.ai"
	ModelGenerate  = "nano-banana-pro"
	ModelEdit      = "google/nano-banana-edit"

	StateSuccess = "success"
	StateFail    = "fail"

	maxDownloadBytes = 64 << 20
)

var (
	ErrNoAPIKey   = errors.New("API key not configured. Use /api/key endpoint to set it")
	ErrAPI        = errors.New("kie.ai API error")
	ErrTaskFailed = errors.New("generation task failed")
	ErrTimeout    = errors.New("generation timed out")
)

type Config struct {
	BaseURL      string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTPClient   *http.Client
}

// Result mirrors the JSON returned by the generate endpoint.
type Result struct {
	Success   bool     `json:"success"`
	ImageURL  string   `json:"image_url,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
	TaskID    string   `json:"task_id,omitempty"`
	State     string   `json:"state,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Task is one recordInfo snapshot.
type Task struct {
	ID      string
	State   string
	URLs    []string
	FailMsg string
}

type Client struct {
	baseURL      string
	apiKey       func() string
	http         *http.Client
	log          *logging.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewClient reads the API key through apiKey on every call, so a key changed at
// runtime takes effect immediately.
func NewClient(cfg Config, apiKey func() string, log *logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		http:         cfg.HTTPClient,
		log:          log,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
	}
}

// Generate validates req, creates a task and polls it until it succeeds, fails or
// MaxWait elapses. The Result is always filled in; err is non-nil whenever
// Result.Success is false.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{Error: err.Error()}, err
	}
	if c.key() == "" {
		return Result{Error: ErrNoAPIKey.Error()}, ErrNoAPIKey
	}
	req = req.withDefaults()

	taskID, err := c.CreateTask(ctx, req)
	if err != nil {
		return Result{Error: err.Error()}, err
	}
	c.log.Infof("generation: created task %s (%s)", taskID, req.payload()["model"])

	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{TaskID: taskID, Error: ctx.Err().Error()}, ctx.Err()
		case <-ticker.C:
		}

		task, err := c.QueryTask(ctx, taskID)
		if err != nil {
			return Result{TaskID: taskID, Error: err.Error()}, err
		}

		switch task.State {
		case StateSuccess:
			res := Result{Success: true, ImageURLs: task.URLs, TaskID: taskID, State: task.State}
			if len(task.URLs) > 0 {
				res.ImageURL = task.URLs[0]
			}
			c.log.Infof("generation: task %s done, %d image(s)", taskID, len(task.URLs))
			return res, nil
		case StateFail:
			msg := lo.Ternary(task.FailMsg != "", task.FailMsg, "Task failed")
			err := fmt.Errorf("%w: %s", ErrTaskFailed, msg)
			return Result{TaskID: taskID, State: task.State, Error: msg}, err
		}

		if time.Now().After(deadline) {
			err := fmt.Errorf("%w after %s - task may still be processing. Task ID: %s", ErrTimeout, c.maxWait, taskID)
			return Result{TaskID: taskID, State: task.State, Error: err.Error()}, err
		}
	}
}

// CreateTask submits req and returns the task id.
func (c *Client) CreateTask(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req.payload())
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/createTask", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	taskID := gjson.GetBytes(data, "data.taskId").String()
	if taskID == "" {
		return "", fmt.Errorf("%w: createTask returned no task id", ErrAPI)
	}
	return taskID, nil
}

// QueryTask fetches the current state of a task. Any state other than success and
// fail means it is still running.
func (c *Client) QueryTask(ctx context.Context, taskID string) (Task, error) {
	path := "/api/v1/jobs/recordInfo?" + url.Values{"taskId": {taskID}}.Encode()
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Task{}, err
	}

	task := Task{
		ID:      taskID,
		State:   gjson.GetBytes(data, "data.state").String(),
		FailMsg: gjson.GetBytes(data, "data.failMsg").String(),
	}
	if task.State == StateSuccess {
		task.URLs = resultURLs(gjson.GetBytes(data, "data.resultJson"))
	}
	return task, nil
}

// resultURLs reads resultUrls from resultJson, which the API sends either as an
// embedded JSON string or as an object.
func resultURLs(resultJSON gjson.Result) []string {
	urls := resultJSON.Get("resultUrls")
	if resultJSON.Type == gjson.String {
		urls = gjson.Get(resultJSON.String(), "resultUrls")
	}
	all := lo.Map(urls.Array(), func(v gjson.Result, _ int) string { return v.String() })
	return lo.Filter(all, func(u string, _ int) bool { return u != "" })
}

// Download fetches a generated image and returns its bytes and content type.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) key() string {
	if c.apiKey == nil {
		return ""
	}
	return c.apiKey()
}

// do sends an authenticated request and unwraps the {code, msg, data} envelope.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: HTTP %d: non-JSON response", ErrAPI, resp.StatusCode)
	}

	code := gjson.GetBytes(data, "code").Int()
	if resp.StatusCode != http.StatusOK || code != http.StatusOK {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = gjson.GetBytes(data, "msg").String()
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: %s (HTTP %d, code %d)", ErrAPI, msg, resp.StatusCode, code)
	}
	return data, nil
}
