// Package judge0 是远程代码执行后端的客户端：提交源码，按 token 轮询结果。
package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// StatusInProgress 是"未完成"哨兵：status.id 小于等于它表示仍在排队或运行。
const StatusInProgress = 2

// 默认轮询策略：每秒一次，最多 10 次。
const (
	DefaultPollInterval = 1 * time.Second
	DefaultMaxAttempts  = 10
)

var (
	ErrBackendStatus = errors.New("judge0: unexpected response status")
	ErrMissingToken  = errors.New("judge0: submission response has no token")
)

// Submission 是提交给执行后端的请求体。
type Submission struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

// Status 是执行状态。
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result 是轮询返回的执行结果。
type Result struct {
	Token         string  `json:"token,omitempty"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Status        *Status `json:"status"`
}

// Terminal 判断结果是否已到终态。
func (r *Result) Terminal() bool {
	return r != nil && r.Status != nil && r.Status.ID > StatusInProgress
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *Result) StdoutText() string        { return deref(r.Stdout) }
func (r *Result) StderrText() string        { return deref(r.Stderr) }
func (r *Result) CompileOutputText() string { return deref(r.CompileOutput) }
func (r *Result) MessageText() string       { return deref(r.Message) }

// StatusDescription 返回状态描述，缺失时为 "Unknown"。
func (r *Result) StatusDescription() string {
	if r == nil || r.Status == nil || r.Status.Description == "" {
		return "Unknown"
	}
	return r.Status.Description
}

// Config 配置执行后端的地址、凭证与轮询策略。
type Config struct {
	BaseURL      string
	APIKey       string
	APIHost      string
	PollInterval time.Duration
	MaxAttempts  int
	HTTPClient   *http.Client
}

// Client 调用执行后端 HTTP API。
type Client struct {
	baseURL      string
	apiKey       string
	apiHost      string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	log          *logrus.Entry
}

// NewClient 创建 Client 实例。
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		panic("judge0 base URL cannot be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiHost:      cfg.APIHost,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		httpClient:   cfg.HTTPClient,
		log:          logrus.WithField("component", "judge0"),
	}
}

// Submit 提交源码并返回 submission token。
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("judge0: marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submissions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("judge0: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", ErrMissingToken
	}
	return out.Token, nil
}

// Poll 按 token 获取一次执行结果。
func (c *Client) Poll(ctx context.Context, token string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/submissions/"+token, nil)
	if err != nil {
		return nil, fmt.Errorf("judge0: build poll request: %w", err)
	}
	var out Result
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute 提交后按固定间隔轮询，直到终态或次数用尽。
// 次数用尽时返回最后一次轮询结果 (可能仍未完成)，不视为错误。
func (c *Client) Execute(ctx context.Context, sub Submission) (*Result, error) {
	logCtx := c.log.WithField("language_id", sub.LanguageID)
	token, err := c.Submit(ctx, sub)
	if err != nil {
		logCtx.WithError(err).Warn("Submission failed")
		return nil, err
	}
	logCtx = logCtx.WithField("token", token)

	var result *Result
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		result, err = c.Poll(ctx, token)
		if err != nil {
			logCtx.WithError(err).Warnf("Poll attempt %d failed", attempt)
			return nil, err
		}
		if result.Terminal() {
			logCtx.Debugf("Submission finished after %d poll(s): %s", attempt, result.StatusDescription())
			return result, nil
		}
		timer.Reset(c.pollInterval)
	}
	logCtx.Warnf("Submission still not terminal after %d polls, returning last result", c.maxAttempts)
	return result, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("judge0: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrBackendStatus, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("judge0: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
