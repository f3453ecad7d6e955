package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/domain"
)

// APIError is a non-2xx response from the battle API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("battle api: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client. Its Jar must be set for sessions to stick.
	HTTPClient *http.Client
}

// Client calls the battle HTTP API and keeps the session cookie between calls.
type Client struct {
	base *url.URL
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Jar: jar, Timeout: timeout}
	}
	return &Client{base: base, http: hc}, nil
}

// Login calls the dev login endpoint and stores the session cookie.
func (c *Client) Login(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/session", map[string]string{"username": username}, nil)
}

func (c *Client) Create(ctx context.Context, name string, tags []string) (domain.PublicBattle, error) {
	var out domain.PublicBattle
	err := c.do(ctx, http.MethodPost, "/api/battle/create", map[string]interface{}{
		"battleName": name,
		"tags":       tags,
	}, &out)
	return out, err
}

func (c *Client) Join(ctx context.Context, code string) (domain.PublicBattle, error) {
	var out domain.PublicBattle
	err := c.do(ctx, http.MethodPost, "/api/battle/join", map[string]string{"battleCode": code}, &out)
	return out, err
}

func (c *Client) ListRecent(ctx context.Context) ([]domain.PublicBattle, error) {
	var out struct {
		Battles []domain.PublicBattle `json:"battles"`
	}
	err := c.do(ctx, http.MethodGet, "/api/battle/all", nil, &out)
	return out.Battles, err
}

// Submission is the evaluate request body.
type Submission struct {
	BattleID       string          `json:"battleId"`
	Username       string          `json:"username,omitempty"`
	Answers        []domain.Answer `json:"answers"`
	CompletionTime float64         `json:"completionTime"`
	Finish         bool            `json:"finish,omitempty"`
}

func (c *Client) Evaluate(ctx context.Context, sub Submission) (app.EvaluationResult, error) {
	var out app.EvaluationResult
	err := c.do(ctx, http.MethodPost, "/api/battle/evaluate", sub, &out)
	return out, err
}

func (c *Client) Analysis(ctx context.Context, battleID string) (app.Analysis, error) {
	var out app.Analysis
	err := c.do(ctx, http.MethodPost, "/api/battle/analysis", map[string]string{"battleId": battleID}, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit, offset int) (app.Profile, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/battle/battlehist"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out app.Profile
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			apiErr.Message = eb.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
