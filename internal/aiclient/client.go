package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrBadStatus   = errors.New("model service returned non-2xx status")
	ErrBadResponse = errors.New("model service returned malformed response")
)

// Client talks to the zero-shot model service.
type Client struct {
	baseURL string
	httpCli *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpCli: &http.Client{
			Timeout: timeout,
		},
	}
}

type Hypothesis struct {
	Label      string   `json:"label"`
	Hypotheses []string `json:"hypotheses"`
}

type ZeroShotRequest struct {
	Task       string       `json:"task"`
	Text       string       `json:"text"`
	Candidates []Hypothesis `json:"candidates"`
	MultiLabel bool         `json:"multi_label"`
}

// ZeroShotResponse lists labels ordered by descending score.
type ZeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	Model  string    `json:"model,omitempty"`
}

// ZeroShot posts one text and its candidate hypotheses to /zero-shot.
func (c *Client) ZeroShot(ctx context.Context, req ZeroShotRequest) (*ZeroShotResponse, error) {
	bs, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/zero-shot", bytes.NewReader(bs))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, bytes.TrimSpace(body))
	}

	var zr ZeroShotResponse
	if err := json.NewDecoder(resp.Body).Decode(&zr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(zr.Labels) == 0 || len(zr.Labels) != len(zr.Scores) {
		return nil, fmt.Errorf("%w: %d labels, %d scores", ErrBadResponse, len(zr.Labels), len(zr.Scores))
	}
	return &zr, nil
}

// Ping checks the model service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return nil
}
