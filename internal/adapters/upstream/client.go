// Package upstream provides the HTTP adapter for the generation service.
// Clean Architecture: Adapter implementing ports.Generator and ports.TitleGenerator.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

const maxErrorBody = 4 << 10

// Client implements ports.Generator and ports.TitleGenerator over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new upstream client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5001"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second // Longer timeout for streaming
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest is the body of /chat and /chat_stream.
type chatRequest struct {
	Prompt   string                  `json:"prompt"`
	History  []entities.HistoryEntry `json:"history"`
	Docs     []json.RawMessage       `json:"docs"`
	Datasets []string                `json:"datasets"`
}

type titleRequest struct {
	Question string `json:"question"`
}

type titleResponse struct {
	Title string `json:"title"`
}

// Generate performs a buffered generation call.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (*entities.TerminalResult, error) {
	resp, err := c.post(ctx, "/chat", newChatRequest(req), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res entities.TerminalResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", entities.ErrUpstreamUnavailable, err)
	}
	for i, h := range res.History {
		if !h.Role.Valid() {
			return nil, fmt.Errorf("%w: history[%d] has role %q", entities.ErrMalformedFrame, i, h.Role)
		}
	}
	return &res, nil
}

// GenerateStream opens a streamed generation call and returns its event-stream body.
func (c *Client) GenerateStream(ctx context.Context, req ports.GenerateRequest) (io.ReadCloser, error) {
	resp, err := c.post(ctx, "/chat_stream", newChatRequest(req), "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Title asks the upstream for a conversation title.
func (c *Client) Title(ctx context.Context, question string) (string, error) {
	resp, err := c.post(ctx, "/create_title", titleRequest{Question: question}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tr titleResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding title: %w", err)
	}
	return strings.TrimSpace(tr.Title), nil
}

// post sends body as JSON. Any non-2xx status is returned as
// ErrUpstreamUnavailable with the body closed.
func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s: %v", entities.ErrUpstreamUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d: %s",
			entities.ErrUpstreamUnavailable, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func newChatRequest(req ports.GenerateRequest) chatRequest {
	cr := chatRequest{
		Prompt:   req.Query,
		History:  req.History,
		Docs:     req.Documents,
		Datasets: req.Datasets,
	}
	if cr.History == nil {
		cr.History = []entities.HistoryEntry{}
	}
	if cr.Docs == nil {
		cr.Docs = []json.RawMessage{}
	}
	if cr.Datasets == nil {
		cr.Datasets = []string{}
	}
	return cr
}
