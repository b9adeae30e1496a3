// Package client provides a typed API client and a state synchronizer that
// keeps category, transaction and chart slices fresh for a UI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"buget/internal/core"
)

// API is the surface the synchronizer talks to. It is implemented by Client
// and by test doubles.
type API interface {
	Categories(ctx context.Context) ([]core.Category, error)
	Transactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
	Chart(ctx context.Context) ([]core.ChartSlice, error)
	CreateTransaction(ctx context.Context, payload TransactionPayload) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, payload TransactionPayload) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
}

// TransactionPayload is the mutation body sent to the server.
type TransactionPayload struct {
	Title      string  `json:"title"`
	Amount     string  `json:"amount"`
	Type       string  `json:"type"`
	Date       string  `json:"date,omitempty"`
	CategoryID string  `json:"categoryId,omitempty"`
	Note       *string `json:"note,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ API = (*Client)(nil)

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Categories(ctx context.Context) ([]core.Category, error) {
	var out []core.Category
	err := c.do(ctx, http.MethodGet, "/categories", nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	q := url.Values{}
	if filter.Query != "" {
		q.Set("query", filter.Query)
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	path := "/transactions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []core.Transaction
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Chart(ctx context.Context) ([]core.ChartSlice, error) {
	var out []core.ChartSlice
	err := c.do(ctx, http.MethodGet, "/chart", nil, &out)
	return out, err
}

func (c *Client) CreateTransaction(ctx context.Context, payload TransactionPayload) (core.Transaction, error) {
	var out core.Transaction
	err := c.do(ctx, http.MethodPost, "/transactions", payload, &out)
	return out, err
}

func (c *Client) UpdateTransaction(ctx context.Context, id int64, payload TransactionPayload) (core.Transaction, error) {
	var out core.Transaction
	err := c.do(ctx, http.MethodPut, "/transactions/"+strconv.FormatInt(id, 10), payload, &out)
	return out, err
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/transactions/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError maps the server's status codes back onto the domain sentinels so
// callers can use errors.Is on both sides of the wire.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", core.ErrUnauthenticated, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrInvalidArgument, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrNotFound, msg)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)
	}
}
