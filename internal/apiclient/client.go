// Package apiclient is a small HTTP client for the tracker API. It backs the
// local cache of cmd/statuswatch.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/realtime/cache"
)

const defaultTimeout = 15 * time.Second

// Client calls the /api/v1 endpoints with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. baseURL is the server root, e.g.
// "http://localhost:8080". A nil httpClient gets a default with a timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		token:   token,
		http:    httpClient,
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type statusRequest struct {
	Category domain.StatusCategory   `json:"category"`
	Value    string                  `json:"value"`
	Delivery *domain.DeliveryDetails `json:"delivery,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
}

type batchItem struct {
	EntityID string `json:"entityId"`
	statusRequest
}

func requestOf(m cache.Mutation) statusRequest {
	return statusRequest{Category: m.Category, Value: m.Value, Delivery: m.Delivery, Reason: m.Reason}
}

// ListSnapshots implements cache.Fetcher.
func (c *Client) ListSnapshots(ctx context.Context) ([]*domain.ProjectSnapshot, error) {
	var out listResponse[*domain.ProjectSnapshot]
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// UpdateStatus implements cache.Updater.
func (c *Client) UpdateStatus(ctx context.Context, m cache.Mutation) (*domain.StatusUpdatedData, error) {
	var out domain.StatusUpdatedData
	body := requestOf(m)
	if err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(m.EntityID)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatusBatch implements cache.Updater.
func (c *Client) UpdateStatusBatch(ctx context.Context, ms []cache.Mutation) ([]*domain.StatusUpdatedData, error) {
	items := make([]batchItem, 0, len(ms))
	for _, m := range ms {
		items = append(items, batchItem{EntityID: m.EntityID, statusRequest: requestOf(m)})
	}
	var out listResponse[*domain.StatusUpdatedData]
	if err := c.do(ctx, http.MethodPost, "/status/batch", listResponse[batchItem]{Items: items}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.ErrConnectFailedf(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

type errorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params"`
}

// decodeError turns an error body into an AppError whose sentinel follows
// the HTTP status, so callers can use errors.Is.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		body.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		body.Message = strings.TrimSpace(string(raw))
	}

	sentinel := sentinelFor(resp.StatusCode)
	appErr := apperrors.Wrap(fmt.Errorf("%w: %s", sentinel, body.Message), body.Code, body.Message, resp.StatusCode)
	if len(body.Params) > 0 {
		appErr = appErr.WithParams(body.Params)
	}
	return appErr
}

func sentinelFor(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusConflict:
		return apperrors.ErrConflict
	case status == http.StatusUnprocessableEntity:
		return apperrors.ErrValidation
	case status == http.StatusBadRequest:
		return apperrors.ErrBadRequest
	case status >= 500:
		return apperrors.ErrServiceUnavail
	default:
		return apperrors.ErrInternal
	}
}
