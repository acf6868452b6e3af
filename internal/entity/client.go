// README: HTTP client for the entity/property store holding tasks, locations and responses.
package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trail/internal/apperr"
)

type tokenKey struct{}

// WithToken attaches the caller's store token to ctx. Every request made
// with that context is authorised as the caller.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the token attached by WithToken, or "".
func TokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey{}).(string)
	return v
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a client for the store at baseURL. A nil httpClient
// uses a client with a 15s timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, logger: logger}
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, op, http.MethodGet, u, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperr.E(apperr.KindValidation, op, "encoding request", err)
	}
	return c.do(ctx, op, http.MethodPost, c.baseURL+path, data, out)
}

func (c *Client) do(ctx context.Context, op, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return apperr.E(apperr.KindValidation, op, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := TokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.E(apperr.KindTransient, op, "store unreachable", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("entity store request",
		slog.String("op", op),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.E(apperr.KindTransient, op, "decoding store response", err)
	}
	return nil
}

// statusError maps a store status code onto the error taxonomy.
func statusError(op string, resp *http.Response) error {
	msg := readMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("store returned %d", resp.StatusCode)

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.E(apperr.KindPermission, op, msg, cause)
	case code == http.StatusNotFound:
		return apperr.E(apperr.KindNotFound, op, msg, cause)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: msg, Fields: map[string]string{"response": msg}, Err: cause}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return apperr.E(apperr.KindTransient, op, msg, cause)
	}
	return apperr.E(apperr.KindUnknown, op, msg, cause)
}

func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
