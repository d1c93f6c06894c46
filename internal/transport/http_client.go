package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

// HTTPClient handles HTTP communication with the API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	apiKey    string
	logger    *events.Logger

	mu    sync.RWMutex
	token string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// statusError marks a transient HTTP status seen during a retried request.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.status, e.body)
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		apiKey:     cfg.AnonKey,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the API root without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Do sends a request and decodes the JSON response into out.
func (c *HTTPClient) Do(ctx context.Context, req *Request, out interface{}) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.TransportError{Op: req.Key(), Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	trimmed := bytes.TrimSpace(respBody)
	if out == nil || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return &models.TransportError{Op: req.Key(), Err: fmt.Errorf("parse response: %w", err)}
	}

	return nil
}

// Stream sends a request and hands the body to the caller, who must close it.
func (c *HTTPClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// send executes req, retrying idempotent requests, and turns non-2xx
// responses into *models.APIError.
func (c *HTTPClient) send(ctx context.Context, req *Request) (*http.Response, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"method":     req.Method,
		"url":        target,
		"idempotent": req.Idempotent,
	}).Debug("Sending request")

	var resp *http.Response
	attempt := func() error {
		var reader io.Reader
		switch {
		case body != nil:
			reader = bytes.NewReader(body)
		case req.Body != nil:
			reader = req.Body
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(ctx, httpReq, req, contentType)

		resp, err = c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}

		if req.Idempotent && c.isRetryable(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &statusError{status: resp.StatusCode, body: respBody}
		}

		return nil
	}

	if req.Idempotent {
		err = c.retry(ctx, attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, decodeAPIError(se.status, se.body)
		}
		return nil, &models.TransportError{Op: req.Key(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := decodeAPIError(resp.StatusCode, respBody)
		apiErr.RequestID = resp.Header.Get("X-Request-Id")

		c.logger.WithFields(map[string]interface{}{
			"status":  resp.StatusCode,
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}).Debug("Request failed")

		return nil, apiErr
	}

	return resp, nil
}

func (c *HTTPClient) setHeaders(ctx context.Context, httpReq *http.Request, req *Request, contentType string) {
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
	}

	if token := c.GetToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	} else if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if id := events.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}

	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
}

func encodeBody(req *Request) ([]byte, string, error) {
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}

	if req.Body != nil && req.Idempotent {
		// Retried requests need a replayable body.
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, "", err
		}
		return data, req.ContentType, nil
	}

	return nil, req.ContentType, nil
}

// decodeAPIError builds an APIError from an error body of the form
// {"statusCode": "404", "error": "not_found", "message": "..."}.
func decodeAPIError(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		// GoTrue uses error_description / msg instead.
		var alt struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
			Msg         string `json:"msg"`
		}
		if json.Unmarshal(body, &alt) == nil && (alt.Description != "" || alt.Msg != "") {
			apiErr.Code = alt.Error
			apiErr.Message = alt.Description + alt.Msg
		} else {
			if apiErr.Code == "" {
				apiErr.Code = http.StatusText(status)
			}
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	apiErr.StatusCode = status
	return apiErr
}

// EffectiveStatus returns the status code the backend meant. The storage API
// sometimes answers 400 with the real status in the body.
func EffectiveStatus(e *models.APIError) int {
	if n, err := strconv.Atoi(e.Status); err == nil && n > 0 {
		return n
	}
	return e.StatusCode
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Cancellation is final;
// network failures and transient statuses are not.
func (c *HTTPClient) isRetryableError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// SetRetryDelay changes the initial backoff delay.
func (c *HTTPClient) SetRetryDelay(d time.Duration) {
	c.retryDelay = d
}
