// Package proxy forwards gateway requests to the upstream model-serving
// backend, buffered for regular calls and chunk-by-chunk for streaming ones.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openrouter-alt/gateway/internal/config"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Backend-facing credential header names.
const (
	headerLaCookie    = "X-LA-Cookie"
	headerCfClearance = "X-CF-Clearance"
)

// forwardedHeaders is the allow-list copied from the inbound request.
var forwardedHeaders = []string{"Content-Type", "Authorization", "User-Agent"}

// ErrUpstreamUnavailable indicates every transport attempt failed.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Request describes one call to forward upstream.
type Request struct {
	Method string      // HTTP method.
	Path   string      // Upstream path, e.g. /v1/chat/completions.
	Body   []byte      // Request body, nil for GET.
	Header http.Header // Inbound headers, filtered through the allow-list.

	LaCookie    string // First credential token, forwarded as a header.
	CfClearance string // Second credential token, forwarded as a header.

	InjectUsage bool // Guarantee a usage object on 2xx JSON bodies.
}

// Result is a fully buffered upstream response.
type Result struct {
	Status      int    // Upstream status code.
	Body        []byte // Response body; carries a usage object when requested.
	ContentType string // Upstream content type.
}

// Client forwards requests to a single configured backend.
type Client struct {
	baseURL    string
	userAgent  string
	maxRetries uint64
	retryDelay time.Duration

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient builds a forwarder from backend settings. The buffered client
// enforces the overall timeout; the streaming client only bounds the dial and
// response-header wait so long streams are not cut off mid-flight.
func NewClient(cfg config.BackendConfig) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout.Std()}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.RequestTimeout.Std(),
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: uint64(cfg.MaxRetries),
		retryDelay: cfg.RetryDelay.Std(),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout.Std(),
		},
		streamClient: &http.Client{
			Transport: transport,
		},
	}
}

// Forward issues a buffered call upstream. Transport failures are retried
// with a constant delay; exhaustion returns ErrUpstreamUnavailable. Any HTTP
// response, success or failure, is returned to the caller untouched except
// for usage injection on 2xx JSON bodies.
func (c *Client) Forward(ctx context.Context, req Request) (*Result, error) {
	if c == nil {
		return nil, errors.New("proxy: nil client")
	}

	response, errDo := c.doWithRetry(ctx, req, c.httpClient)
	if errDo != nil {
		return nil, errDo
	}
	defer func() { _ = response.Body.Close() }()

	body, errRead := io.ReadAll(response.Body)
	if errRead != nil {
		return nil, fmt.Errorf("proxy: read upstream body: %w", errRead)
	}

	if req.InjectUsage && response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		body = ensureUsage(body)
	}

	return &Result{
		Status:      response.StatusCode,
		Body:        body,
		ContentType: response.Header.Get("Content-Type"),
	}, nil
}

// StreamWriter receives the upstream stream chunk by chunk.
type StreamWriter interface {
	io.Writer
	http.Flusher
}

// ForwardStreaming relays the upstream response as Server-Sent Events,
// flushing after every chunk. The error return is non-nil only while nothing
// has been written yet; once streaming starts, upstream failures terminate
// the stream cleanly.
func (c *Client) ForwardStreaming(ctx context.Context, req Request, header http.Header, w StreamWriter) (*Result, error) {
	if c == nil {
		return nil, errors.New("proxy: nil client")
	}

	response, errDo := c.doWithRetry(ctx, req, c.streamClient)
	if errDo != nil {
		return nil, errDo
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
		return &Result{
			Status:      response.StatusCode,
			Body:        body,
			ContentType: response.Header.Get("Content-Type"),
		}, nil
	}

	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			log.WithError(ctx.Err()).Debug("proxy: caller gone, stopping stream relay")
			return &Result{Status: response.StatusCode}, nil
		default:
		}

		n, errRead := response.Body.Read(buf)
		if n > 0 {
			if _, errWrite := w.Write(buf[:n]); errWrite != nil {
				log.WithError(errWrite).Debug("proxy: stream write failed, stopping relay")
				return &Result{Status: response.StatusCode}, nil
			}
			w.Flush()
		}
		if errRead != nil {
			if !errors.Is(errRead, io.EOF) {
				log.WithError(errRead).Warn("proxy: upstream stream ended abnormally")
			}
			return &Result{Status: response.StatusCode}, nil
		}
	}
}

// doWithRetry executes the upstream call, retrying transport failures with a
// constant delay. HTTP responses of any status are never retried.
func (c *Client) doWithRetry(ctx context.Context, req Request, client *http.Client) (*http.Response, error) {
	var response *http.Response
	operation := func() error {
		httpRequest, errBuild := c.buildRequest(ctx, req)
		if errBuild != nil {
			return backoff.Permanent(errBuild)
		}
		var errDo error
		response, errDo = client.Do(httpRequest)
		if errDo != nil {
			log.WithError(errDo).WithFields(log.Fields{
				"method": req.Method,
				"path":   req.Path,
			}).Warn("proxy: upstream transport failure")
			return errDo
		}
		return nil
	}

	strategy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.maxRetries)
	if errRetry := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); errRetry != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, errRetry)
	}
	return response, nil
}

// buildRequest constructs the outbound request with the allow-listed header
// subset and the credential pair under their backend-facing names.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpRequest, errNew := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if errNew != nil {
		return nil, fmt.Errorf("proxy: build request: %w", errNew)
	}

	for _, name := range forwardedHeaders {
		if v := req.Header.Get(name); v != "" {
			httpRequest.Header.Set(name, v)
		}
	}
	if httpRequest.Header.Get("User-Agent") == "" && c.userAgent != "" {
		httpRequest.Header.Set("User-Agent", c.userAgent)
	}
	if req.LaCookie != "" {
		httpRequest.Header.Set(headerLaCookie, req.LaCookie)
	}
	if req.CfClearance != "" {
		httpRequest.Header.Set(headerCfClearance, req.CfClearance)
	}
	return httpRequest, nil
}

// zeroUsage is injected into 2xx bodies that lack a usage object.
var zeroUsage = json.RawMessage(`{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}`)

// ensureUsage guarantees a decoded 2xx JSON body carries a usage object.
// Non-JSON bodies pass through untouched.
func ensureUsage(body []byte) []byte {
	var envelope map[string]json.RawMessage
	if errUnmarshal := json.Unmarshal(body, &envelope); errUnmarshal != nil || envelope == nil {
		return body
	}
	if raw, ok := envelope["usage"]; ok && len(raw) > 0 && string(raw) != "null" {
		return body
	}
	envelope["usage"] = zeroUsage
	patched, errMarshal := json.Marshal(envelope)
	if errMarshal != nil {
		return body
	}
	return patched
}
