// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
)

// Client calls the external inference backend. A single Call runs a bounded
// retry-with-backoff loop; transport errors and schema-validation failures
// are treated identically, and one whole call sequence counts as exactly one
// breaker failure or success for the caller.
//
// Endpoint and retry settings can be swapped by config hot reload while a
// sequence is running; each Call snapshots them once at the start.
type Client struct {
	mu           sync.RWMutex
	endpoint     string
	httpClient   *http.Client
	attempts     int
	backoff      time.Duration
	requiredDims []string
}

// NewClient creates an inference client from config. requiredDims lists the
// state dimensions a valid response must carry.
func NewClient(cfg config.InferenceConfig, requiredDims []string) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout(),
		},
		attempts:     cfg.RetryAttempts,
		backoff:      cfg.RetryBackoff(),
		requiredDims: requiredDims,
	}
}

// SetConfig swaps the endpoint and retry settings. Used by config hot
// reload. In-flight sequences keep the settings they started with.
func (c *Client) SetConfig(cfg config.InferenceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = cfg.Endpoint
	c.httpClient = &http.Client{Timeout: cfg.AttemptTimeout()}
	c.attempts = cfg.RetryAttempts
	c.backoff = cfg.RetryBackoff()
}

// Call issues one inference call sequence: up to the configured number of
// HTTP attempts with doubling backoff between them. It returns a validated
// result or the last error after retries are exhausted.
func (c *Client) Call(ctx context.Context, audio sensors.AudioMetrics, video sensors.VideoMetrics, payload ContextPayload) (*Result, error) {
	body, err := c.buildRequestBody(audio, video, payload)
	if err != nil {
		return nil, fmt.Errorf("inference: failed to build request: %w", err)
	}

	c.mu.RLock()
	endpoint := c.endpoint
	httpClient := c.httpClient
	attempts := c.attempts
	backoff := c.backoff
	c.mu.RUnlock()

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := c.doAttempt(ctx, endpoint, httpClient, body)
		if err != nil {
			lastErr = err
			log.Debugf("Inference attempt %d/%d failed: %v", attempt, attempts, err)
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("inference: call failed after %d attempts: %w", attempts, lastErr)
}

// doAttempt performs one HTTP POST and validates the response.
func (c *Client) doAttempt(ctx context.Context, endpoint string, httpClient *http.Client, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return ValidateResult(raw, c.requiredDims)
}

// buildRequestBody assembles the request JSON. The active window title is
// scrubbed of obvious PII before it leaves the process; upstream redaction
// already handles the heavy cases.
func (c *Client) buildRequestBody(audio sensors.AudioMetrics, video sensors.VideoMetrics, payload ContextPayload) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	if body, err = sjson.SetBytes(body, "audio", audio); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "video", video); err != nil {
		return nil, err
	}

	payload.ActiveWindow = RedactWindowTitle(payload.ActiveWindow)
	if body, err = sjson.SetBytes(body, "context", payload); err != nil {
		return nil, err
	}
	// The title in the video block is scrubbed the same way.
	if video.ActiveWindow != "" {
		if body, err = sjson.SetBytes(body, "video.active_window", RedactWindowTitle(video.ActiveWindow)); err != nil {
			return nil, err
		}
	}
	return body, nil
}

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	digitsPattern = regexp.MustCompile(`\d{6,}`)
)

// RedactWindowTitle scrubs email addresses and long digit runs from a
// window title before it is sent to the inference backend.
func RedactWindowTitle(title string) string {
	if title == "" {
		return title
	}
	title = emailPattern.ReplaceAllString(title, "[email]")
	title = digitsPattern.ReplaceAllString(title, "[number]")
	return title
}
