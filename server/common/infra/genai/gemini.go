package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultModel    = "gemini-2.5-flash-preview-04-17"
	DefaultEndpoint = "https://generativelanguage.googleapis.com"

	defaultHTTPTimeout      = 30 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second

	describePrompt = "Describe this image concisely in one engaging sentence, suitable for a file preview. " +
		"Focus on the main subject, style, and key visual elements. If it's abstract, describe its general feel."
)

// Typed failure classes. Callers downgrade these into descriptive strings
// instead of failing the surrounding operation.
var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrRateLimited   = errors.New("rate limit or quota exceeded")
	ErrBlocked       = errors.New("content blocked by safety settings")
	ErrEmptyResponse = errors.New("empty response from model")
)

// Client calls the Gemini generateContent REST API. Endpoints are tried in
// round-robin order; an endpoint that fails repeatedly is put on cooldown
// so a regional outage does not stall every request.
type Client struct {
	apiKey    string
	model     string
	endpoints []string
	http      *http.Client
	next      uint32

	failThreshold    int
	endpointCooldown time.Duration

	mu         sync.Mutex
	failureCnt map[string]int
	cooldownTo map[string]time.Time
}

func NewClient(apiKey, model string, endpoints ...string) *Client {
	if model == "" {
		model = DefaultModel
	}
	normalized := normalizeEndpoints(endpoints)
	if len(normalized) == 0 {
		normalized = []string{DefaultEndpoint}
	}
	return &Client{
		apiKey:           apiKey,
		model:            model,
		endpoints:        normalized,
		http:             &http.Client{Timeout: durationFromEnvMillis("GEMINI_HTTP_TIMEOUT_MS", defaultHTTPTimeout)},
		failThreshold:    intFromEnv("GEMINI_FAIL_THRESHOLD", defaultFailThreshold),
		endpointCooldown: durationFromEnvMillis("GEMINI_COOLDOWN_MS", defaultEndpointCooldown),
		failureCnt:       map[string]int{},
		cooldownTo:       map[string]time.Time{},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// DescribeImage submits the image bytes and returns the model's one-sentence
// description, trimmed.
func (c *Client) DescribeImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
				{Text: describePrompt},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", c.model)

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, time.Now()) {
			continue
		}
		text, retriable, reqErr := c.generateOnce(ctx, endpoint+path, body)
		if reqErr == nil {
			c.onSuccess(endpoint)
			return text, nil
		}
		if !retriable {
			return "", reqErr
		}
		lastErr = reqErr
		c.onFailure(endpoint, time.Now())
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("gemini request failed: all endpoints cooling down")
	}
	return "", lastErr
}

// generateOnce performs a single call against one endpoint. Retriable is
// true only for transport failures and 5xx, where another endpoint might
// still succeed.
func (c *Client) generateOnce(ctx context.Context, url string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", false, fmt.Errorf("%s: %w", apiMessage(raw, resp.StatusCode), ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", false, fmt.Errorf("%s: %w", apiMessage(raw, resp.StatusCode), ErrRateLimited)
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiMessage(raw, resp.StatusCode))
	case resp.StatusCode >= 300:
		return "", false, fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiMessage(raw, resp.StatusCode))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false, err
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", false, fmt.Errorf("block reason %s: %w", out.PromptFeedback.BlockReason, ErrBlocked)
	}
	if len(out.Candidates) == 0 {
		return "", false, ErrEmptyResponse
	}
	if reason := out.Candidates[0].FinishReason; strings.EqualFold(reason, "SAFETY") {
		return "", false, fmt.Errorf("finish reason %s: %w", reason, ErrBlocked)
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", false, ErrEmptyResponse
	}
	return text, false, nil
}

func apiMessage(raw []byte, status int) string {
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return fmt.Sprintf("status %d", status)
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func (c *Client) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownTo[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.cooldownTo, endpoint)
		return false
	}
	return true
}

func (c *Client) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failureCnt[endpoint] + 1
	c.failureCnt[endpoint] = count
	if count >= c.failThreshold {
		c.cooldownTo[endpoint] = now.Add(c.endpointCooldown)
		c.failureCnt[endpoint] = 0
	}
}

func (c *Client) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt[endpoint] = 0
	delete(c.cooldownTo, endpoint)
}

func intFromEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func durationFromEnvMillis(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
