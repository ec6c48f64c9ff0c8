package bulkmut

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mediabuy/adbatch/internal/adops"
)

// AccessTokenProvider supplies a bearer token for remote calls.
type AccessTokenProvider func(ctx context.Context) (string, error)

// HTTPEntityServiceOptions configures the JSON remote client.
type HTTPEntityServiceOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// HTTPEntityService talks to the account-management API over JSON. Transport
// hiccups, 429 and 5xx responses retry with exponential delay, honoring a
// Retry-After header when one is present.
type HTTPEntityService struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPEntityService(opts HTTPEntityServiceOptions) *HTTPEntityService {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &HTTPEntityService{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *HTTPEntityService) CreateJob(ctx context.Context, clientID int64) (Job, error) {
	var job Job
	path := fmt.Sprintf("/v1/clients/%d/jobs", clientID)
	if err := c.doJSON(ctx, path, struct{}{}, &job); err != nil {
		return Job{}, err
	}
	if job.ClientID == 0 {
		job.ClientID = clientID
	}
	return job, nil
}

func (c *HTTPEntityService) UploadChunk(ctx context.Context, job Job, seq int, envelopes []adops.Envelope, final bool) error {
	payload := struct {
		Seq        int              `json:"seq"`
		Final      bool             `json:"final"`
		Operations []adops.Envelope `json:"operations"`
	}{Seq: seq, Final: final, Operations: envelopes}
	path := fmt.Sprintf("/v1/clients/%d/jobs/%d/chunks", job.ClientID, job.ID)
	return c.doJSON(ctx, path, payload, nil)
}

func (c *HTTPEntityService) JobStatuses(ctx context.Context, clientID int64, jobIDs []int64) ([]Job, error) {
	payload := struct {
		JobIDs []int64 `json:"job_ids"`
	}{JobIDs: jobIDs}
	var result struct {
		Jobs []Job `json:"jobs"`
	}
	path := fmt.Sprintf("/v1/clients/%d/jobs/status", clientID)
	if err := c.doJSON(ctx, path, payload, &result); err != nil {
		return nil, err
	}
	for i := range result.Jobs {
		if result.Jobs[i].ClientID == 0 {
			result.Jobs[i].ClientID = clientID
		}
	}
	return result.Jobs, nil
}

func (c *HTTPEntityService) CancelJob(ctx context.Context, job Job) error {
	path := fmt.Sprintf("/v1/clients/%d/jobs/%d/cancel", job.ClientID, job.ID)
	return c.doJSON(ctx, path, struct{}{}, nil)
}

func (c *HTTPEntityService) Mutate(ctx context.Context, clientID int64, kind string, envelopes []adops.Envelope) (MutateResult, error) {
	payload := struct {
		Kind       string           `json:"kind"`
		Operations []adops.Envelope `json:"operations"`
	}{Kind: kind, Operations: envelopes}
	var result MutateResult
	path := fmt.Sprintf("/v1/clients/%d/mutate", clientID)
	if err := c.doJSON(ctx, path, payload, &result); err != nil {
		return MutateResult{}, err
	}
	return result, nil
}

func (c *HTTPEntityService) Query(ctx context.Context, clientID int64, entity string, selector Selector) (QueryPage, error) {
	payload := struct {
		Entity   string   `json:"entity"`
		Selector Selector `json:"selector"`
	}{Entity: entity, Selector: selector}
	var page QueryPage
	path := fmt.Sprintf("/v1/clients/%d/query", clientID)
	if err := c.doJSON(ctx, path, payload, &page); err != nil {
		return QueryPage{}, err
	}
	return page, nil
}

func (c *HTTPEntityService) doJSON(ctx context.Context, path string, payload, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("entity service base url is required")
	}
	token := ""
	if c.tokenProvider != nil {
		var err error
		token, err = c.tokenProvider(ctx)
		if err != nil {
			return err
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return fmt.Errorf("access token is empty")
		}
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	correlationID := fmt.Sprintf("bulk_%d", time.Now().UnixNano())

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := ContextSleep(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &TransientError{Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := ContextSleep(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				httpErr.Code = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				httpErr.Message = message
			}
		}
		return httpErr
	}
}

func (c *HTTPEntityService) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
