// Package cloud implements the SmartFilterPro workflow API client: telemetry
// posts, filter status polls, filter resets and the thermostat resolver, plus
// the Bubble password/refresh-token auth that backs them.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartfilterpro/internal/models"
)

// Workflow endpoints, relative to the configured API base. The base URL
// carries the Bubble version segment (e.g. ".../version-test") when pointed
// at the test environment.
const (
	pathLogin     = "api/1.1/wf/ha_password_login"
	pathRefresh   = "api/1.1/wf/ha_refresh_token"
	pathTelemetry = "api/1.1/wf/ha_telemetry"
	pathResolver  = "api/1.1/wf/ha_resolve_thermostat_obj"
	pathReset     = "api/1.1/wf/ha_reset_filter"
	pathStatus    = "api/1.1/wf/ha_therm_status"

	telemetryTimeout = 20 * time.Second
	statusTimeout    = 25 * time.Second
)

// ErrUnauthorized marks a request that stayed unauthorized after one token
// refresh. Hard 401s and soft 401s (200 bodies carrying an auth error) are
// folded together.
var ErrUnauthorized = errors.New("cloud: unauthorized")

// TokenProvider supplies bearer tokens for workflow calls. Token returns the
// current (possibly cached) token; Refresh forces a new one after the server
// rejected the current token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client is a thin JSON-over-POST client for the workflow API. It is safe for
// concurrent use.
type Client struct {
	base   string
	httpc  *http.Client
	tokens TokenProvider
	log    *zap.SugaredLogger
}

func New(base string, tokens TokenProvider, log *zap.SugaredLogger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		httpc:  &http.Client{},
		tokens: tokens,
		log:    log,
	}
}

// SendTelemetry posts one telemetry payload. On a 401 or soft 401 the token
// is refreshed and the post retried once; a still-unauthorized retry returns
// ErrUnauthorized.
func (c *Client) SendTelemetry(ctx context.Context, p models.TelemetryPayload) error {
	_, err := c.postAuthRetry(ctx, c.url(pathTelemetry), p, telemetryTimeout)
	return err
}

// FetchStatus polls the therm status workflow for the given hvac uid and maps
// the response (with its legacy fallback keys) onto a FilterStatus.
func (c *Client) FetchStatus(ctx context.Context, hvacUID string) (models.FilterStatus, error) {
	var body any
	if hvacUID != "" {
		body = map[string]string{"hvac_uid": hvacUID}
	}

	raw, err := c.postAuthRetry(ctx, c.url(pathStatus), body, statusTimeout)
	if err != nil {
		return models.FilterStatus{}, err
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.FilterStatus{}, fmt.Errorf("status decode: %w", err)
	}
	resp := unwrapResponse(data)
	if resp == nil {
		return models.FilterStatus{}, fmt.Errorf("status: unexpected JSON shape: %s", truncate(string(raw), 200))
	}

	st := models.FilterStatus{
		PercentageUsed: pickNumber(resp, "percentage_used", "percentage", "percent_used", "percentage used"),
		TodayMinutes:   pickNumber(resp, "today_minutes", "today", "todays_minutes", "2.0.1_Daily Active Time Sum"),
		TotalMinutes:   pickNumber(resp, "total_minutes", "total", "total_runtime", "1.0.1_Minutes active"),
		DeviceName:     pickString(resp, "device_name", "thermostat_name", "name"),
		UpdatedAt:      time.Now().UTC(),
	}
	return st, nil
}

// ResetFilter triggers the filter usage reset workflow. Any first-attempt
// failure gets one retry with a refreshed token, matching the tolerant
// behavior users expect from a physical reset button.
func (c *Client) ResetFilter(ctx context.Context, userID, hvacID string) error {
	payload := map[string]string{"user_id": userID, "hvac_id": hvacID}
	url := c.url(pathReset)

	status, raw, err := c.post(ctx, url, payload, statusTimeout)
	if err == nil && status < 400 && !IsSoftAuthFailure(raw) {
		return nil
	}
	if err != nil {
		c.log.Warnw("reset failed, retrying once", "err", err)
	} else {
		c.log.Warnw("reset rejected, refreshing token and retrying once", "status", status, "body", truncate(string(raw), 300))
	}

	if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
		c.log.Warnw("token refresh before reset retry failed", "err", rerr)
	}

	status, raw, err = c.post(ctx, url, payload, statusTimeout)
	if err != nil {
		return fmt.Errorf("reset retry: %w", err)
	}
	if status == http.StatusUnauthorized || IsSoftAuthFailure(raw) {
		return fmt.Errorf("reset retry %s: %s: %w", url, truncate(string(raw), 300), ErrUnauthorized)
	}
	if status >= 400 {
		return fmt.Errorf("reset retry %s -> %d %s", url, status, truncate(string(raw), 300))
	}
	return nil
}

// ResolveThermostat pings the resolver workflow that links the hvac record to
// its thermostat object. The call is advisory: callers treat failure as
// non-fatal.
func (c *Client) ResolveThermostat(ctx context.Context, userID, hvacID string) error {
	payload := map[string]string{"user_id": userID, "hvac_id": hvacID}
	status, raw, err := c.post(ctx, c.url(pathResolver), payload, telemetryTimeout)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("resolver -> %d %s", status, truncate(string(raw), 300))
	}
	return nil
}

// postAuthRetry posts once, refreshes the token on a hard or soft 401 and
// posts a second time. Other HTTP errors do not trigger a retry.
func (c *Client) postAuthRetry(ctx context.Context, url string, body any, timeout time.Duration) ([]byte, error) {
	status, raw, err := c.post(ctx, url, body, timeout)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized || IsSoftAuthFailure(raw) {
		c.log.Warnw("unauthorized, refreshing token and retrying once",
			"url", url, "status", status, "soft401", IsSoftAuthFailure(raw))
		if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
			c.log.Warnw("token refresh failed", "err", rerr)
		}
		status, raw, err = c.post(ctx, url, body, timeout)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || IsSoftAuthFailure(raw) {
			return nil, fmt.Errorf("%s: %s: %w", url, truncate(string(raw), 300), ErrUnauthorized)
		}
	}

	if status >= 400 {
		return nil, fmt.Errorf("%s -> %d %s", url, status, truncate(string(raw), 500))
	}
	return raw, nil
}

// post performs a single JSON POST with the standard headers and the current
// bearer token (if any). A nil body sends an empty request body.
func (c *Client) post(ctx context.Context, url string, body any, timeout time.Duration) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.log.Warnw("no access token, sending unauthenticated", "err", err)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) url(path string) string {
	return c.base + "/" + path
}

// IsSoftAuthFailure reports whether a 200-level response body actually
// carries a Bubble auth error, e.g. {"statusCode": 401, ...} or a message
// about an expired/invalid token.
func IsSoftAuthFailure(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var probe struct {
		StatusCode any    `json:"statusCode"`
		Status     any    `json:"status"`
		Message    string `json:"message"`
		Error      string `json:"error"`
		Body       struct {
			StatusCode any    `json:"statusCode"`
			Message    string `json:"message"`
		} `json:"body"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	if is401(probe.StatusCode) || is401(probe.Status) || is401(probe.Body.StatusCode) {
		return true
	}
	msg := strings.ToLower(probe.Message + " " + probe.Error + " " + probe.Body.Message)
	if strings.Contains(msg, "token") && (strings.Contains(msg, "expired") || strings.Contains(msg, "invalid")) {
		return true
	}
	return false
}

func is401(v any) bool {
	switch n := v.(type) {
	case float64:
		return n == 401
	case string:
		return strings.TrimSpace(n) == "401"
	}
	return false
}

// unwrapResponse peels the optional Bubble {"response": {...}} envelope.
func unwrapResponse(data map[string]any) map[string]any {
	if inner, ok := data["response"].(map[string]any); ok {
		return inner
	}
	return data
}

// pickNumber returns the first key present with a numeric value, trying
// string-encoded numbers too. Result is nil when nothing matched.
func pickNumber(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			f := n
			return &f
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
				return &f
			}
		}
	}
	return nil
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
