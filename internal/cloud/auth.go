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
	"sync"
	"time"

	"go.uber.org/zap"
)

// tokenSkew refreshes this far before expiry to stay ahead of clock drift.
const tokenSkew = 300 * time.Second

// BubbleAuth holds the password-grant session against the workflow API:
// login on first use, refresh near expiry, full re-login when the refresh
// token is rejected. It also captures the account's user id and primary hvac
// id from the login response so config may leave them blank.
type BubbleAuth struct {
	mu sync.Mutex

	base     string
	email    string
	password string

	userID string
	hvacID string

	accessToken  string
	refreshToken string
	expiresAt    time.Time

	httpc *http.Client
	log   *zap.SugaredLogger
	now   func() time.Time
}

var _ TokenProvider = (*BubbleAuth)(nil)

func NewBubbleAuth(base, email, password, userID, hvacID string, log *zap.SugaredLogger) *BubbleAuth {
	return &BubbleAuth{
		base:     strings.TrimRight(base, "/"),
		email:    email,
		password: password,
		userID:   userID,
		hvacID:   normalizeHvacID(hvacID),
		httpc:    &http.Client{},
		log:      log,
		now:      time.Now,
	}
}

// Token returns a valid access token, logging in or refreshing as needed.
func (a *BubbleAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken == "" {
		if err := a.loginLocked(ctx); err != nil {
			return "", err
		}
		return a.accessToken, nil
	}

	if !a.expiresAt.IsZero() && !a.now().Before(a.expiresAt.Add(-tokenSkew)) {
		if err := a.refreshLocked(ctx); err != nil {
			a.log.Warnw("token refresh failed, falling back to login", "err", err)
			if err := a.loginLocked(ctx); err != nil {
				return "", err
			}
		}
	}
	return a.accessToken, nil
}

// Refresh discards the cached token and obtains a new one, used after the
// server rejected the current token regardless of its local expiry.
func (a *BubbleAuth) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.refreshLocked(ctx); err != nil {
		a.log.Warnw("forced refresh failed, falling back to login", "err", err)
		if err := a.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return a.accessToken, nil
}

// UserID returns the account user id (config value or login backfill).
func (a *BubbleAuth) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// HvacID returns the tracked hvac id (config value or login backfill).
func (a *BubbleAuth) HvacID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hvacID
}

func (a *BubbleAuth) loginLocked(ctx context.Context) error {
	if a.email == "" || a.password == "" {
		return errors.New("cloud auth: no credentials configured")
	}

	status, raw, err := postJSON(ctx, a.httpc, a.base+"/"+pathLogin,
		map[string]string{"email": a.email, "password": a.password}, statusTimeout)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("login -> %d %s", status, truncate(string(raw), 500))
	}

	body, err := decodeAuthBody(raw)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	token := pickString(body, "access_token", "token", "id_token")
	userID := pickString(body, "user_id", "uid")
	if token == "" || userID == "" {
		return fmt.Errorf("login response missing access_token/user_id: %s", truncate(string(raw), 300))
	}

	a.accessToken = token
	a.userID = userID
	if rt := pickString(body, "refresh_token", "rtoken"); rt != "" {
		a.refreshToken = rt
	}
	a.expiresAt = parseExpiry(body, a.now())

	if a.hvacID == "" {
		a.hvacID = normalizeHvacID(firstOf(body, "hvac_id", "primary_hvac_id", "hvac_ids"))
		if a.hvacID != "" {
			a.log.Infow("hvac id resolved from login response", "hvac_id", a.hvacID)
		}
	}

	a.log.Infow("logged in to cloud", "user_id", a.userID, "expires_at", a.expiresAt)
	return nil
}

func (a *BubbleAuth) refreshLocked(ctx context.Context) error {
	if a.refreshToken == "" {
		return errors.New("cloud auth: no refresh token")
	}

	status, raw, err := postJSON(ctx, a.httpc, a.base+"/"+pathRefresh,
		map[string]string{"refresh_token": a.refreshToken}, statusTimeout)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if status >= 400 || IsSoftAuthFailure(raw) {
		return fmt.Errorf("refresh -> %d %s", status, truncate(string(raw), 500))
	}

	body, err := decodeAuthBody(raw)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	token := pickString(body, "access_token", "token", "id_token")
	if token == "" {
		return fmt.Errorf("refresh response missing access_token: %s", truncate(string(raw), 300))
	}

	a.accessToken = token
	if rt := pickString(body, "refresh_token", "rtoken"); rt != "" {
		a.refreshToken = rt
	}
	a.expiresAt = parseExpiry(body, a.now())

	a.log.Debugw("access token refreshed", "expires_at", a.expiresAt)
	return nil
}

// postJSON is the bare transport used by the auth flow itself; unlike
// Client.post it never attaches a bearer token.
func postJSON(ctx context.Context, httpc *http.Client, url string, body any, timeout time.Duration) (int, []byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
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

func decodeAuthBody(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("non-JSON response: %s", truncate(string(raw), 300))
	}
	return unwrapResponse(data), nil
}

// parseExpiry reads expires_at (epoch seconds) or expires_in (seconds from
// now). A zero time means "unknown", which disables proactive refresh.
func parseExpiry(body map[string]any, now time.Time) time.Time {
	if at := pickNumber(body, "expires_at"); at != nil {
		return time.Unix(int64(*at), 0).UTC()
	}
	if in := pickNumber(body, "expires_in"); in != nil {
		return now.Add(time.Duration(*in) * time.Second).UTC()
	}
	return time.Time{}
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// normalizeHvacID flattens the id field, which upstream may deliver as a
// plain string, a list, or a stringified list like "['abc']".
func normalizeHvacID(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				return s
			}
		}
		return ""
	case []string:
		for _, s := range val {
			if s != "" {
				return s
			}
		}
		return ""
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		js := s
		if strings.Contains(js, "'") && !strings.Contains(js, `"`) {
			js = strings.ReplaceAll(js, "'", `"`)
		}
		var arr []any
		if err := json.Unmarshal([]byte(js), &arr); err == nil {
			for _, item := range arr {
				if out := strings.TrimSpace(fmt.Sprint(item)); out != "" {
					return out
				}
			}
			return ""
		}
		s = strings.Trim(strings.TrimSpace(strings.Trim(s, "[]")), `'"`)
	}
	return s
}
