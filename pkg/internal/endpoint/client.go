package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tutorlink/calling/pkg/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the session endpoint client: a thin wrapper over the backend's
// call operations. It owns bearer credentials and transparently refreshes
// them once when a request comes back unauthorized.
type Client struct {
	baseURL string
	http    *http.Client

	credMu       sync.Mutex
	token        string
	refreshToken string
}

func NewClient(baseURL, token, refreshToken string) *Client {
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 10 * time.Second},
		token:        token,
		refreshToken: refreshToken,
	}
}

func NewClientFromConfig() *Client {
	return NewClient(
		viper.GetString("endpoint.base_url"),
		viper.GetString("endpoint.token"),
		viper.GetString("endpoint.refresh_token"),
	)
}

// GetActive queries the backend for an existing active call. Performed on
// every mount before any call-control decision is taken.
func (c *Client) GetActive(ctx context.Context) (*models.ActiveCall, error) {
	var out models.ActiveCall
	if err := c.do(ctx, http.MethodGet, "/calls/active", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start asks the backend to open a call with the given teacher.
func (c *Client) Start(ctx context.Context, teacherID string) (*models.CallSession, error) {
	var out struct {
		Call *models.CallSession `json:"call"`
	}
	body := map[string]any{"teacher_id": teacherID}
	if err := c.do(ctx, http.MethodPost, "/calls/start", body, &out); err != nil {
		return nil, err
	}
	if out.Call == nil {
		return nil, fmt.Errorf("backend accepted the call but returned no session")
	}
	return out.Call, nil
}

// Heartbeat reports liveness for the active call and picks up the refreshed
// subscription remainder, when the caller has one.
func (c *Client) Heartbeat(ctx context.Context) (*models.HeartbeatResult, error) {
	var out models.HeartbeatResult
	if err := c.do(ctx, http.MethodPost, "/calls/heartbeat", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// End terminates the active call. The response carries the authoritative
// duration, which overwrites any locally ticked estimate.
func (c *Client) End(ctx context.Context) (*models.CallEndResult, error) {
	var out models.CallEndResult
	if err := c.do(ctx, http.MethodPost, "/calls/end_call", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryPage is one page of archived calls.
type HistoryPage struct {
	Calls      []models.CallRecord `json:"calls"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
}

func (c *Client) History(ctx context.Context, page int) (*HistoryPage, error) {
	var out HistoryPage
	path := fmt.Sprintf("/calls/history?page=%d", page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTutors(ctx context.Context) ([]models.Account, error) {
	var out struct {
		Tutors []models.Account `json:"tutors"`
	}
	if err := c.do(ctx, http.MethodGet, "/tutors", nil, &out); err != nil {
		return nil, err
	}
	return out.Tutors, nil
}

// ToggleTutorStatus flips the caller's availability. Teacher role only.
func (c *Client) ToggleTutorStatus(ctx context.Context) (bool, error) {
	var out struct {
		IsAvailable bool `json:"is_available"`
	}
	if err := c.do(ctx, http.MethodPatch, "/tutors/toggle_status", nil, &out); err != nil {
		return false, err
	}
	return out.IsAvailable, nil
}

// Login exchanges credentials for a token pair. Used by the console client
// and the test harness; production callers usually arrive with tokens.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Account, error) {
	var out struct {
		Token        string         `json:"token"`
		RefreshToken string         `json:"refresh_token"`
		User         models.Account `json:"user"`
	}
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.setTokens(out.Token, out.RefreshToken)
	return &out.User, nil
}

func (c *Client) setTokens(token, refresh string) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	c.token = token
	if refresh != "" {
		c.refreshToken = refresh
	}
}

func (c *Client) bearer() string {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.roundTrip(ctx, method, path, body, out, c.bearer()); err != nil {
		re, ok := AsRemote(err)
		if !ok || re.Status != http.StatusUnauthorized {
			return err
		}
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			log.Warn().Err(refreshErr).Msg("An error occurred when refreshing session token.")
			return err
		}
		return c.roundTrip(ctx, method, path, body, out, c.bearer())
	}
	return nil
}

// refresh trades the refresh token for a new pair. Runs at most one retry
// deep because roundTrip for the refresh call itself never triggers it.
func (c *Client) refresh(ctx context.Context) error {
	c.credMu.Lock()
	refresh := c.refreshToken
	c.credMu.Unlock()
	if refresh == "" {
		return fmt.Errorf("no refresh token available")
	}

	var out struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	body := map[string]any{"refresh_token": refresh}
	if err := c.roundTrip(ctx, http.MethodPost, "/auth/refresh", body, &out, ""); err != nil {
		return err
	}
	c.setTokens(out.Token, out.RefreshToken)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any, bearer string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session endpoint unreachable: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var fail struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &fail)
		if fail.Error == "" {
			fail.Error = http.StatusText(res.StatusCode)
		}
		return &RemoteError{Status: res.StatusCode, Message: fail.Error}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unable to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
