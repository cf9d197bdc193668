package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"instasave/pkg/config"
	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
	"instasave/pkg/ratelimit"
)

const appID = "567067343352427"

// signatures in an error body that mean the session was revoked
var forcedLogoutSignatures = []string{"login_required", "challenge_required", "checkpoint_required"}

// Options configures a Client
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Limiter   ratelimit.Limiter
	Logger    logger.Logger
}

// Client talks to the private API on behalf of one account
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    ratelimit.Limiter
	logger     logger.Logger

	mu      sync.RWMutex
	cookies map[string]string
	user    *User
}

// Session is the serialisable state needed to resume without a login
type Session struct {
	Cookies   map[string]string `json:"cookies"`
	UserAgent string            `json:"user_agent"`
	Username  string            `json:"username,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
}

// NewClient creates a new client; zero options fall back to defaults
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		limiter:    opts.Limiter,
		logger:     opts.Logger.WithField("component", "instagram"),
		cookies:    make(map[string]string),
	}
}

// NewClientFromConfig builds a rate limited client from application config
func NewClientFromConfig(cfg *config.Config, log logger.Logger) *Client {
	return NewClient(Options{
		BaseURL:   cfg.Instagram.BaseURL,
		UserAgent: cfg.Instagram.UserAgent,
		Timeout:   cfg.Download.DownloadTimeout,
		Limiter:   ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize),
		Logger:    log,
	})
}

// Username returns the authenticated account name, if known
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.Username
}

// DumpSession serialises the current cookies
func (c *Client) DumpSession() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Session{Cookies: make(map[string]string, len(c.cookies)), UserAgent: c.userAgent}
	for k, v := range c.cookies {
		s.Cookies[k] = v
	}
	if c.user != nil {
		s.Username = c.user.Username
		s.UserID = c.user.PK
	}
	return json.MarshalIndent(s, "", "  ")
}

// LoadSession restores cookies produced by DumpSession. The session is not
// validated; call CurrentUser for that.
func (c *Client) LoadSession(data []byte) error {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return errs.Wrap(errs.ErrorTypeParsing, err, "invalid session data")
	}
	if s.Cookies["sessionid"] == "" {
		return errs.New(errs.ErrorTypeParsing, 0, "session data has no sessionid cookie")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = s.Cookies
	if s.UserAgent != "" {
		c.userAgent = s.UserAgent
	}
	if s.Username != "" {
		c.user = &User{PK: s.UserID, Username: s.Username}
	}
	return nil
}

// Login performs a username/password login
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("login_attempt_count", "0")

	resp, err := c.doRequest(ctx, http.MethodPost, c.baseURL+LoginEndpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		// bad credentials come back as a plain 400
		var typed *errs.Error
		if errors.As(err, &typed) && typed.Type != errs.ErrorTypeForbidden && !errs.IsRetryable(typed.Type) {
			typed.Type = errs.ErrorTypeAuth
		}
		return err
	}

	var body loginResponse
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	if body.LoggedInUser == nil {
		return errs.New(errs.ErrorTypeAuth, resp.StatusCode, "login response carried no user")
	}

	c.mu.Lock()
	c.user = body.LoggedInUser
	c.mu.Unlock()

	c.logger.InfoWithFields("logged in with password", map[string]interface{}{
		"username": body.LoggedInUser.Username,
	})
	return nil
}

// LoginBySessionID authenticates with a bare sessionid cookie value
func (c *Client) LoginBySessionID(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errs.New(errs.ErrorTypeAuth, 0, "empty session id")
	}

	c.mu.Lock()
	c.cookies = map[string]string{"sessionid": sessionID}
	c.mu.Unlock()

	if _, err := c.CurrentUser(ctx); err != nil {
		c.mu.Lock()
		delete(c.cookies, "sessionid")
		c.mu.Unlock()
		return err
	}
	return nil
}

// CurrentUser fetches the authenticated account; it doubles as the cheap
// session validity probe
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var body currentUserResponse
	if err := c.getJSON(ctx, c.baseURL+CurrentUserEndpoint+"?edit=true", &body); err != nil {
		return nil, err
	}
	if body.User.Username == "" {
		return nil, errs.New(errs.ErrorTypeAuth, 0, "session is not authenticated")
	}

	c.mu.Lock()
	u := body.User
	c.user = &u
	c.mu.Unlock()
	return &u, nil
}

// SavedMedia fetches one page of the saved feed, newest first. An empty
// maxID requests the first page.
func (c *Client) SavedMedia(ctx context.Context, maxID string, count int) (*SavedFeedResponse, error) {
	var page SavedFeedResponse
	if err := c.getJSON(ctx, savedFeedURL(c.baseURL, maxID, count), &page); err != nil {
		return nil, err
	}
	c.logger.DebugWithFields("fetched saved feed page", map[string]interface{}{
		"items":          len(page.Items),
		"more_available": page.MoreAvailable,
	})
	return &page, nil
}

// Download streams the resource at rawURL into w
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read media body")
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	return decodeJSON(resp, target)
}

func (c *Client) doRequest(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-IG-App-ID", appID)
	req.Header.Set("Accept-Language", "en-US")

	c.mu.RLock()
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	c.mu.RUnlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method": method,
			"url":    req.URL.Redacted(),
			"error":  err.Error(),
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, fmt.Sprintf("network error: %v", err))
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	c.mu.Lock()
	for _, ck := range resp.Cookies() {
		if ck.Value == "" || ck.Value == `""` {
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	c.mu.Unlock()

	return resp, nil
}

// checkResponse maps error statuses to typed errors
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body apiError
	_ = json.Unmarshal(raw, &body)

	for _, sig := range forcedLogoutSignatures {
		if body.Message == sig || body.ErrorType == sig {
			c.logger.WarnWithFields("remote service revoked the session", map[string]interface{}{
				"status":    resp.StatusCode,
				"signature": sig,
			})
			return errs.NewForbiddenError(sig)
		}
	}

	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return errs.FromStatusCode(resp.StatusCode, msg)
}

func decodeJSON(resp *http.Response, target interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errs.Wrap(errs.ErrorTypeParsing, err, fmt.Sprintf("failed to parse JSON: %v", err))
	}
	return nil
}
