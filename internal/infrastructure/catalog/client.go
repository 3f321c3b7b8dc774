package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"catalogsync/internal/shared/config"
	"catalogsync/internal/shared/logging"
	"catalogsync/internal/shared/metrics"
	"catalogsync/internal/shared/middleware"
)

const (
	DefaultBaseURL           = "https://api.steampowered.com"
	defaultTimeout           = 30 * time.Second
	defaultMaxAttempts       = 5
	defaultRateLimitCooldown = 5 * time.Second
	defaultBackoffBase       = time.Second
	ownedGamesPath           = "/IPlayerService/GetOwnedGames/v1/"
	playerSummariesPath      = "/ISteamUser/GetPlayerSummaries/v2/"
	maxErrorBody             = 512
)

// Item is one entry of an account's upstream library, in upstream order.
type Item struct {
	AppID        int64  `json:"appid"`
	Name         string `json:"name"`
	UsageMinutes int64  `json:"playtime_forever"`
}

// Profile is the public summary of an upstream account.
type Profile struct {
	AccountID   string `json:"steamid"`
	DisplayName string `json:"personaname"`
	ProfileURL  string `json:"profileurl"`
}

type ownedGamesResponse struct {
	Response struct {
		GameCount int    `json:"game_count"`
		Games     []Item `json:"games"`
	} `json:"response"`
}

type playerSummariesResponse struct {
	Response struct {
		Players []Profile `json:"players"`
	} `json:"response"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	HTTPClient        *http.Client
	MaxAttempts       int
	RateLimitCooldown time.Duration
	BackoffBase       time.Duration
	// Limiter paces every outbound attempt across all accounts. nil means
	// unlimited.
	Limiter *rate.Limiter
	Sleep   SleepFunc
}

// Client handles communication with the upstream catalog API
type Client struct {
	httpClient        *http.Client
	baseURL           string
	apiKey            string
	maxAttempts       int
	rateLimitCooldown time.Duration
	backoffBase       time.Duration
	limiter           *rate.Limiter
	sleep             SleepFunc
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new catalog API client
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient:        opts.HTTPClient,
		baseURL:           opts.BaseURL,
		apiKey:            opts.APIKey,
		maxAttempts:       opts.MaxAttempts,
		rateLimitCooldown: opts.RateLimitCooldown,
		backoffBase:       opts.BackoffBase,
		limiter:           opts.Limiter,
		sleep:             opts.Sleep,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: middleware.Transport(nil),
		}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.rateLimitCooldown <= 0 {
		c.rateLimitCooldown = defaultRateLimitCooldown
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// NewClientFromConfig builds the client from upstream settings. The API
// server and the admin CLI both construct it this way.
func NewClientFromConfig(cfg config.UpstreamConfig) *Client {
	return NewClient(Options{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		HTTPClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: middleware.Transport(nil),
		},
		MaxAttempts:       cfg.MaxAttempts,
		RateLimitCooldown: cfg.RateLimitCooldown,
		BackoffBase:       cfg.BackoffBase,
		Limiter:           NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
	})
}

// NewLimiter paces outbound attempts. rps <= 0 means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return rate.NewLimiter(limit, max(burst, 1))
}

// MaxFetchDuration is the longest FetchLibrary can run when every attempt
// hits the HTTP timeout and every retry waits the longer of the two delays.
// Time spent queued on the limiter is not included.
func (c *Client) MaxFetchDuration() time.Duration {
	perAttempt := c.httpClient.Timeout
	if perAttempt <= 0 {
		perAttempt = defaultTimeout
	}
	total := time.Duration(c.maxAttempts) * perAttempt
	for attempt := 1; attempt < c.maxAttempts; attempt++ {
		total += max(c.rateLimitCooldown, c.backoffDelay(attempt))
	}
	return total
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.backoffBase * time.Duration(1<<attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchLibrary returns every item the account owns, retrying rate limits
// and server errors. A 4xx other than 429 fails at once with
// *PermanentUpstreamError; running out of attempts yields
// *ExhaustedRetriesError.
func (c *Client) FetchLibrary(ctx context.Context, accountID string) ([]Item, error) {
	log := logging.Component("catalog")

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("steamid", accountID)
	q.Set("format", "json")
	q.Set("include_appinfo", "true")
	endpoint := c.baseURL + ownedGamesPath + "?" + q.Encode()

	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		body, status, err := c.get(ctx, endpoint, "owned_games")
		lastStatus = status

		if err == nil {
			var resp ownedGamesResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("failed to unmarshal library for %s: %w", accountID, err)
			}
			if resp.Response.Games == nil {
				return []Item{}, nil
			}
			return resp.Response.Games, nil
		}

		var transient *TransientUpstreamError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoffDelay(attempt)
		reason := "server_error"
		switch {
		case transient.RateLimited():
			wait = c.rateLimitCooldown
			reason = "rate_limited"
		case transient.StatusCode == 0:
			reason = "transport"
		}
		metrics.UpstreamRetries.WithLabelValues(reason).Inc()

		log.Warn().
			Str("account_id", accountID).
			Int("attempt", attempt).
			Int("status", status).
			Dur("wait", wait).
			Msg("upstream request failed, retrying")

		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("retry wait for %s: %w", accountID, err)
		}
	}

	return nil, &ExhaustedRetriesError{
		Attempts:   c.maxAttempts,
		LastStatus: lastStatus,
		Last:       lastErr,
	}
}

// get performs one attempt. Non-2xx replies are classified into
// *TransientUpstreamError or *PermanentUpstreamError.
func (c *Client) get(ctx context.Context, endpoint, label string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(label, 0)
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &TransientUpstreamError{Err: err}
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(label, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransientUpstreamError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resp.StatusCode, &TransientUpstreamError{StatusCode: resp.StatusCode}
	default:
		return nil, resp.StatusCode, &PermanentUpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
		}
	}
}

// FetchProfile looks up the public profile of accountID. It makes a single
// attempt; link validation is interactive and the caller can simply retry.
func (c *Client) FetchProfile(ctx context.Context, accountID string) (*Profile, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("steamids", accountID)
	endpoint := c.baseURL + playerSummariesPath + "?" + q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	body, status, err := c.get(ctx, endpoint, "player_summaries")
	if err != nil {
		var perm *PermanentUpstreamError
		if errors.As(err, &perm) {
			return nil, &UnexpectedStatusError{StatusCode: perm.StatusCode, Body: perm.Body}
		}
		var transient *TransientUpstreamError
		if errors.As(err, &transient) && status != 0 {
			return nil, &UnexpectedStatusError{StatusCode: status}
		}
		return nil, err
	}

	var resp playerSummariesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", accountID, err)
	}
	if len(resp.Response.Players) == 0 {
		return nil, ErrProfileNotFound
	}

	p := resp.Response.Players[0]
	return &p, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
