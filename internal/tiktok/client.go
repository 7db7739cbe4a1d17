// Package tiktok is a minimal client for the TikTok user-info endpoint exposed
// through RapidAPI.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/logger"
	"golang.org/x/time/rate"

	"raffle/internal/apperr"
	"raffle/internal/metrics"
)

const userInfoPath = "/api/user/info"

// UserInfoResponse is the subset of the upstream payload the raffle uses.
type UserInfoResponse struct {
	StatusCode int       `json:"statusCode"`
	Status     int       `json:"status_code"`
	UserInfo   *UserInfo `json:"userInfo"`
}

type UserInfo struct {
	Stats UserStats `json:"stats"`
	User  *User     `json:"user"`
}

type UserStats struct {
	FollowerCount  int64 `json:"followerCount"`
	FollowingCount int64 `json:"followingCount"`
	HeartCount     int64 `json:"heartCount"`
	VideoCount     int64 `json:"videoCount"`
}

type User struct {
	ID           string   `json:"id"`
	UniqueID     string   `json:"uniqueId"`
	Nickname     string   `json:"nickname"`
	AvatarLarger string   `json:"avatarLarger"`
	AvatarMedium string   `json:"avatarMedium"`
	AvatarThumb  string   `json:"avatarThumb"`
	Signature    string   `json:"signature"`
	Verified     bool     `json:"verified"`
	BioLink      *BioLink `json:"bioLink,omitempty"`
}

type BioLink struct {
	Link string `json:"link"`
}

// OK reports whether the upstream signalled success and included a user.
func (r *UserInfoResponse) OK() bool {
	return r.Status == 0 && r.UserInfo != nil && r.UserInfo.User != nil
}

type Config struct {
	APIKey        string
	APIHost       string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables pacing
}

// Client issues single, retry-less user-info requests.
type Client struct {
	httpClient *http.Client
	apiKey     string
	apiHost    string
	baseURL    string
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		apiHost:    cfg.APIHost,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    limiter,
	}
}

// FetchUser requests the user-info payload for uniqueID.
//
// A missing API key is reported as a configuration error before any network
// activity. A 404 or a payload without a user is reported as not found; every
// other failure is reported as upstream unavailable.
func (c *Client) FetchUser(ctx context.Context, uniqueID string) (*UserInfoResponse, error) {
	if c.apiKey == "" {
		metrics.UpstreamRequestsTotal.WithLabelValues("config_error").Inc()
		logger.Error("RAPIDAPI_KEY is not set")
		return nil, apperr.NewConfigurationError("API configuration error: RAPIDAPI_KEY is not set")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		return nil, apperr.NewUpstreamUnavailable("upstream request not sent", err)
	}

	params := url.Values{}
	params.Set("uniqueId", uniqueID)
	reqURL := c.baseURL + userInfoPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperr.NewUpstreamUnavailable("failed to build upstream request", err)
	}
	req.Header.Set("x-rapidapi-host", c.apiHost)
	req.Header.Set("x-rapidapi-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		logger.Errorf("TikTok API request failed: user=%s err=%v", uniqueID, err)
		return nil, apperr.NewUpstreamUnavailable("failed to fetch TikTok data", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		return nil, apperr.NewUpstreamUnavailable("failed to read TikTok response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		metrics.UpstreamRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, apperr.NewNotFound("user not found", uniqueID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		logger.Errorf("TikTok API error: user=%s status=%d", uniqueID, resp.StatusCode)
		return nil, apperr.NewUpstreamUnavailable(
			fmt.Sprintf("TikTok API error: %d", resp.StatusCode), nil,
		).WithContext("status", resp.StatusCode)
	}

	var payload UserInfoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("unavailable").Inc()
		return nil, apperr.NewUpstreamUnavailable("failed to decode TikTok response", err)
	}

	if !payload.OK() {
		metrics.UpstreamRequestsTotal.WithLabelValues("not_found").Inc()
		logger.Warningf("TikTok API returned error or no user info: user=%s status_code=%d", uniqueID, payload.Status)
		return nil, apperr.NewNotFound("user not found or API error", uniqueID)
	}

	metrics.UpstreamRequestsTotal.WithLabelValues("ok").Inc()
	return &payload, nil
}
