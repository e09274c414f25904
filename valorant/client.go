// Package valorant reads recent match history from the HenrikDev Valorant API
// and reduces it into the per-game averages the poll questions are built from.
package valorant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultBaseURL = "https://api.henrikdev.xyz"

// Client is a HenrikDev API client.
type Client struct {
	apiKey   string
	baseURL  string
	region   string
	platform string
	client   *fasthttp.Client
	timeout  time.Duration

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

// RateLimitInfo mirrors the X-Ratelimit-* headers of the last response.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	// seconds until reset
	Reset     int
	UpdatedAt time.Time
}

// ClientOptions configures a Client. Empty fields take the API defaults.
type ClientOptions struct {
	APIKey   string
	BaseURL  string
	Region   string
	Platform string
	Timeout  time.Duration
}

func NewClient(opts ClientOptions) *Client {
	c := &Client{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		region:   opts.Region,
		platform: opts.Platform,
		timeout:  opts.Timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: time.Minute,
		},
		rateLimit: RateLimitInfo{Limit: 30, Remaining: 30, Reset: 60, UpdatedAt: time.Now()},
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.region == "" {
		c.region = "ap"
	}
	if c.platform == "" {
		c.platform = "pc"
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	return c
}

func (c *Client) RateLimit() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *Client) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()
	if v, err := strconv.Atoi(string(resp.Header.Peek("X-Ratelimit-Limit"))); err == nil {
		c.rateLimit.Limit = v
	}
	if v, err := strconv.Atoi(string(resp.Header.Peek("X-Ratelimit-Remaining"))); err == nil {
		c.rateLimit.Remaining = v
	}
	if v, err := strconv.Atoi(string(resp.Header.Peek("X-Ratelimit-Reset"))); err == nil {
		c.rateLimit.Reset = v
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// ParseHandle splits "name#tag".
func ParseHandle(handle string) (name, tag string, err error) {
	name, tag, ok := strings.Cut(handle, "#")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(tag) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadHandle, handle)
	}
	return name, tag, nil
}

// Matches returns the player's most recent matches, newest first.
func (c *Client) Matches(ctx context.Context, name, tag string, size int) ([]MatchData, error) {
	u := fmt.Sprintf("%s/valorant/v4/matches/%s/%s/%s/%s?size=%d",
		c.baseURL, c.region, c.platform, url.PathEscape(name), url.PathEscape(tag), size)
	res, err := doRequest[matchesResponse](ctx, c, u)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("API error: %d", e.code) }

func doRequest[T any](ctx context.Context, client *Client, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", client.apiKey)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(client.timeout)
	}
	if err := client.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}

	client.updateRateLimit(resp)

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &statusError{code: resp.StatusCode()}
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
