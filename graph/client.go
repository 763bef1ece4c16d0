// Package graph fetches the complete follow graph for an identity from the
// upstream provider, one cursor page at a time, staying under the provider's
// request-rate ceiling.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"

	"github.com/castscan/castscan/util"
)

var (
	ErrInvalidFID   = errors.New("fid must be a positive integer")
	ErrThrottled    = errors.New("follow-graph provider rate limited")
	ErrBadPageShape = errors.New("follow-graph response missing expected result shape")
)

// Account is one followed identity, as returned by the provider. Immutable
// once created; page order is preserved.
type Account struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
	Bio         string `json:"bio"`
}

// Client talks to the follow-graph provider. Zero value is not usable; use
// NewClient and override fields before first use if needed (tests shrink the
// waits).
type Client struct {
	Host      string
	APIKey    string
	Client    *http.Client
	Logger    *slog.Logger
	UserAgent string

	// PageSize is the fixed page size requested from the provider.
	PageSize int
	// MaxPageAttempts bounds retries of a single page (throttle waits and
	// malformed responses both count against it).
	MaxPageAttempts int
	// ThrottleFallback is the wait applied on 429 when the provider omits
	// its reset header.
	ThrottleFallback time.Duration
	// CourtesyEvery/CourtesyPause: after every CourtesyEvery successful
	// pages, pause CourtesyPause regardless of throttle signals.
	CourtesyEvery int
	CourtesyPause time.Duration
	// Limiter enforces the minimum spacing between requests.
	Limiter *rate.Limiter
}

func NewClient(host, apiKey string) *Client {
	return &Client{
		Host:             host,
		APIKey:           apiKey,
		Client:           util.ProviderHTTPClient(),
		Logger:           slog.Default().With("subsystem", "graph"),
		UserAgent:        "castscan/" + versioninfo.Short(),
		PageSize:         100,
		MaxPageAttempts:  10,
		ThrottleFallback: 60 * time.Second,
		CourtesyEvery:    5,
		CourtesyPause:    time.Second,
		Limiter:          rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

type pageQuery struct {
	FID    int64  `url:"fid"`
	Limit  int    `url:"limit"`
	Cursor string `url:"cursor,omitempty"`
}

type pageResponse struct {
	Result *struct {
		Users []pageUser `json:"users"`
	} `json:"result"`
	Next *struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

type pageUser struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
	Profile     struct {
		Bio struct {
			Text string `json:"text"`
		} `json:"bio"`
	} `json:"profile"`
}

// FetchAllFollowing returns every account the given fid follows, in provider
// page order. An empty first page means the identity follows nobody; an
// empty intermediate page with a cursor still present is treated as
// transient and the loop continues. Page-level failures abort the whole
// fetch: the result is never silently partial.
func (c *Client) FetchAllFollowing(ctx context.Context, fid int64) ([]Account, error) {
	if fid <= 0 {
		return nil, fmt.Errorf("fetching follows for fid %d: %w", fid, ErrInvalidFID)
	}

	var out []Account
	cursor := ""
	pages := 0
	for {
		accounts, next, err := c.fetchPage(ctx, fid, cursor)
		if err != nil {
			return nil, err
		}
		pages++
		out = append(out, accounts...)
		accountsFetched.Add(float64(len(accounts)))
		pagesFetched.Inc()

		if pages == 1 && len(accounts) == 0 {
			// definitive: the identity follows nobody
			return out, nil
		}
		if next == "" {
			return out, nil
		}
		cursor = next

		if c.CourtesyEvery > 0 && pages%c.CourtesyEvery == 0 {
			if err := sleepCtx(ctx, c.CourtesyPause); err != nil {
				return nil, err
			}
		}
	}
}

// fetchPage requests a single page, retrying on throttle and malformed
// responses up to MaxPageAttempts.
func (c *Client) fetchPage(ctx context.Context, fid int64, cursor string) ([]Account, string, error) {
	for attempt := 1; ; attempt++ {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		accounts, next, retryable, err := c.doPageRequest(ctx, fid, cursor)
		if err == nil {
			return accounts, next, nil
		}
		if !retryable {
			return nil, "", err
		}
		if attempt >= c.MaxPageAttempts {
			return nil, "", fmt.Errorf("giving up on page after %d attempts: %w", attempt, err)
		}
		pageRetries.Inc()
	}
}

func (c *Client) doPageRequest(ctx context.Context, fid int64, cursor string) ([]Account, string, bool, error) {
	q, err := query.Values(pageQuery{FID: fid, Limit: c.PageSize, Cursor: cursor})
	if err != nil {
		return nil, "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.Host+"/v2/following?"+q.Encode(), nil)
	if err != nil {
		return nil, "", false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, "", false, fmt.Errorf("follow-graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		throttledCount.Inc()
		wait := c.throttleWait(resp)
		c.Logger.Info("follow-graph provider throttled, waiting", "fid", fid, "wait", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, "", false, err
		}
		return nil, "", true, ErrThrottled
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", false, fmt.Errorf("follow-graph provider returned status %d", resp.StatusCode)
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", true, fmt.Errorf("%w: %v", ErrBadPageShape, err)
	}
	if page.Result == nil {
		return nil, "", true, ErrBadPageShape
	}

	accounts := make([]Account, 0, len(page.Result.Users))
	for _, u := range page.Result.Users {
		accounts = append(accounts, Account{
			FID:         u.FID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			PfpURL:      u.PfpURL,
			Bio:         u.Profile.Bio.Text,
		})
	}
	next := ""
	if page.Next != nil {
		next = page.Next.Cursor
	}
	return accounts, next, false, nil
}

// throttleWait computes how long to back off from the provider's reset
// header (epoch seconds), falling back to a conservative fixed wait.
func (c *Client) throttleWait(resp *http.Response) time.Duration {
	raw := resp.Header.Get("X-RateLimit-Reset")
	if raw == "" {
		return c.ThrottleFallback
	}
	reset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return c.ThrottleFallback
	}
	wait := time.Until(time.Unix(reset, 0))
	if wait < 0 {
		wait = 0
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
