// Package moderation scores identities against the external moderation
// provider, in bounded sequential batches, through a TTL-bounded
// read-through cache.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/castscan/castscan/moderation/cachestore"
	"github.com/castscan/castscan/util"
)

// Client talks to the moderation-scoring provider. Batches are processed
// strictly sequentially: the provider's throughput limit is aggregate, and
// parallel batches would blow through it.
type Client struct {
	Host      string
	APIKey    string
	Client    *http.Client
	Logger    *slog.Logger
	UserAgent string
	Cache     cachestore.CacheStore

	// BatchSize caps identities per scoring request.
	BatchSize int
	// MaxBatchAttempts bounds throttle retries of one batch before it is
	// abandoned and processing moves on.
	MaxBatchAttempts int
	// InitialBackoff is the first throttle wait; it doubles per attempt.
	// The provider sends no reset header, so backoff is blind.
	InitialBackoff time.Duration
}

func NewClient(host, apiKey string, cache cachestore.CacheStore) *Client {
	return &Client{
		Host:             host,
		APIKey:           apiKey,
		Client:           util.ProviderHTTPClient(),
		Logger:           slog.Default().With("subsystem", "moderation"),
		UserAgent:        "castscan/" + versioninfo.Short(),
		Cache:            cache,
		BatchSize:        100,
		MaxBatchAttempts: 5,
		InitialBackoff:   60 * time.Second,
	}
}

type scoreRequest struct {
	UsersList     []string `json:"users_list"`
	LabelCategory string   `json:"label_category"`
}

type scoreResponse struct {
	StatusCode int `json:"status_code"`
	Body       []struct {
		UserID   string `json:"user_id"`
		AILabels struct {
			Moderation []LabelScore `json:"moderation"`
		} `json:"ai_labels"`
	} `json:"body"`
}

// Score returns a ScoreSet per identity. Partial failure is expected
// behavior: an identity whose batch was abandoned is simply absent from the
// result, and absence means "no data", not zero risk. The returned error is
// non-nil only when ctx ends; whatever was scored so far is still returned.
func (c *Client) Score(ctx context.Context, fids []int64, skipCache bool) (map[int64]ScoreSet, error) {
	results := make(map[int64]ScoreSet, len(fids))

	var toFetch []int64
	if skipCache {
		toFetch = fids
	} else {
		for _, fid := range fids {
			set, ok := c.cachedScores(ctx, fid)
			if ok {
				cacheHits.Inc()
				results[fid] = set
			} else {
				cacheMisses.Inc()
				toFetch = append(toFetch, fid)
			}
		}
	}

	for start := 0; start < len(toFetch); start += c.BatchSize {
		end := min(start+c.BatchSize, len(toFetch))
		batch := toFetch[start:end]

		scored, err := c.scoreBatch(ctx, batch)
		if err != nil {
			return results, err
		}
		for fid, set := range scored {
			results[fid] = set
			c.writeCache(ctx, fid, set)
		}
	}
	return results, nil
}

func (c *Client) cachedScores(ctx context.Context, fid int64) (ScoreSet, bool) {
	val, err := c.Cache.Get(ctx, strconv.FormatInt(fid, 10))
	if err != nil {
		c.Logger.Warn("score cache read failed", "fid", fid, "err", err)
		return nil, false
	}
	if val == "" {
		return nil, false
	}
	var set ScoreSet
	if err := json.Unmarshal([]byte(val), &set); err != nil {
		c.Logger.Warn("discarding unparseable score cache entry", "fid", fid, "err", err)
		return nil, false
	}
	return set, true
}

func (c *Client) writeCache(ctx context.Context, fid int64, set ScoreSet) {
	val, err := json.Marshal(set)
	if err != nil {
		c.Logger.Warn("failed to marshal score set for cache", "fid", fid, "err", err)
		return
	}
	if err := c.Cache.Set(ctx, strconv.FormatInt(fid, 10), string(val)); err != nil {
		c.Logger.Warn("score cache write failed", "fid", fid, "err", err)
	}
}

// scoreBatch fetches one batch, backing off blindly on throttle. A nil map
// with nil error means the batch was abandoned; a single poisoned batch
// never blocks the rest of the scan.
func (c *Client) scoreBatch(ctx context.Context, fids []int64) (map[int64]ScoreSet, error) {
	delay := c.InitialBackoff
	for attempt := 1; attempt <= c.MaxBatchAttempts; attempt++ {
		scored, status, err := c.doScoreRequest(ctx, fids)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.Logger.Warn("abandoning score batch after transport failure", "size", len(fids), "err", err)
			batchesAbandoned.WithLabelValues("transport").Inc()
			return nil, nil
		}
		switch {
		case status == http.StatusTooManyRequests:
			throttledCount.Inc()
			c.Logger.Info("moderation provider throttled, backing off", "size", len(fids), "attempt", attempt, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		case status != http.StatusOK:
			c.Logger.Warn("abandoning score batch on provider status", "size", len(fids), "status", status)
			batchesAbandoned.WithLabelValues("status").Inc()
			return nil, nil
		default:
			batchesScored.Inc()
			return scored, nil
		}
	}
	c.Logger.Warn("abandoning score batch after throttle retries", "size", len(fids), "attempts", c.MaxBatchAttempts)
	batchesAbandoned.WithLabelValues("throttle").Inc()
	return nil, nil
}

func (c *Client) doScoreRequest(ctx context.Context, fids []int64) (map[int64]ScoreSet, int, error) {
	users := make([]string, len(fids))
	for i, fid := range fids {
		users[i] = strconv.FormatInt(fid, 10)
	}
	body, err := json.Marshal(scoreRequest{
		UsersList:     users,
		LabelCategory: "moderation",
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Host+"/labels/for-users", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("parsing moderation response: %w", err)
	}
	// some provider errors arrive as HTTP 200 with the real status inside
	// the envelope
	if parsed.StatusCode != 0 && parsed.StatusCode != http.StatusOK {
		return nil, parsed.StatusCode, nil
	}

	scored := make(map[int64]ScoreSet, len(parsed.Body))
	for _, entry := range parsed.Body {
		fid, err := strconv.ParseInt(entry.UserID, 10, 64)
		if err != nil {
			c.Logger.Warn("skipping non-numeric user_id in moderation response", "user_id", entry.UserID)
			continue
		}
		scored[fid] = scoreSetFromLabels(entry.AILabels.Moderation)
	}
	return scored, resp.StatusCode, nil
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
