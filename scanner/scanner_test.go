package scanner

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/castscan/castscan/flagging"
	"github.com/castscan/castscan/graph"
	"github.com/castscan/castscan/moderation"
	"github.com/castscan/castscan/moderation/cachestore"
)

// graphStub serves a fixed follow list for any fid, 100 per page.
func graphStub(t *testing.T, follows []int64, perRequest func()) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if perRequest != nil {
			perRequest()
		}
		start := 0
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			var err error
			start, err = strconv.Atoi(raw)
			assert.NoError(t, err)
		}
		end := min(start+100, len(follows))

		users := make([]map[string]any, 0, end-start)
		for _, fid := range follows[start:end] {
			users = append(users, map[string]any{
				"fid":      fid,
				"username": fmt.Sprintf("user%d", fid),
			})
		}
		body := map[string]any{"result": map[string]any{"users": users}}
		if end < len(follows) {
			body["next"] = map[string]any{"cursor": strconv.Itoa(end)}
		}
		json.NewEncoder(w).Encode(body)
	}))
}

// moderationStub scores every requested identity, spam 0.9 for the listed
// fids and 0.1 otherwise.
func moderationStub(spammy map[int64]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UsersList []string `json:"users_list"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		body := make([]map[string]any, 0, len(req.UsersList))
		for _, uid := range req.UsersList {
			fid, _ := strconv.ParseInt(uid, 10, 64)
			score := 0.1
			if spammy[fid] {
				score = 0.9
			}
			body = append(body, map[string]any{
				"user_id": uid,
				"ai_labels": map[string]any{"moderation": []map[string]any{
					{"label": "spam", "score": score},
					{"label": "llm_generated", "score": 0.1},
				}},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"status_code": 200, "body": body})
	}))
}

func newTestScanner(graphURL, modURL string) *Scanner {
	gc := graph.NewClient(graphURL, "k")
	gc.Limiter = rate.NewLimiter(rate.Inf, 1)
	gc.CourtesyPause = 0
	gc.ThrottleFallback = time.Millisecond

	mc := moderation.NewClient(modURL, "k", cachestore.NewMemCacheStore(1000, time.Hour))
	mc.InitialBackoff = time.Millisecond

	s := New(gc, mc, flagging.DefaultThresholds(), NewMemRecordStore(100, time.Hour))
	s.ScanTimeout = 5 * time.Second
	return s
}

func waitCompleted(t *testing.T, s *Scanner, fid int64) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		r, ok := s.Status(fid)
		if !ok || !r.Completed {
			return false
		}
		rec = r
		return true
	}, 3*time.Second, 5*time.Millisecond)
	return rec
}

func TestScanEndToEnd(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	follows := make([]int64, 150)
	for i := range follows {
		follows[i] = int64(1000 + i)
	}
	spammy := map[int64]bool{1001: true, 1050: true, 1149: true}

	gsrv := graphStub(t, follows, nil)
	defer gsrv.Close()
	msrv := moderationStub(spammy)
	defer msrv.Close()

	s := newTestScanner(gsrv.URL, msrv.URL)

	require.True(s.Trigger(42))
	rec := waitCompleted(t, s, 42)

	assert.Empty(rec.Err)
	assert.Equal(150, rec.FollowCount)
	assert.Equal(150, rec.ScoredCount)
	assert.Equal(3, rec.FlaggedCount)

	var flaggedIDs []int64
	for _, fa := range rec.Flagged {
		flaggedIDs = append(flaggedIDs, fa.Account.FID)
		assert.Equal(0.9, fa.Scores[moderation.CategorySpam])
		assert.True(fa.Flags.IsFlagged)
		assert.True(fa.Flags.Categories[moderation.CategorySpam])
	}
	// flagged list follows provider page order
	assert.Equal([]int64{1001, 1050, 1149}, flaggedIDs)

	assert.GreaterOrEqual(rec.Timing.TotalMs, int64(0))
	assert.False(rec.CompletedAt.IsZero())
}

func TestScanEmptyFollowGraph(t *testing.T) {
	gsrv := graphStub(t, nil, nil)
	defer gsrv.Close()
	msrv := moderationStub(nil)
	defer msrv.Close()

	s := newTestScanner(gsrv.URL, msrv.URL)
	require.True(t, s.Trigger(7))
	rec := waitCompleted(t, s, 7)

	assert.Empty(t, rec.Err)
	assert.Equal(t, 0, rec.FollowCount)
	assert.Equal(t, 0, rec.FlaggedCount)
}

func TestScanFetchFailureStoresError(t *testing.T) {
	gsrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gsrv.Close()
	msrv := moderationStub(nil)
	defer msrv.Close()

	s := newTestScanner(gsrv.URL, msrv.URL)
	require.True(t, s.Trigger(9))
	rec := waitCompleted(t, s, 9)

	assert.Contains(t, rec.Err, "fetching follow graph")
	assert.Equal(t, 0, rec.FlaggedCount)
}

func TestScanReentrantTriggerIgnoredWhileRunning(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	release := make(chan struct{})
	gate := make(chan struct{}, 1)
	gsrv := graphStub(t, []int64{1, 2, 3}, func() {
		select {
		case gate <- struct{}{}:
			<-release
		default:
		}
	})
	defer gsrv.Close()
	msrv := moderationStub(nil)
	defer msrv.Close()

	s := newTestScanner(gsrv.URL, msrv.URL)

	require.True(s.Trigger(42))
	<-gate
	// scan is mid-fetch: a second trigger is a no-op
	assert.False(s.Trigger(42))
	rec, ok := s.Status(42)
	require.True(ok)
	assert.False(rec.Completed)

	close(release)
	rec = waitCompleted(t, s, 42)
	assert.Equal(3, rec.FollowCount)

	// completed is terminal until explicitly re-triggered
	assert.True(s.Trigger(42))
	waitCompleted(t, s, 42)
}

func TestScanAbsentScoresNotFlagged(t *testing.T) {
	// moderation provider down: scores absent must mean "no data", never a flag
	gsrv := graphStub(t, []int64{1, 2, 3}, nil)
	defer gsrv.Close()
	msrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer msrv.Close()

	s := newTestScanner(gsrv.URL, msrv.URL)
	require.True(t, s.Trigger(11))
	rec := waitCompleted(t, s, 11)

	assert.Empty(t, rec.Err)
	assert.Equal(t, 3, rec.FollowCount)
	assert.Equal(t, 0, rec.ScoredCount)
	assert.Equal(t, 0, rec.FlaggedCount)
}
