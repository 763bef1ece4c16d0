// Package scanner drives end-to-end scans: fetch the follow graph, score
// every followed identity, derive flags, and publish progress to a keyed
// record store that stateless pollers read.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/castscan/castscan/flagging"
	"github.com/castscan/castscan/graph"
	"github.com/castscan/castscan/moderation"
)

type Scanner struct {
	Graph      *graph.Client
	Scores     *moderation.Client
	Thresholds flagging.Thresholds
	Records    RecordStore
	Logger     *slog.Logger

	// ScanTimeout bounds one whole scan; it is the caller-level limit that
	// stops a misbehaving provider page from hanging a scan forever.
	ScanTimeout time.Duration
	// BatchSize caps identities per scoring submission.
	BatchSize int

	running *xsync.MapOf[int64, struct{}]
}

func New(graphClient *graph.Client, scores *moderation.Client, thresholds flagging.Thresholds, records RecordStore) *Scanner {
	return &Scanner{
		Graph:       graphClient,
		Scores:      scores,
		Thresholds:  thresholds,
		Records:     records,
		Logger:      slog.Default().With("subsystem", "scanner"),
		ScanTimeout: 10 * time.Minute,
		BatchSize:   100,
		running:     xsync.NewMapOf[int64, struct{}](),
	}
}

// Trigger starts a background scan for fid and returns true, or returns
// false without side effects when a scan for that fid is already in flight
// (re-entrant triggers are ignored while running).
func (s *Scanner) Trigger(fid int64) bool {
	if _, loaded := s.running.LoadOrStore(fid, struct{}{}); loaded {
		return false
	}
	s.Records.Set(fid, &Record{
		FID:       fid,
		StartedAt: time.Now(),
	})
	scansStarted.Inc()
	go s.run(fid)
	return true
}

// Status returns the current record for fid. The record is a published
// snapshot; callers must not modify it.
func (s *Scanner) Status(fid int64) (*Record, bool) {
	return s.Records.Get(fid)
}

// run executes one scan to its terminal state. Every failure mode ends in a
// stored Completed(error) record; nothing escapes to crash the process or
// leak into the polling path.
func (s *Scanner) run(fid int64) {
	defer s.running.Delete(fid)

	start := time.Now()
	logger := s.Logger.With("fid", fid)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panicked", "panic", r)
			s.completeError(fid, start, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.ScanTimeout)
	defer cancel()

	s.Records.Set(fid, &Record{
		FID:       fid,
		Started:   true,
		StartedAt: start,
	})

	fetchStart := time.Now()
	follows, err := s.Graph.FetchAllFollowing(ctx, fid)
	fetchDur := time.Since(fetchStart)
	if err != nil {
		logger.Warn("scan aborted during follow-graph fetch", "err", err)
		s.completeError(fid, start, fmt.Sprintf("fetching follow graph: %v", err))
		return
	}
	logger.Info("fetched follow graph", "follows", len(follows), "dur", fetchDur)

	if len(follows) == 0 {
		s.Records.Set(fid, &Record{
			FID:         fid,
			Started:     true,
			Completed:   true,
			StartedAt:   start,
			CompletedAt: time.Now(),
			Timing: Timing{
				FetchMs: fetchDur.Milliseconds(),
				TotalMs: time.Since(start).Milliseconds(),
			},
		})
		scansSucceeded.Inc()
		return
	}

	fids := make([]int64, len(follows))
	for i, acc := range follows {
		fids[i] = acc.FID
	}

	scoreStart := time.Now()
	scored := make(map[int64]moderation.ScoreSet, len(fids))
	for batchStart := 0; batchStart < len(fids); batchStart += s.BatchSize {
		end := min(batchStart+s.BatchSize, len(fids))
		batch, err := s.Scores.Score(ctx, fids[batchStart:end], false)
		if err != nil {
			logger.Warn("scan aborted during scoring", "err", err)
			s.completeError(fid, start, fmt.Sprintf("scoring followed accounts: %v", err))
			return
		}
		for k, v := range batch {
			scored[k] = v
		}
	}
	scoreDur := time.Since(scoreStart)
	logger.Info("scored followed accounts", "requested", len(fids), "scored", len(scored), "dur", scoreDur)

	flagStart := time.Now()
	var flagged []FlaggedAccount
	for _, acc := range follows {
		scores, ok := scored[acc.FID]
		if !ok {
			// absent means no data, not zero risk; skip rather than flag
			continue
		}
		fs := flagging.Evaluate(scores, s.Thresholds)
		if fs.IsFlagged {
			flagged = append(flagged, FlaggedAccount{
				Account: acc,
				Scores:  scores,
				Flags:   fs,
			})
		}
	}
	flagDur := time.Since(flagStart)

	s.Records.Set(fid, &Record{
		FID:          fid,
		Started:      true,
		Completed:    true,
		FollowCount:  len(follows),
		ScoredCount:  len(scored),
		FlaggedCount: len(flagged),
		Flagged:      flagged,
		StartedAt:    start,
		CompletedAt:  time.Now(),
		Timing: Timing{
			FetchMs: fetchDur.Milliseconds(),
			ScoreMs: scoreDur.Milliseconds(),
			FlagMs:  flagDur.Milliseconds(),
			TotalMs: time.Since(start).Milliseconds(),
		},
	})
	scansSucceeded.Inc()
	scanDuration.Observe(time.Since(start).Seconds())
	logger.Info("scan completed", "follows", len(follows), "flagged", len(flagged), "dur", time.Since(start))
}

func (s *Scanner) completeError(fid int64, start time.Time, msg string) {
	s.Records.Set(fid, &Record{
		FID:         fid,
		Started:     true,
		Completed:   true,
		Err:         msg,
		StartedAt:   start,
		CompletedAt: time.Now(),
		Timing: Timing{
			TotalMs: time.Since(start).Milliseconds(),
		},
	})
	scansFailed.Inc()
}
