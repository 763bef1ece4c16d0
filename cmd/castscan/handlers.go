package main

import (
	"strconv"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"

	"github.com/castscan/castscan/moderation"
	"github.com/castscan/castscan/scanner"
)

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, HealthStatus{
		Status:  "ok",
		Version: versioninfo.Short(),
	})
}

type ScanPending struct {
	Ready bool `json:"ready"`
}

type ScanFailed struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

type ScanResult struct {
	Ready           bool                    `json:"ready"`
	FlaggedCount    int                     `json:"flaggedCount"`
	FollowCount     int                     `json:"followCount"`
	ScoredCount     int                     `json:"scoredCount"`
	FlaggedAccounts []FlaggedAccountSummary `json:"flaggedAccounts"`
	Timing          scanner.Timing          `json:"timing"`
}

type FlaggedAccountSummary struct {
	ID     int64               `json:"id"`
	Scores moderation.ScoreSet `json:"scores"`
}

// HandleScan is the start-or-poll entry point. The first request for a fid
// starts a background scan and reports not-ready; subsequent requests poll.
// A completed record is returned as-is; refresh=true starts a fresh scan
// over it.
func (srv *Server) HandleScan(c echo.Context) error {
	fid, err := strconv.ParseInt(c.QueryParam("fid"), 10, 64)
	if err != nil || fid <= 0 {
		return c.JSON(400, map[string]string{"error": "fid must be a positive integer"})
	}

	rec, ok := srv.scanner.Status(fid)
	if !ok || (rec.Completed && c.QueryParam("refresh") == "true") {
		srv.scanner.Trigger(fid)
		return c.JSON(200, ScanPending{Ready: false})
	}
	if !rec.Completed {
		return c.JSON(200, ScanPending{Ready: false})
	}
	if rec.Err != "" {
		return c.JSON(200, ScanFailed{Ready: true, Error: "scan failed: " + rec.Err})
	}

	flagged := make([]FlaggedAccountSummary, 0, len(rec.Flagged))
	for _, fa := range rec.Flagged {
		flagged = append(flagged, FlaggedAccountSummary{
			ID:     fa.Account.FID,
			Scores: fa.Scores,
		})
	}
	return c.JSON(200, ScanResult{
		Ready:           true,
		FlaggedCount:    rec.FlaggedCount,
		FollowCount:     rec.FollowCount,
		ScoredCount:     rec.ScoredCount,
		FlaggedAccounts: flagged,
		Timing:          rec.Timing,
	})
}

type ModerationScoresRequest struct {
	IdentityIDs []string `json:"identityIds"`
	SkipCache   bool     `json:"skipCache"`
}

type ModerationScoresResponse struct {
	Count   int                            `json:"count"`
	Results map[string]moderation.ScoreSet `json:"results"`
}

const maxLookupIDs = 50

// HandleModerationScores is the direct batch lookup: at most 50
// string-encoded IDs per request. Absent IDs in the result mean "no data".
func (srv *Server) HandleModerationScores(c echo.Context) error {
	var req ModerationScoresRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "malformed request body"})
	}
	if len(req.IdentityIDs) == 0 {
		return c.JSON(400, map[string]string{"error": "identityIds is required"})
	}
	if len(req.IdentityIDs) > maxLookupIDs {
		return c.JSON(400, map[string]string{"error": "at most 50 identityIds per request"})
	}

	fids := make([]int64, 0, len(req.IdentityIDs))
	for _, raw := range req.IdentityIDs {
		fid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || fid <= 0 {
			return c.JSON(400, map[string]string{"error": "identityIds must be positive integers"})
		}
		fids = append(fids, fid)
	}

	scored, err := srv.mod.Score(c.Request().Context(), fids, req.SkipCache)
	if err != nil {
		srv.logger.Error("moderation lookup failed", "err", err)
		return c.JSON(500, map[string]string{"error": "moderation lookup failed"})
	}

	results := make(map[string]moderation.ScoreSet, len(scored))
	for fid, set := range scored {
		results[strconv.FormatInt(fid, 10)] = set
	}
	return c.JSON(200, ModerationScoresResponse{
		Count:   len(results),
		Results: results,
	})
}
