package scanner

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/castscan/castscan/flagging"
	"github.com/castscan/castscan/graph"
	"github.com/castscan/castscan/moderation"
)

// FlaggedAccount is one followed account that tripped at least one flag.
type FlaggedAccount struct {
	Account graph.Account       `json:"account"`
	Scores  moderation.ScoreSet `json:"scores"`
	Flags   flagging.FlagSet    `json:"flags"`
}

// Timing is the elapsed-time breakdown of one completed scan.
type Timing struct {
	FetchMs int64 `json:"fetch_ms"`
	ScoreMs int64 `json:"score_ms"`
	FlagMs  int64 `json:"flag_ms"`
	TotalMs int64 `json:"total_ms"`
}

// Record is the published state of one scan, keyed by fid. Records are
// replaced wholesale on every transition and never mutated after
// publication, so readers need no locking beyond the store's own.
type Record struct {
	FID          int64            `json:"fid"`
	Started      bool             `json:"started"`
	Completed    bool             `json:"completed"`
	Err          string           `json:"error,omitempty"`
	FollowCount  int              `json:"follow_count"`
	ScoredCount  int              `json:"scored_count"`
	FlaggedCount int              `json:"flagged_count"`
	Flagged      []FlaggedAccount `json:"flagged,omitempty"`
	Timing       Timing           `json:"timing"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at,omitzero"`
}

// RecordStore holds the most recent Record per fid. Implementations must be
// safe for concurrent use; only the Scanner writes.
type RecordStore interface {
	Get(fid int64) (*Record, bool)
	Set(fid int64, rec *Record)
}

// MemRecordStore bounds growth with a max entry count and max age, so a
// long-lived process scanning many identities does not grow without limit.
type MemRecordStore struct {
	Data *expirable.LRU[int64, *Record]
}

func NewMemRecordStore(capacity int, maxAge time.Duration) MemRecordStore {
	return MemRecordStore{
		Data: expirable.NewLRU[int64, *Record](capacity, nil, maxAge),
	}
}

func (s MemRecordStore) Get(fid int64) (*Record, bool) {
	return s.Data.Get(fid)
}

func (s MemRecordStore) Set(fid int64, rec *Record) {
	s.Data.Add(fid, rec)
}
