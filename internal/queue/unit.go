// Package queue implements the Job Queue described in spec §4.2: a named
// priority queue of ScrapeUnits backed by kvstore, grounded on the teacher's
// CrawlJob/CrawlResult/DistributedCrawler shapes
// (internal/procurement/scraping/crawler.go), generalized from an
// in-process Go-channel queue to a kvstore-backed one so any worker in a
// fleet can reserve any unit.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/caiatech/crawlforge/pkg/types"
)

// UnitState is the lifecycle state of a ScrapeUnit (spec §3).
type UnitState string

const (
	StateQueued    UnitState = "queued"
	StateReserved  UnitState = "reserved"
	StateActive    UnitState = "active"
	StateCompleted UnitState = "completed"
	StateFailed    UnitState = "failed"
	StateCancelled UnitState = "cancelled"
)

func (s UnitState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// InternalOptions carries billing/retention flags that never cross the
// public API surface (spec §3: bypass_billing, save_to_blob,
// zero_data_retention).
type InternalOptions struct {
	BypassBilling      bool `json:"bypassBilling,omitempty"`
	SaveToBlob         bool `json:"saveToBlob,omitempty"`
	ZeroDataRetention  bool `json:"zeroDataRetention,omitempty"`
}

// Unit is one ScrapeUnit: a single page fetch, standalone or a crawl child.
type Unit struct {
	ID              string               `json:"id"`
	URL             string               `json:"url"`
	TeamID          string               `json:"teamId"`
	Plan            string               `json:"plan,omitempty"`
	Priority        int                  `json:"priority"`
	CrawlID         string               `json:"crawlId,omitempty"`
	ScrapeOptions   types.ScrapeOptions  `json:"scrapeOptions"`
	InternalOptions InternalOptions      `json:"internalOptions"`
	Webhook         string               `json:"webhook,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`

	// NotBefore enforces the crawl's options.delay_ms politeness pacing
	// (spec §3): a unit reserved before this time is left queued so two
	// pages of the same crawl are never dispatched closer together than
	// the crawl's configured delay. Fail also sets it to hold back a
	// re-queued unit until its retry backoff has elapsed.
	NotBefore time.Time `json:"notBefore,omitempty"`

	State        UnitState `json:"state"`
	AttemptCount int       `json:"attemptCount"`
	MaxAttempts  int       `json:"maxAttempts"`
	ReservedBy   string    `json:"reservedBy,omitempty"`
	LeaseExpires time.Time `json:"leaseExpires,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
	Retriable    bool      `json:"retriable,omitempty"`
}

// NewUnit builds a Queued unit with a fresh id, ready for submission. plan
// carries the submitting team's billing plan so a unit spawned later by
// link discovery (which has no line back to Auth) still knows its
// concurrency tier when it releases its Limiter lease.
func NewUnit(url, teamID, plan string, priority int, opts types.ScrapeOptions) *Unit {
	return &Unit{
		ID:            uuid.NewString(),
		URL:           url,
		TeamID:        teamID,
		Plan:          plan,
		Priority:      priority,
		ScrapeOptions: opts,
		CreatedAt:     time.Now(),
		State:         StateQueued,
		MaxAttempts:   3,
	}
}

// Encode serializes the unit for kvstore storage.
func (u *Unit) Encode() ([]byte, error) { return json.Marshal(u) }

func (u *Unit) encode() ([]byte, error) { return u.Encode() }

// DecodeUnit deserializes a unit previously written by Encode, used by the
// Concurrency Limiter's overflow queue as well as the Job Queue itself.
func DecodeUnit(b []byte) (*Unit, error) {
	var u Unit
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func decodeUnit(b []byte) (*Unit, error) { return DecodeUnit(b) }

// Result is what a Worker reports back on successful completion.
type Result struct {
	Page *types.PageResult
}
