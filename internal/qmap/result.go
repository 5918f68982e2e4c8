package qmap

import (
	"time"

	"github.com/nsip/otf-assess/internal/assessment"
)

// Outcome is what a pass did to one item.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomePreserved Outcome = "preserved"
	OutcomeRemoved   Outcome = "removed"
	OutcomeIgnored   Outcome = "ignored"
)

type ItemOutcome struct {
	NTIID   string          `json:"ntiid"`
	Kind    assessment.Kind `json:"kind"`
	Outcome Outcome         `json:"outcome"`
	Locked  bool            `json:"locked"`
}

// SyncResult reports one add pass.
type SyncResult struct {
	PassID   string        `json:"passId"`
	Package  string        `json:"package"`
	Skipped  bool          `json:"skipped"`
	AsOf     time.Time     `json:"asOf"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Items    []ItemOutcome `json:"items"`
}

func (r *SyncResult) record(item *assessment.Item, o Outcome) {
	r.Items = append(r.Items, ItemOutcome{NTIID: item.NTIID, Kind: item.Kind, Outcome: o, Locked: item.Locked})
}

func (r *SyncResult) with(o Outcome) []string {
	var ids []string
	for _, it := range r.Items {
		if it.Outcome == o {
			ids = append(ids, it.NTIID)
		}
	}
	return ids
}

// Added lists the NTIIDs created by the pass.
func (r *SyncResult) Added() []string { return r.with(OutcomeCreated) }

func (r *SyncResult) Updated() []string { return r.with(OutcomeUpdated) }

func (r *SyncResult) Preserved() []string { return r.with(OutcomePreserved) }

// Locked lists the visited items that were locked.
func (r *SyncResult) Locked() []string {
	var ids []string
	for _, it := range r.Items {
		if it.Locked {
			ids = append(ids, it.NTIID)
		}
	}
	return ids
}

// Visited lists every NTIID the pass touched, in visitation order.
func (r *SyncResult) Visited() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.NTIID)
	}
	return ids
}

// Removal is an item dropped by a remove pass and its former surrogate id.
type Removal struct {
	Item  *assessment.Item
	IntID int64
}

// RemoveResult reports one remove pass.
type RemoveResult struct {
	Package string        `json:"package"`
	Removed []Removal     `json:"-"`
	Locked  []string      `json:"locked"`
	Items   []ItemOutcome `json:"items"`
}

// RemovedIDs lists the NTIIDs of removed items.
func (r *RemoveResult) RemovedIDs() []string {
	ids := make([]string, 0, len(r.Removed))
	for _, rm := range r.Removed {
		ids = append(ids, rm.Item.NTIID)
	}
	return ids
}
