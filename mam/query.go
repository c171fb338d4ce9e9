// Package mam implements the XEP-0313 Message Archive Management query
// engine: RSM-paginated, filter-composable reads over the message
// archive, shared between personal archives (keyed by a user's bare JID)
// and MUC room archives (keyed by the room's bare JID), expressed against
// this repo's
// own storage.ArchiveRepository rather than the Rust libSQL trait.
package mam

import (
	"time"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
)

// Query is a parsed XEP-0313 §4.2 query: an optional time window, an
// optional "with" JID filter, and RSM paging anchors.
type Query struct {
	Start *time.Time
	End   *time.Time
	With  string

	AfterID  int64
	BeforeID int64
	Max      int
}

// Result is the page of archived messages a Query produces, plus the
// bookkeeping XEP-0313's <fin/> response needs.
type Result struct {
	Messages []model.ArchivedMessage
	Complete bool
	FirstID  string
	LastID   string
}

// Run executes q against archive (a bare JID: a user's own archive or a
// MUC room's), clamping Max to the configured default/ceiling and
// fetching one extra row to determine completeness.
func Run(archive string, q Query) (*Result, error) {
	max := q.Max
	cfg := config.Default().Modules.MAM
	if max <= 0 {
		max = cfg.DefaultPageSize
	}
	if max > cfg.MaxPageSize {
		max = cfg.MaxPageSize
	}

	filter := storage.ArchiveFilter{With: q.With}
	if q.Start != nil {
		filter.Start = *q.Start
	}
	if q.End != nil {
		filter.End = *q.End
	}

	rows, err := storage.Instance().QueryArchiveFiltered(archive, q.AfterID, q.BeforeID, max, filter)
	if err != nil {
		return nil, err
	}

	complete := len(rows) <= max
	if !complete {
		if q.BeforeID > 0 {
			// Backward pages fetch descending and reverse, so the extra
			// row sits at the front (oldest), not the back.
			rows = rows[len(rows)-max:]
		} else {
			rows = rows[:max]
		}
	}

	res := &Result{Messages: rows, Complete: complete}
	if len(rows) > 0 {
		res.FirstID = rows[0].StanzaID
		res.LastID = rows[len(rows)-1].StanzaID
	}
	return res, nil
}
