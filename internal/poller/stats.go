// internal/poller/stats.go
package poller

import (
	"maps"
	"slices"
	"time"

	"github.com/user/shadowshift/internal/types"
)

// Status is the state of the most recent poll cycle.
type Status string

const (
	StatusIdle                Status = "idle"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// Stats describes one poll cycle. FinishedAt is zero while the cycle runs.
type Stats struct {
	RunID      types.RunID          `json:"run_id,omitempty"`
	Status     Status               `json:"status"`
	StartedAt  time.Time            `json:"started_at,omitzero"`
	FinishedAt time.Time            `json:"finished_at,omitzero"`
	Found      map[types.Source]int `json:"found"`
	Drafted    int                  `json:"drafted"`
	Errors     []string             `json:"errors"`
}

func (s Stats) clone() Stats {
	s.Found = maps.Clone(s.Found)
	if s.Found == nil {
		s.Found = map[types.Source]int{}
	}
	s.Errors = slices.Clone(s.Errors)
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return s
}

// Duration is FinishedAt - StartedAt, or zero while running.
func (s Stats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
