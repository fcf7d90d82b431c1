// Package monitoring summarizes stage outcomes in the Document Store and
// raises alerts when failure rates cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/store"
)

// StageMetrics counts artifact statuses for one stage.
type StageMetrics struct {
	Done     int     `json:"done"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Pending  int     `json:"pending"`
	FailRate float64 `json:"fail_rate"`

	// Recent counts artifacts produced within the lookback window.
	Recent       int `json:"recent"`
	RecentFailed int `json:"recent_failed"`
}

// MetricsSnapshot is a point-in-time view of the library.
type MetricsSnapshot struct {
	Documents      int                           `json:"documents"`
	Stages         map[model.Stage]*StageMetrics `json:"stages"`
	FailuresByKind map[model.FailureKind]int     `json:"failures_by_kind"`
	Unconfigured   map[model.Stage]int           `json:"unconfigured,omitempty"`
	LookbackHours  int                           `json:"lookback_hours"`
	CollectedAt    time.Time                     `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect walks every document's artifacts. Stages that never ran count as
// pending. Fail rates are over finished (done or failed) artifacts.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Stages:         make(map[model.Stage]*StageMetrics, len(model.Stages)),
		FailuresByKind: make(map[model.FailureKind]int),
		Unconfigured:   make(map[model.Stage]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	for _, st := range model.Stages {
		snap.Stages[st] = &StageMetrics{}
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	docs, err := c.store.ListDocuments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list documents")
	}
	snap.Documents = len(docs)

	for _, d := range docs {
		arts, err := c.store.ListArtifacts(ctx, d.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list artifacts for %s", d.ID)
		}
		seen := make(map[model.Stage]bool, len(arts))
		for _, a := range arts {
			m, ok := snap.Stages[a.Stage]
			if !ok {
				continue
			}
			seen[a.Stage] = true
			recent := lookbackHours > 0 && !a.ProducedAt.Before(cutoff)
			if recent {
				m.Recent++
			}
			switch a.Status {
			case model.ArtifactDone:
				m.Done++
			case model.ArtifactFailed:
				m.Failed++
				snap.FailuresByKind[a.FailureKind]++
				if recent {
					m.RecentFailed++
				}
			case model.ArtifactSkipped:
				m.Skipped++
				if a.FailureKind == model.FailureConfiguration {
					snap.Unconfigured[a.Stage]++
				}
			default:
				m.Pending++
			}
		}
		for _, st := range model.Stages {
			if !seen[st] {
				snap.Stages[st].Pending++
			}
		}
	}

	for _, m := range snap.Stages {
		if finished := m.Done + m.Failed; finished > 0 {
			m.FailRate = float64(m.Failed) / float64(finished)
		}
	}
	return snap, nil
}
