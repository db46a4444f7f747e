// Package state keeps a history of resolution reports.
package state

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jobtracing/dbresolve/internal/resolver"
)

// Store defines the interface for history storage.
type Store interface {
	Append(report *resolver.Report) error
	List(limit int) ([]*resolver.Report, error)
	Close() error
}

// Pruner is implemented by stores that can drop old reports.
type Pruner interface {
	Prune(keep int) (int, error)
}

// DefaultMaxEntries is how many reports History keeps by default.
const DefaultMaxEntries = 100

// History records finished resolutions and answers questions about them.
type History struct {
	mu         sync.Mutex
	store      Store
	maxEntries int
	logger     zerolog.Logger
}

// NewHistory wraps store. maxEntries <= 0 disables pruning.
func NewHistory(store Store, maxEntries int, logger zerolog.Logger) *History {
	return &History{
		store:      store,
		maxEntries: maxEntries,
		logger:     logger.With().Str("component", "history").Logger(),
	}
}

// Record stores a terminal report and prunes old entries.
func (h *History) Record(report *resolver.Report) error {
	if h.store == nil || report == nil {
		return nil
	}
	if !report.State.IsTerminal() {
		return fmt.Errorf("report %s is not terminal (state %s)", report.ID, report.State)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Append(report); err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}

	if p, ok := h.store.(Pruner); ok && h.maxEntries > 0 {
		removed, err := p.Prune(h.maxEntries)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to prune history")
		} else if removed > 0 {
			h.logger.Debug().Int("removed", removed).Msg("Pruned history")
		}
	}
	return nil
}

// List returns up to limit reports, newest first.
func (h *History) List(limit int) ([]*resolver.Report, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.List(limit)
}

// Last returns the most recent report, or nil when there is none.
func (h *History) Last() (*resolver.Report, error) {
	reports, err := h.List(1)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return reports[0], nil
}

// LastResolved returns the most recent successful report, or nil.
func (h *History) LastResolved() (*resolver.Report, error) {
	reports, err := h.List(0)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if r.State == resolver.Resolved {
			return r, nil
		}
	}
	return nil, nil
}

// Stats counts stored reports by terminal state.
func (h *History) Stats() (Stats, error) {
	reports, err := h.List(0)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, r := range reports {
		s.Total++
		if r.State == resolver.Resolved {
			s.Resolved++
		} else {
			s.Exhausted++
		}
	}
	return s, nil
}

// Close closes the underlying store.
func (h *History) Close() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

// Stats summarizes stored history.
type Stats struct {
	Total     int `json:"total"`
	Resolved  int `json:"resolved"`
	Exhausted int `json:"exhausted"`
}

// SuccessRate returns the fraction of resolved reports.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Resolved) / float64(s.Total)
}
