package routing

import (
	"fmt"
	"sort"

	"radiology-workflow/internal/models"
)

// AddReviewer registers a reviewer or replaces an existing entry. The
// current workload of a replaced reviewer is kept.
func (e *Engine) AddReviewer(r *models.Reviewer) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: reviewer needs an id", models.ErrConfiguration)
	}
	if r.MaxWorkload < 0 {
		return fmt.Errorf("%w: reviewer %s has negative max workload", models.ErrConfiguration, r.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.reviewers[r.ID] = r.Clone()
	if _, ok := e.workload[r.ID]; !ok {
		e.workload[r.ID] = 0
	}
	return nil
}

func (e *Engine) SetAvailability(id string, available bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.reviewers[id]
	if !ok {
		return fmt.Errorf("reviewer %s: %w", id, models.ErrNotFound)
	}
	r.Available = available
	e.logger.Info("reviewer availability changed", "reviewer_id", id, "available", available)
	return nil
}

func (e *Engine) Reviewer(id string) (*models.Reviewer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.reviewers[id]
	if !ok {
		return nil, fmt.Errorf("reviewer %s: %w", id, models.ErrNotFound)
	}
	return r.Clone(), nil
}

// Reviewers returns every registered reviewer sorted by id.
func (e *Engine) Reviewers() []*models.Reviewer {
	return e.collect(func(*models.Reviewer) bool { return true })
}

func (e *Engine) AvailableReviewers() []*models.Reviewer {
	return e.collect(func(r *models.Reviewer) bool { return r.Available })
}

func (e *Engine) collect(keep func(*models.Reviewer) bool) []*models.Reviewer {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*models.Reviewer
	for _, r := range e.reviewers {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Workload returns the reviewer's current count of assigned work; zero for
// unknown reviewers.
func (e *Engine) Workload(id string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workload[id]
}

// UpdateWorkload adjusts the reviewer's workload by delta, clamping at zero.
// Unknown reviewers are ignored.
func (e *Engine) UpdateWorkload(id string, delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.reviewers[id]; !ok {
		return
	}
	next := e.workload[id] + delta
	if next < 0 {
		next = 0
	}
	e.workload[id] = next
}

// Capacity summarises the roster for load reporting.
type Capacity struct {
	Available       int
	CurrentWorkload int
	MaxWorkload     int
}

// Capacity sums workload and max workload over available reviewers.
func (e *Engine) Capacity() Capacity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var c Capacity
	for id, r := range e.reviewers {
		if !r.Available {
			continue
		}
		c.Available++
		c.CurrentWorkload += e.workload[id]
		c.MaxWorkload += r.MaxWorkload
	}
	return c
}
