package workflow

// SystemOverview is a point-in-time summary of the workflow core.
type SystemOverview struct {
	ActiveWorkItems              int     `json:"active_work_items"`
	UnacknowledgedCriticalValues int     `json:"unacknowledged_critical_values"`
	AvailableReviewers           int     `json:"available_reviewers"`
	QueuedNotifications          int     `json:"queued_notifications"`
	SystemLoad                   float64 `json:"system_load"`
}

// SystemOverview reports system load as aggregate workload over aggregate
// max workload of available reviewers; 1.0 when there is no capacity.
func (e *Engine) SystemOverview() SystemOverview {
	capacity := e.router.Capacity()
	load := 1.0
	if capacity.MaxWorkload > 0 {
		load = float64(capacity.CurrentWorkload) / float64(capacity.MaxWorkload)
	}
	return SystemOverview{
		ActiveWorkItems:              len(e.worklist.ActiveItems()),
		UnacknowledgedCriticalValues: len(e.critical.UnacknowledgedEvents()),
		AvailableReviewers:           capacity.Available,
		QueuedNotifications:          e.critical.QueueLength(),
		SystemLoad:                   load,
	}
}
