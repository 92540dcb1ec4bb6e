// Package metrics exposes workflow activity as Prometheus collectors. The
// Collector is fed by the domain-event drain and by periodic overview
// snapshots; it never reaches into the engines itself.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/workflow"
)

const namespace = "radiology_workflow"

type Collector struct {
	registry *prometheus.Registry

	domainEvents  *prometheus.CounterVec
	studiesRouted *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	notifications *prometheus.CounterVec

	activeWorkItems  prometheus.Gauge
	unacknowledged   prometheus.Gauge
	availableReviews prometheus.Gauge
	queuedNotices    prometheus.Gauge
	systemLoad       prometheus.Gauge
}

// New registers the workflow collectors plus the Go and process collectors
// on a private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		domainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Domain events drained from the workflow outbox.",
		}, []string{"type"}),
		studiesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "studies_routed_total",
			Help:      "Studies routed, by outcome.",
		}, []string{"outcome", "priority"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation rules triggered, by action.",
		}, []string{"action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_attempts_total",
			Help:      "Notification delivery attempts, by result.",
		}, []string{"result"}),
		activeWorkItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_work_items",
			Help:      "Work items pending or in progress.",
		}),
		unacknowledged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unacknowledged_critical_values",
			Help:      "Critical-value events without an acknowledgment.",
		}),
		availableReviews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_reviewers",
			Help:      "Reviewers currently available.",
		}),
		queuedNotices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_notifications",
			Help:      "Notification records waiting in the queue.",
		}),
		systemLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_load_ratio",
			Help:      "Current workload over capacity of available reviewers.",
		}),
	}
	c.registry.MustRegister(
		c.domainEvents, c.studiesRouted, c.escalations, c.notifications,
		c.activeWorkItems, c.unacknowledged, c.availableReviews, c.queuedNotices, c.systemLoad,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Publish counts drained domain events.
func (c *Collector) Publish(ctx context.Context, batch []models.DomainEvent) error {
	for _, ev := range batch {
		c.domainEvents.WithLabelValues(string(ev.Type)).Inc()
		switch ev.Type {
		case models.EventStudyRouted:
			var p models.StudyRoutedPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			outcome := "unrouted"
			switch {
			case p.Result.Assigned():
				outcome = "assigned"
			case p.Result.QueueName != "":
				outcome = "queued"
			}
			c.studiesRouted.WithLabelValues(outcome, string(p.Result.Priority)).Inc()
		case models.EventEscalationTriggered:
			var p models.EscalationPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			c.escalations.WithLabelValues(string(p.Escalation.Rule.Action)).Inc()
		}
	}
	return nil
}

// ObserveDrain counts the outcome of one notification queue pass.
func (c *Collector) ObserveDrain(res critical.DrainResult) {
	c.notifications.WithLabelValues("sent").Add(float64(res.Sent))
	c.notifications.WithLabelValues("retrying").Add(float64(res.Retrying))
	c.notifications.WithLabelValues("failed").Add(float64(res.Failed))
	c.notifications.WithLabelValues("deferred").Add(float64(res.Deferred))
}

func (c *Collector) ObserveOverview(o workflow.SystemOverview) {
	c.activeWorkItems.Set(float64(o.ActiveWorkItems))
	c.unacknowledged.Set(float64(o.UnacknowledgedCriticalValues))
	c.availableReviews.Set(float64(o.AvailableReviewers))
	c.queuedNotices.Set(float64(o.QueuedNotifications))
	c.systemLoad.Set(o.SystemLoad)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
