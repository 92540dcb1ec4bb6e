package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"radiology-workflow/internal/api"
	"radiology-workflow/internal/config"
	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/daemon"
	"radiology-workflow/internal/logging"
	"radiology-workflow/internal/metrics"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/notify"
)

func TestBuildSender_DryRunLogsOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.DryRun = true
	cfg.Notifications.NtfyURL = "http://ntfy.invalid"

	sender, err := buildSender(&cfg, notify.NewDirectory(nil), logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := sender.(*notify.LogSender); !ok {
		t.Errorf("Expected log sender in dry-run mode, got %T", sender)
	}
}

func TestBuildSender_RoutesNtfy(t *testing.T) {
	var topics []string
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topics = append(topics, r.URL.Path)
	}))
	defer ntfy.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyURL = ntfy.URL
	dir := notify.NewDirectory([]models.Contact{{UserID: "dr-ibarra", NtfyTopic: "ibarra-alerts"}})

	sender, err := buildSender(&cfg, dir, logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	msg := critical.Message{
		Notification: &models.NotificationRecord{ID: "n-1", EventID: "cv-1", RecipientID: "dr-ibarra", Channel: models.ChannelInApp},
		Event:        &models.CriticalValueEvent{ID: "cv-1", StudyID: "S-1", Severity: models.SeverityHigh},
	}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Expected ntfy delivery, got %v", err)
	}
	if len(topics) != 1 || topics[0] != "/ibarra-alerts" {
		t.Errorf("Expected one post to /ibarra-alerts, got %v", topics)
	}

	// SMS has no transport configured and falls back to the log sender.
	msg.Notification.Channel = models.ChannelSMS
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Errorf("Expected fallback to succeed, got %v", err)
	}
}

// TestDaemonWiring drives a study through the HTTP surface and checks that a
// sweep journals the resulting events into SQLite.
func TestDaemonWiring(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "workflow.db")
	logger := logging.Discard()

	directory := notify.NewDirectory(nil)
	memory := notify.NewMemory()
	engine := buildEngine(&cfg, memory, directory, logger)

	catalog, err := config.ParseCatalog([]byte(config.SampleCatalog()))
	if err != nil {
		t.Fatalf("Expected sample catalog to parse, got %v", err)
	}
	if err := daemon.ApplyCatalog(engine, directory, catalog); err != nil {
		t.Fatalf("Expected catalog to apply, got %v", err)
	}

	collector := metrics.New()
	sinks, err := buildSinks(ctx, &cfg, collector, logger)
	if err != nil {
		t.Fatalf("Expected sinks, got %v", err)
	}
	defer sinks.Close()
	if sinks.store == nil {
		t.Fatalf("Expected store to be opened")
	}

	d := daemon.New(engine, sinks.publisher, collector, 0, logger)
	ts := httptest.NewServer(api.New(engine, api.WithEventLog(sinks.store), api.WithSweepStatus(d.Status)).Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"study":    map[string]any{"id": "S-100", "patient_id": "P-100", "modality": "MR", "description": "Brain w/o contrast"},
		"priority": "urgent",
	})
	resp, err := http.Post(ts.URL+"/api/studies", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create study: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	res := d.Sweep(ctx)
	if res.Published != 2 {
		t.Errorf("Expected routed and assigned events, got %d", res.Published)
	}

	item, err := sinks.store.ReviewerItems(ctx, "dr-lindqvist")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(item) != 1 || item[0].StudyID != "S-100" {
		t.Errorf("Expected S-100 journaled for dr-lindqvist, got %+v", item)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to read health: %v", err)
	}
	var health struct {
		Sweeps int64 `json:"sweeps"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Sweeps != 1 {
		t.Errorf("Expected 1 sweep in health, got %d", health.Sweeps)
	}

	resp, err = http.Get(ts.URL + "/api/studies/S-100/events")
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	defer resp.Body.Close()
	var page struct {
		Events []models.DomainEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("Failed to decode events: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].Type != models.EventStudyRouted || page.Events[1].Type != models.EventWorkItemAssigned {
		t.Errorf("Expected study.routed then workitem.assigned, got %+v", page.Events)
	}
}
