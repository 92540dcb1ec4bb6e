package critical

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"radiology-workflow/internal/models"
)

var detected = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func lifeThreateningPolicy() *models.CriticalValuePolicy {
	return &models.CriticalValuePolicy{
		ID:         "lt",
		Name:       "Life threatening",
		ValueTypes: []models.CriticalValueType{models.ValueLifeThreatening},
		Active:     true,
		NotificationRules: []models.NotificationRule{
			{
				RecipientType: models.RecipientSpecificUser,
				RecipientID:   "dr-house",
				Channels:      []models.Channel{models.ChannelInApp, models.ChannelPager},
			},
		},
		EscalationRules: []models.EscalationRule{
			{
				Condition:    models.EscalateNotDelivered,
				Action:       models.EscalationNotifyBackup,
				TriggerAfter: 15 * time.Minute,
				Recipients:   []string{"dr-wilson"},
			},
		},
	}
}

func setupProcessor(t *testing.T, sender Sender, policies ...*models.CriticalValuePolicy) (*Processor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: detected}
	n := 0
	p := NewProcessor(sender, WithClock(clock.Now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}))
	for _, policy := range policies {
		if err := p.AddPolicy(policy); err != nil {
			t.Fatalf("AddPolicy: %v", err)
		}
	}
	return p, clock
}

func newEvent(valueType models.CriticalValueType) NewEvent {
	return NewEvent{
		StudyID:     "study-1",
		PatientID:   "patient-1",
		ValueType:   valueType,
		Description: "Tension pneumothorax",
		DetectedBy:  "dr-cuddy",
		Severity:    models.SeverityCritical,
		DetectedAt:  detected,
	}
}

func TestCreateEvent_QueuesOneRecordPerRecipientChannel(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())

	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	records, err := p.EventNotifications(ev.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Status != models.NotificationPending || r.RecipientID != "dr-house" || r.RetryCount != 0 {
			t.Errorf("Unexpected record %+v", r)
		}
	}
	if p.QueueLength() != 2 {
		t.Errorf("Expected queue length 2, got %d", p.QueueLength())
	}
}

func TestCreateEvent_NoMatchingPolicy(t *testing.T) {
	inactive := lifeThreateningPolicy()
	inactive.ID = "off"
	inactive.Active = false
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy(), inactive)

	ev := p.CreateEvent(context.Background(), newEvent(models.ValueUrgent))
	records, err := p.EventNotifications(ev.ID)
	if err != nil {
		t.Fatalf("Expected event to be known, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
	if got := p.UnacknowledgedEvents(); len(got) != 1 {
		t.Errorf("Expected event counted as unacknowledged, got %d", len(got))
	}
}

func TestCreateEvent_RoleRecipients(t *testing.T) {
	policy := lifeThreateningPolicy()
	policy.NotificationRules = append(policy.NotificationRules, models.NotificationRule{
		RecipientType: models.RecipientReferringPhysician,
		Channels:      []models.Channel{models.ChannelEmail},
	})

	t.Run("skipped without resolver", func(t *testing.T) {
		p, _ := setupProcessor(t, &MockSender{}, policy)
		ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
		records, _ := p.EventNotifications(ev.ID)
		if len(records) != 2 {
			t.Errorf("Expected only specific-user records, got %d", len(records))
		}
	})

	t.Run("resolved", func(t *testing.T) {
		p, _ := setupProcessor(t, &MockSender{}, policy)
		p.resolver = &MockResolver{
			ResolveFunc: func(ctx context.Context, ev *models.CriticalValueEvent, rt models.RecipientType) ([]string, error) {
				if rt != models.RecipientReferringPhysician {
					return nil, errors.New("unexpected type")
				}
				return []string{"dr-foreman", "dr-chase"}, nil
			},
		}
		ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
		records, _ := p.EventNotifications(ev.ID)
		if len(records) != 4 {
			t.Errorf("Expected 4 records, got %d", len(records))
		}
	})
}

func TestProcessNotificationQueue_Success(t *testing.T) {
	sender := &MockSender{}
	p, _ := setupProcessor(t, sender, lifeThreateningPolicy())
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	res := p.ProcessNotificationQueue(context.Background())
	if res.Sent != 2 || res.Retrying != 0 || res.Failed != 0 {
		t.Errorf("Unexpected result %+v", res)
	}
	if sender.Calls() != 2 {
		t.Errorf("Expected 2 sends, got %d", sender.Calls())
	}
	if sender.Sent[0].Event.ID != ev.ID {
		t.Errorf("Expected message to carry the event")
	}
	records, _ := p.EventNotifications(ev.ID)
	for _, r := range records {
		if r.Status != models.NotificationSent || r.SentAt == nil {
			t.Errorf("Expected sent record, got %+v", r)
		}
	}
	if p.QueueLength() != 0 {
		t.Errorf("Expected empty queue, got %d", p.QueueLength())
	}
}

func TestProcessNotificationQueue_RetriesThenFails(t *testing.T) {
	sender := &MockSender{SendFunc: func(ctx context.Context, msg Message) error {
		return errors.New("pager gateway down")
	}}
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Channels = []models.Channel{models.ChannelPager}
	p, _ := setupProcessor(t, sender, policy)
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	wantRetry := []int{1, 2, 3}
	for i, want := range wantRetry {
		res := p.ProcessNotificationQueue(context.Background())
		records, _ := p.EventNotifications(ev.ID)
		r := records[0]
		if r.RetryCount != want {
			t.Fatalf("drain %d: expected retry count %d, got %d", i+1, want, r.RetryCount)
		}
		if r.Error != "pager gateway down" {
			t.Errorf("drain %d: expected error recorded, got %q", i+1, r.Error)
		}
		if want < MaxAttempts {
			if r.Status != models.NotificationPending || res.Retrying != 1 || p.QueueLength() != 1 {
				t.Errorf("drain %d: expected requeued pending record, got %s %+v", i+1, r.Status, res)
			}
		} else {
			if r.Status != models.NotificationFailed || res.Failed != 1 || p.QueueLength() != 0 {
				t.Errorf("drain %d: expected failed and dropped, got %s %+v", i+1, r.Status, res)
			}
		}
	}

	p.ProcessNotificationQueue(context.Background())
	if sender.Calls() != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", sender.Calls())
	}
}

func TestProcessNotificationQueue_RecoveryAfterFailure(t *testing.T) {
	attempts := 0
	sender := &MockSender{SendFunc: func(ctx context.Context, msg Message) error {
		attempts++
		if attempts == 1 {
			return errors.New("timeout")
		}
		return nil
	}}
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Channels = []models.Channel{models.ChannelSMS}
	p, _ := setupProcessor(t, sender, policy)
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	p.ProcessNotificationQueue(context.Background())
	p.ProcessNotificationQueue(context.Background())

	records, _ := p.EventNotifications(ev.ID)
	if records[0].Status != models.NotificationSent || records[0].RetryCount != 1 || records[0].Error != "" {
		t.Errorf("Expected sent after one retry, got %+v", records[0])
	}
}

func TestProcessNotificationQueue_HonoursDelay(t *testing.T) {
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Delay = 10 * time.Minute
	sender := &MockSender{}
	p, clock := setupProcessor(t, sender, policy)
	p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	res := p.ProcessNotificationQueue(context.Background())
	if res.Deferred != 2 || sender.Calls() != 0 {
		t.Errorf("Expected both records deferred, got %+v with %d sends", res, sender.Calls())
	}

	clock.Set(detected.Add(10 * time.Minute))
	res = p.ProcessNotificationQueue(context.Background())
	if res.Sent != 2 {
		t.Errorf("Expected both records sent once due, got %+v", res)
	}
}

func TestProcessNotificationQueue_CanceledContextRequeues(t *testing.T) {
	sender := &MockSender{}
	p, _ := setupProcessor(t, sender, lifeThreateningPolicy())
	p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.ProcessNotificationQueue(ctx)
	if sender.Calls() != 0 || res.Deferred != 2 || p.QueueLength() != 2 {
		t.Errorf("Expected nothing sent and queue intact, got %+v, %d sends", res, sender.Calls())
	}
}

func TestProcessNotificationQueue_AckDuringSendIsKept(t *testing.T) {
	var p *Processor
	var eventID string
	sender := &MockSender{SendFunc: func(ctx context.Context, msg Message) error {
		if _, err := p.Acknowledge(eventID, "dr-house"); err != nil {
			t.Errorf("Acknowledge during send: %v", err)
		}
		return errors.New("late failure")
	}}
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Channels = []models.Channel{models.ChannelInApp}
	p, _ = setupProcessor(t, sender, policy)
	eventID = p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening)).ID

	p.ProcessNotificationQueue(context.Background())

	records, _ := p.EventNotifications(eventID)
	if records[0].Status != models.NotificationAcknowledged {
		t.Errorf("Expected acknowledged to stick, got %s", records[0].Status)
	}
	if records[0].RetryCount != 0 {
		t.Errorf("Expected no retry counted after acknowledgment, got %d", records[0].RetryCount)
	}
	if p.QueueLength() != 0 {
		t.Errorf("Expected nothing requeued, got %d", p.QueueLength())
	}
}

func TestAcknowledge(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
	p.ProcessNotificationQueue(context.Background())

	rec, err := p.Acknowledge(ev.ID, "dr-house")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rec.Status != models.NotificationAcknowledged {
		t.Errorf("Expected acknowledged, got %s", rec.Status)
	}

	// Second record for the same user is still open.
	if _, err := p.Acknowledge(ev.ID, "dr-house"); err != nil {
		t.Fatalf("Expected second record to be acknowledged, got %v", err)
	}
	if _, err := p.Acknowledge(ev.ID, "dr-house"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound once all records are acknowledged, got %v", err)
	}

	records, _ := p.EventNotifications(ev.ID)
	for _, r := range records {
		if r.Status != models.NotificationAcknowledged {
			t.Errorf("Expected acknowledged status to persist, got %s", r.Status)
		}
	}

	if _, err := p.Acknowledge(ev.ID, "dr-nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := p.Acknowledge("missing", "dr-house"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown event, got %v", err)
	}
	if n := len(p.UnacknowledgedEvents()); n != 0 {
		t.Errorf("Expected no unacknowledged events, got %d", n)
	}
}

func TestAcknowledge_FailedRecordNeverMatches(t *testing.T) {
	sender := &MockSender{SendFunc: func(ctx context.Context, msg Message) error { return errors.New("down") }}
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Channels = []models.Channel{models.ChannelPager}
	p, _ := setupProcessor(t, sender, policy)
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
	for i := 0; i < MaxAttempts; i++ {
		p.ProcessNotificationQueue(context.Background())
	}
	if _, err := p.Acknowledge(ev.ID, "dr-house"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for failed record, got %v", err)
	}
}

func TestCheckEscalations_Threshold(t *testing.T) {
	sender := &MockSender{}
	policy := lifeThreateningPolicy()
	policy.NotificationRules[0].Channels = []models.Channel{models.ChannelPager}
	p, clock := setupProcessor(t, sender, policy)
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	clock.Set(detected.Add(15*time.Minute - time.Millisecond))
	if got := p.CheckEscalations(); len(got) != 0 {
		t.Fatalf("Expected no escalation before threshold, got %d", len(got))
	}

	clock.Set(detected.Add(15 * time.Minute))
	got := p.CheckEscalations()
	if len(got) != 1 {
		t.Fatalf("Expected 1 escalation at threshold, got %d", len(got))
	}
	esc := got[0]
	if esc.EventID != ev.ID || esc.StudyID != "study-1" || esc.PolicyID != "lt" || esc.Rule.Action != models.EscalationNotifyBackup {
		t.Errorf("Unexpected escalation %+v", esc)
	}
	if len(esc.Rule.Recipients) != 1 || esc.Rule.Recipients[0] != "dr-wilson" {
		t.Errorf("Expected backup recipient carried, got %v", esc.Rule.Recipients)
	}

	clock.Set(detected.Add(time.Hour))
	if again := p.CheckEscalations(); len(again) != 0 {
		t.Errorf("Expected escalation to fire once, got %d more", len(again))
	}
}

func TestCheckEscalations_Conditions(t *testing.T) {
	tests := []struct {
		name      string
		condition models.EscalationCondition
		receipt   models.NotificationStatus
		ack       bool
		want      int
	}{
		{name: "not delivered while sent", condition: models.EscalateNotDelivered, want: 1},
		{name: "delivered suppresses not delivered", condition: models.EscalateNotDelivered, receipt: models.NotificationDelivered, want: 0},
		{name: "read suppresses not delivered", condition: models.EscalateNotDelivered, receipt: models.NotificationRead, want: 0},
		{name: "not acknowledged", condition: models.EscalateNotAcknowledged, receipt: models.NotificationRead, want: 1},
		{name: "acknowledged suppresses", condition: models.EscalateNotAcknowledged, ack: true, want: 0},
		{name: "no response is not evaluated", condition: models.EscalateNoResponse, want: 0},
		{name: "recipient unavailable is not evaluated", condition: models.EscalateRecipientUnavailable, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := lifeThreateningPolicy()
			policy.NotificationRules[0].Channels = []models.Channel{models.ChannelInApp}
			policy.EscalationRules = []models.EscalationRule{{
				Condition:    tt.condition,
				Action:       models.EscalationNotifyAdmin,
				TriggerAfter: 5 * time.Minute,
			}}
			p, clock := setupProcessor(t, &MockSender{}, policy)
			ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
			p.ProcessNotificationQueue(context.Background())

			records, _ := p.EventNotifications(ev.ID)
			if tt.receipt != "" {
				if err := p.UpdateDeliveryStatus(records[0].ID, models.NotificationDelivered); err != nil {
					t.Fatalf("UpdateDeliveryStatus: %v", err)
				}
				if tt.receipt == models.NotificationRead {
					if err := p.UpdateDeliveryStatus(records[0].ID, models.NotificationRead); err != nil {
						t.Fatalf("UpdateDeliveryStatus: %v", err)
					}
				}
			}
			if tt.ack {
				if _, err := p.Acknowledge(ev.ID, "dr-house"); err != nil {
					t.Fatalf("Acknowledge: %v", err)
				}
			}

			clock.Set(detected.Add(5 * time.Minute))
			if got := p.CheckEscalations(); len(got) != tt.want {
				t.Errorf("Expected %d escalations, got %d", tt.want, len(got))
			}
		})
	}
}

func TestUpdateDeliveryStatus_OnlyForward(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
	records, _ := p.EventNotifications(ev.ID)
	id := records[0].ID

	if err := p.UpdateDeliveryStatus(id, models.NotificationDelivered); err == nil {
		t.Error("Expected pending record to reject a delivery receipt")
	}
	p.ProcessNotificationQueue(context.Background())
	if err := p.UpdateDeliveryStatus(id, models.NotificationRead); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := p.UpdateDeliveryStatus(id, models.NotificationDelivered); err == nil {
		t.Error("Expected backwards receipt to fail")
	}
	if err := p.UpdateDeliveryStatus(id, models.NotificationAcknowledged); err == nil {
		t.Error("Expected acknowledgment through receipts to fail")
	}
	if err := p.UpdateDeliveryStatus("missing", models.NotificationRead); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestNotify(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))

	recs, err := p.Notify(ev.ID, []string{"dr-wilson", "dr-cameron"}, []models.Channel{models.ChannelSMS})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Expected 2 records, got %d", len(recs))
	}
	if p.QueueLength() != 4 {
		t.Errorf("Expected 4 queued, got %d", p.QueueLength())
	}
	if got := p.RecipientNotifications("dr-wilson"); len(got) != 1 {
		t.Errorf("Expected 1 notification for dr-wilson, got %d", len(got))
	}
	if _, err := p.Notify("missing", []string{"x"}, []models.Channel{models.ChannelSMS}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPolicies(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())

	if err := p.AddPolicy(lifeThreateningPolicy()); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected duplicate policy rejected, got %v", err)
	}
	bad := lifeThreateningPolicy()
	bad.ID = "bad"
	bad.EscalationRules[0].Recipients = nil
	if err := p.AddPolicy(bad); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected backup escalation without recipients rejected, got %v", err)
	}
	if err := p.ReplacePolicies([]*models.CriticalValuePolicy{bad}); err == nil {
		t.Error("Expected ReplacePolicies to reject invalid policy")
	}
	if n := len(p.Policies()); n != 1 {
		t.Errorf("Expected policies unchanged, got %d", n)
	}
	if err := p.ReplacePolicies(nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n := len(p.Policies()); n != 0 {
		t.Errorf("Expected no policies, got %d", n)
	}
}

func TestEventIsImmutableCopy(t *testing.T) {
	p, _ := setupProcessor(t, &MockSender{}, lifeThreateningPolicy())
	ev := p.CreateEvent(context.Background(), newEvent(models.ValueLifeThreatening))
	ev.Severity = models.SeverityLow

	stored, err := p.Event(ev.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stored.Severity != models.SeverityCritical {
		t.Errorf("Expected stored event unchanged, got %s", stored.Severity)
	}
	if _, err := p.Event("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
