package critical

import (
	"context"
	"sync"

	"radiology-workflow/internal/models"
)

type MockSender struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, msg Message) error
	Sent     []Message
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

type MockResolver struct {
	ResolveFunc func(ctx context.Context, event *models.CriticalValueEvent, recipientType models.RecipientType) ([]string, error)
}

func (m *MockResolver) Resolve(ctx context.Context, event *models.CriticalValueEvent, recipientType models.RecipientType) ([]string, error) {
	return m.ResolveFunc(ctx, event, recipientType)
}
