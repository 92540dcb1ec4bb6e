package workflow

import (
	"context"
	"sync"

	"radiology-workflow/internal/critical"
)

type MockSender struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, msg critical.Message) error
	Sent     []critical.Message
}

func (m *MockSender) Send(ctx context.Context, msg critical.Message) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

func (m *MockSender) Recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, msg := range m.Sent {
		out[i] = msg.Notification.RecipientID + "/" + string(msg.Notification.Channel)
	}
	return out
}
