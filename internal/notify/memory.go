package notify

import (
	"context"
	"errors"
	"sync"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

// ErrInjected is returned by Memory for channels set to fail.
var ErrInjected = errors.New("injected delivery failure")

// Memory keeps every delivered message. Channels marked with Fail reject
// deliveries with ErrInjected.
type Memory struct {
	mu       sync.Mutex
	messages []critical.Message
	failing  map[models.Channel]bool
}

func NewMemory() *Memory {
	return &Memory{failing: make(map[models.Channel]bool)}
}

func (m *Memory) Send(ctx context.Context, msg critical.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing[msg.Notification.Channel] {
		return ErrInjected
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Fail makes deliveries on ch fail until Recover is called.
func (m *Memory) Fail(ch models.Channel) {
	m.mu.Lock()
	m.failing[ch] = true
	m.mu.Unlock()
}

func (m *Memory) Recover(ch models.Channel) {
	m.mu.Lock()
	delete(m.failing, ch)
	m.mu.Unlock()
}

// Messages returns the delivered messages in order.
func (m *Memory) Messages() []critical.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]critical.Message(nil), m.messages...)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}
