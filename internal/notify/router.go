package notify

import (
	"context"
	"fmt"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

// Router dispatches each message to the sender registered for its channel,
// or to the fallback when none is.
type Router struct {
	senders  map[models.Channel]critical.Sender
	fallback critical.Sender
}

func NewRouter(fallback critical.Sender) *Router {
	return &Router{senders: make(map[models.Channel]critical.Sender), fallback: fallback}
}

// Handle registers s for the given channels. Not safe to call once sending.
func (r *Router) Handle(s critical.Sender, channels ...models.Channel) *Router {
	for _, ch := range channels {
		r.senders[ch] = s
	}
	return r
}

func (r *Router) Send(ctx context.Context, msg critical.Message) error {
	if s, ok := r.senders[msg.Notification.Channel]; ok {
		return s.Send(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Send(ctx, msg)
	}
	return fmt.Errorf("no sender for channel %s", msg.Notification.Channel)
}
