package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

const userAgent = "radiology-workflow/1.0"

// NtfySender posts notifications to an ntfy server. In-app messages go to
// the recipient's topic; email messages additionally ask ntfy to forward
// to the contact's address.
type NtfySender struct {
	baseURL   string
	client    *http.Client
	directory *Directory
}

func NewNtfySender(baseURL string, timeout time.Duration, directory *Directory) *NtfySender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfySender{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:    &http.Client{Timeout: timeout},
		directory: directory,
	}
}

func (n *NtfySender) Send(ctx context.Context, msg critical.Message) error {
	rec := msg.Notification
	contact, _ := n.directory.Lookup(rec.RecipientID)
	topic := contact.NtfyTopic
	if topic == "" {
		topic = rec.RecipientID
	}

	title, body := render(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/"+url.PathEscape(topic), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Tags", "rotating_light,critical_value")
	if msg.Event != nil {
		if p := ntfyPriority(msg.Event.Severity); p != "" {
			req.Header.Set("Priority", p)
		}
	}
	if rec.Channel == models.ChannelEmail {
		if contact.Email == "" {
			return fmt.Errorf("no email address for recipient %s", rec.RecipientID)
		}
		req.Header.Set("Email", contact.Email)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
