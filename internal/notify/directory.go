package notify

import (
	"context"
	"sort"
	"sync"

	"radiology-workflow/internal/models"
)

// Directory is the contact book used by the transports and the
// role-based recipient resolver. It is safe for concurrent use and can be
// replaced wholesale on catalog reload.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]models.Contact
}

func NewDirectory(contacts []models.Contact) *Directory {
	d := &Directory{}
	d.Replace(contacts)
	return d
}

func (d *Directory) Replace(contacts []models.Contact) {
	next := make(map[string]models.Contact, len(contacts))
	for _, c := range contacts {
		next[c.UserID] = c
	}
	d.mu.Lock()
	d.contacts = next
	d.mu.Unlock()
}

func (d *Directory) Lookup(userID string) (models.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[userID]
	return c, ok
}

// Resolve returns the ids of every contact holding the role, sorted.
func (d *Directory) Resolve(ctx context.Context, event *models.CriticalValueEvent, recipientType models.RecipientType) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, c := range d.contacts {
		if c.HasRole(recipientType) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}
