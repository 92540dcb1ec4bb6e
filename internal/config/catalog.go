package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"radiology-workflow/internal/models"
)

//go:embed sample_catalog.yaml
var sampleCatalog string

// SampleCatalog returns an example catalog document.
func SampleCatalog() string {
	return sampleCatalog
}

// Duration wraps time.Duration for YAML values such as "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ReviewerEntry describes a reviewer. Available defaults to true.
type ReviewerEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Specialties []string `yaml:"specialties"`
	MaxWorkload int      `yaml:"max_workload"`
	Available   *bool    `yaml:"available,omitempty"`
}

// RuleEntry describes a routing rule. Active defaults to true.
type RuleEntry struct {
	ID         string                 `yaml:"id"`
	Name       string                 `yaml:"name"`
	Priority   int                    `yaml:"priority"`
	Active     *bool                  `yaml:"active,omitempty"`
	Conditions []models.RuleCondition `yaml:"conditions"`
	Action     models.RuleAction      `yaml:"action"`
}

type NotificationEntry struct {
	RecipientType         string   `yaml:"recipient_type"`
	RecipientID           string   `yaml:"recipient_id,omitempty"`
	Channels              []string `yaml:"channels"`
	Delay                 Duration `yaml:"delay,omitempty"`
	RequireAcknowledgment bool     `yaml:"require_acknowledgment"`
}

type EscalationEntry struct {
	Condition    string   `yaml:"condition"`
	Action       string   `yaml:"action"`
	TriggerAfter Duration `yaml:"trigger_after"`
	Recipients   []string `yaml:"recipients,omitempty"`
	Channels     []string `yaml:"channels,omitempty"`
}

// PolicyEntry describes a critical-value policy. Active defaults to true.
type PolicyEntry struct {
	ID            string              `yaml:"id"`
	Name          string              `yaml:"name"`
	Active        *bool               `yaml:"active,omitempty"`
	ValueTypes    []string            `yaml:"value_types"`
	Notifications []NotificationEntry `yaml:"notifications"`
	Escalations   []EscalationEntry   `yaml:"escalations"`
}

// CatalogFile is the YAML document: the roster, routing rules, policies
// and the contact directory.
type CatalogFile struct {
	Reviewers []ReviewerEntry  `yaml:"reviewers"`
	Rules     []RuleEntry      `yaml:"rules"`
	Policies  []PolicyEntry    `yaml:"policies"`
	Contacts  []models.Contact `yaml:"contacts"`
}

// LoadCatalog reads, converts and validates the catalog at path.
func LoadCatalog(path string) (*CatalogData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog converts and validates a YAML catalog document.
func ParseCatalog(data []byte) (*CatalogData, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %v", models.ErrConfiguration, err)
	}
	return file.Build()
}

// CatalogData holds catalog entries converted to model types.
type CatalogData struct {
	Reviewers []*models.Reviewer
	Rules     []*models.RoutingRule
	Policies  []*models.CriticalValuePolicy
	Contacts  []models.Contact
}

// Build converts every entry and validates the result as a whole. All
// problems are reported together.
func (f *CatalogFile) Build() (*CatalogData, error) {
	var errs []error
	out := &CatalogData{}

	reviewerIDs := make(map[string]bool)
	for i, e := range f.Reviewers {
		r, err := e.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("reviewers[%d]: %w", i, err))
			continue
		}
		if reviewerIDs[r.ID] {
			errs = append(errs, fmt.Errorf("reviewers[%d]: duplicate reviewer id %q", i, r.ID))
			continue
		}
		reviewerIDs[r.ID] = true
		out.Reviewers = append(out.Reviewers, r)
	}

	ruleIDs := make(map[string]bool)
	for i, e := range f.Rules {
		r := e.build()
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		if ruleIDs[r.ID] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule id %q", i, r.ID))
			continue
		}
		if r.Action.Kind == models.ActionAssignToReviewer && !reviewerIDs[r.Action.Target] {
			errs = append(errs, fmt.Errorf("rules[%d]: rule %s names unknown reviewer %q", i, r.ID, r.Action.Target))
			continue
		}
		ruleIDs[r.ID] = true
		out.Rules = append(out.Rules, r)
	}

	policyIDs := make(map[string]bool)
	for i, e := range f.Policies {
		p, err := e.build()
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
			continue
		}
		if policyIDs[p.ID] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate policy id %q", i, p.ID))
			continue
		}
		policyIDs[p.ID] = true
		out.Policies = append(out.Policies, p)
	}

	contactIDs := make(map[string]bool)
	for i, c := range f.Contacts {
		c.UserID = strings.TrimSpace(c.UserID)
		if c.UserID == "" {
			errs = append(errs, fmt.Errorf("contacts[%d]: user_id is required", i))
			continue
		}
		if contactIDs[c.UserID] {
			errs = append(errs, fmt.Errorf("contacts[%d]: duplicate contact %q", i, c.UserID))
			continue
		}
		roles, err := parseRoles(c.Roles)
		if err != nil {
			errs = append(errs, fmt.Errorf("contacts[%d]: %w", i, err))
			continue
		}
		c.Roles = roles
		contactIDs[c.UserID] = true
		out.Contacts = append(out.Contacts, c)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: invalid catalog: %v", models.ErrConfiguration, errors.Join(errs...))
	}
	return out, nil
}

func (e ReviewerEntry) build() (*models.Reviewer, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return nil, errors.New("reviewer id is required")
	}
	if e.MaxWorkload <= 0 {
		return nil, fmt.Errorf("reviewer %s: max_workload must be positive", id)
	}
	available := true
	if e.Available != nil {
		available = *e.Available
	}
	return &models.Reviewer{
		ID:          id,
		Name:        e.Name,
		Specialties: append([]string(nil), e.Specialties...),
		MaxWorkload: e.MaxWorkload,
		Available:   available,
	}, nil
}

func (e RuleEntry) build() *models.RoutingRule {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	r := &models.RoutingRule{
		ID:         strings.TrimSpace(e.ID),
		Name:       e.Name,
		Priority:   e.Priority,
		Conditions: e.Conditions,
		Action:     e.Action,
		Active:     active,
	}
	return r.Clone()
}

func (e PolicyEntry) build() (*models.CriticalValuePolicy, error) {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	p := &models.CriticalValuePolicy{
		ID:     strings.TrimSpace(e.ID),
		Name:   e.Name,
		Active: active,
	}
	for _, v := range e.ValueTypes {
		t, err := models.ParseCriticalValueType(v)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		p.ValueTypes = append(p.ValueTypes, t)
	}
	for i, n := range e.Notifications {
		rt, err := models.ParseRecipientType(n.RecipientType)
		if err != nil {
			return nil, fmt.Errorf("policy %s notification %d: %w", p.ID, i, err)
		}
		channels, err := parseChannels(n.Channels)
		if err != nil {
			return nil, fmt.Errorf("policy %s notification %d: %w", p.ID, i, err)
		}
		p.NotificationRules = append(p.NotificationRules, models.NotificationRule{
			RecipientType:       rt,
			RecipientID:         n.RecipientID,
			Channels:            channels,
			Delay:               n.Delay.Duration(),
			RequireAcknowledged: n.RequireAcknowledgment,
		})
	}
	for i, esc := range e.Escalations {
		channels, err := parseChannels(esc.Channels)
		if err != nil {
			return nil, fmt.Errorf("policy %s escalation %d: %w", p.ID, i, err)
		}
		p.EscalationRules = append(p.EscalationRules, models.EscalationRule{
			Condition:    models.EscalationCondition(strings.TrimSpace(esc.Condition)),
			Action:       models.EscalationAction(strings.TrimSpace(esc.Action)),
			TriggerAfter: esc.TriggerAfter.Duration(),
			Recipients:   append([]string(nil), esc.Recipients...),
			Channels:     channels,
		})
	}
	return p, nil
}

func parseChannels(names []string) ([]models.Channel, error) {
	var out []models.Channel
	for _, name := range names {
		ch, err := models.ParseChannel(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func parseRoles(roles []models.RecipientType) ([]models.RecipientType, error) {
	out := make([]models.RecipientType, 0, len(roles))
	for _, r := range roles {
		rt, err := models.ParseRecipientType(string(r))
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}
