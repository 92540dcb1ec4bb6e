package workflow

import (
	"context"
	"errors"
	"fmt"

	"radiology-workflow/internal/models"
)

// CheckEscalations collects due escalations from the critical-value
// processor and executes them. Execution failures are joined into the
// returned error; the escalations are returned either way.
func (e *Engine) CheckEscalations(ctx context.Context) ([]models.Escalation, error) {
	escalations := e.critical.CheckEscalations()
	if len(escalations) == 0 {
		return nil, nil
	}
	return escalations, e.ExecuteEscalations(ctx, escalations)
}

// ExecuteEscalations carries out each escalation's action.
func (e *Engine) ExecuteEscalations(ctx context.Context, escalations []models.Escalation) error {
	var errs []error
	for _, esc := range escalations {
		if err := e.executeEscalation(esc); err != nil {
			errs = append(errs, fmt.Errorf("escalation %s/%s/%d: %w", esc.EventID, esc.PolicyID, esc.RuleIndex, err))
			continue
		}
		e.emit(models.EventEscalationTriggered, esc.StudyID, models.EscalationPayload{Escalation: esc})
	}
	return errors.Join(errs...)
}

func (e *Engine) executeEscalation(esc models.Escalation) error {
	rule := esc.Rule
	switch rule.Action {
	case models.EscalationNotifyBackup:
		channels := rule.Channels
		if len(channels) == 0 {
			channels = []models.Channel{models.ChannelInApp}
		}
		_, err := e.critical.Notify(esc.EventID, rule.Recipients, channels)
		return err

	case models.EscalationAddChannel:
		records, err := e.critical.EventNotifications(esc.EventID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		var recipients []string
		for _, r := range records {
			if !seen[r.RecipientID] {
				seen[r.RecipientID] = true
				recipients = append(recipients, r.RecipientID)
			}
		}
		_, err = e.critical.Notify(esc.EventID, recipients, rule.Channels)
		return err

	case models.EscalationNotifyAdmin:
		recipients := rule.Recipients
		if len(recipients) == 0 {
			if e.cfg.AdminRecipient == "" {
				return fmt.Errorf("%w: no admin recipient configured", models.ErrConfiguration)
			}
			recipients = []string{e.cfg.AdminRecipient}
		}
		channels := rule.Channels
		if len(channels) == 0 {
			channels = e.cfg.AdminChannels
		}
		_, err := e.critical.Notify(esc.EventID, recipients, channels)
		return err

	case models.EscalationRaiseSeverity:
		// Events are immutable; the study's open work is raised instead.
		e.raiseStudyPriority(esc.StudyID)
		return nil

	default:
		return fmt.Errorf("%w: unknown escalation action %q", models.ErrConfiguration, rule.Action)
	}
}
