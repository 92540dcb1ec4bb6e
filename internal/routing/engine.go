package routing

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"radiology-workflow/internal/models"
)

// Engine matches studies against routing rules and the reviewer roster.
// Rules and roster are guarded by one lock so a decision never observes a
// half-updated workload.
type Engine struct {
	mu        sync.RWMutex
	rules     []*models.RoutingRule
	reviewers map[string]*models.Reviewer
	workload  map[string]int
	logger    *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		reviewers: make(map[string]*models.Reviewer),
		workload:  make(map[string]int),
		logger:    logger,
	}
}

// RouteStudy evaluates active rules in descending priority order and applies
// the first one whose conditions all hold. Without a match the study goes to
// the least-loaded General reviewer, or to the general pool.
func (e *Engine) RouteStudy(study *models.Study, priority models.RoutingPriority) (*models.RoutingResult, error) {
	if study == nil {
		return nil, fmt.Errorf("study cannot be nil")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if !rule.Active || !e.ruleMatches(rule, study, priority) {
			continue
		}
		result, err := e.applyAction(rule, study, priority)
		if err != nil {
			return nil, err
		}
		e.logger.Info("study routed",
			"study_id", study.ID,
			"rule_id", rule.ID,
			"reviewer_id", result.ReviewerID,
			"queue", result.QueueName,
		)
		return result, nil
	}

	result := e.defaultRouting(study, priority)
	e.logger.Info("study routed by default",
		"study_id", study.ID,
		"reviewer_id", result.ReviewerID,
		"queue", result.QueueName,
	)
	return result, nil
}

func (e *Engine) ruleMatches(rule *models.RoutingRule, study *models.Study, priority models.RoutingPriority) bool {
	for _, c := range rule.Conditions {
		if !conditionMatches(c, study, priority) {
			return false
		}
	}
	return true
}

func conditionMatches(c models.RuleCondition, study *models.Study, priority models.RoutingPriority) bool {
	switch c.Kind {
	case models.ConditionModalityEquals:
		return study.Modality == c.Value
	case models.ConditionModalityIn:
		for _, m := range c.Values {
			if m == study.Modality {
				return true
			}
		}
		return false
	case models.ConditionDescriptionContains:
		if study.Description == "" {
			return false
		}
		// Casers keep state, so each evaluation gets its own.
		fold := cases.Fold()
		return strings.Contains(fold.String(study.Description), fold.String(c.Value))
	case models.ConditionEmergency:
		return priority == models.RoutingEmergency
	case models.ConditionRoutine:
		return priority == models.RoutingRoutine
	case models.ConditionTimeRange:
		// Placeholder: time windows are accepted but not evaluated yet.
		return true
	default:
		return false
	}
}

func (e *Engine) applyAction(rule *models.RoutingRule, study *models.Study, priority models.RoutingPriority) (*models.RoutingResult, error) {
	result := &models.RoutingResult{
		StudyID:  study.ID,
		Priority: priority,
		RuleID:   rule.ID,
	}

	switch rule.Action.Kind {
	case models.ActionAssignToReviewer:
		r, ok := e.reviewers[rule.Action.Target]
		if !ok {
			return nil, fmt.Errorf("%w: reviewer %s not found", models.ErrRouting, rule.Action.Target)
		}
		if !r.Available {
			return nil, fmt.Errorf("%w: reviewer %s is not available", models.ErrRouting, r.ID)
		}
		result.ReviewerID = r.ID
		result.Reason = fmt.Sprintf("assigned to reviewer %s by rule %s", r.Name, rule.Name)

	case models.ActionAssignToSpecialty:
		result.ReviewerID = e.leastLoaded(rule.Action.Target)
		if result.ReviewerID == "" {
			result.Reason = fmt.Sprintf("no available %s reviewer for rule %s", rule.Action.Target, rule.Name)
		} else {
			result.Reason = fmt.Sprintf("assigned to specialty %s by rule %s", rule.Action.Target, rule.Name)
		}

	case models.ActionQueue:
		result.QueueName = rule.Action.Target
		result.Reason = fmt.Sprintf("queued in %s by rule %s", rule.Action.Target, rule.Name)

	case models.ActionNotifyAdmin:
		result.QueueName = models.AdminReviewQueue
		result.Reason = fmt.Sprintf("admin review requested by rule %s", rule.Name)

	default:
		return nil, fmt.Errorf("%w: rule %s has unknown action %q", models.ErrConfiguration, rule.ID, rule.Action.Kind)
	}

	return result, nil
}

func (e *Engine) defaultRouting(study *models.Study, priority models.RoutingPriority) *models.RoutingResult {
	result := &models.RoutingResult{
		StudyID:  study.ID,
		Priority: priority,
		Reason:   "default routing applied",
	}
	result.ReviewerID = e.leastLoaded(models.GeneralSpecialty)
	if result.ReviewerID == "" {
		result.QueueName = models.GeneralPoolQueue
	}
	return result
}

// leastLoaded picks the eligible reviewer with the lowest workload. Equal
// workloads go to the lowest reviewer id. Callers hold e.mu.
func (e *Engine) leastLoaded(specialty string) string {
	best := ""
	minLoad := 0
	for id, r := range e.reviewers {
		if !r.Available || !r.HasSpecialty(specialty) {
			continue
		}
		load := e.workload[id]
		if load >= r.MaxWorkload {
			continue
		}
		if best == "" || load < minLoad || (load == minLoad && id < best) {
			best = id
			minLoad = load
		}
	}
	return best
}

// AddRule inserts a rule keeping descending priority order; equal
// priorities keep insertion order.
func (e *Engine) AddRule(rule *models.RoutingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("%w: duplicate rule id %s", models.ErrConfiguration, rule.ID)
		}
	}
	e.rules = append(e.rules, rule.Clone())
	sortRules(e.rules)
	return nil
}

// ReplaceRules swaps the whole rule set. Nothing changes if any rule is invalid.
func (e *Engine) ReplaceRules(rules []*models.RoutingRule) error {
	next := make([]*models.RoutingRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %s", models.ErrConfiguration, r.ID)
		}
		seen[r.ID] = true
		next = append(next, r.Clone())
	}
	sortRules(next)

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	return nil
}

func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
}

// Rules returns copies of the rules in evaluation order.
func (e *Engine) Rules() []*models.RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.RoutingRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Clone()
	}
	return out
}

func sortRules(rules []*models.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}
