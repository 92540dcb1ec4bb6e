package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radiology-workflow/internal/config"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/routing"
	"radiology-workflow/internal/statemachine"
)

const (
	configFileName  = "radiology-workflow.toml"
	catalogFileName = "catalog.yaml"
)

func newCheckConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, source, err := ctx.loadCatalog()
			if err != nil {
				return fmt.Errorf("catalog %s: %w", source, err)
			}

			out := cmd.OutOrStdout()
			if ctx.configOK {
				fmt.Fprintf(out, "Config:   %s\n", ctx.configPath)
			} else {
				fmt.Fprintf(out, "Config:   defaults (%s not found)\n", ctx.configPath)
			}
			fmt.Fprintf(out, "Catalog:  %s (%d reviewers, %d rules, %d policies, %d contacts)\n",
				source, len(data.Reviewers), len(data.Rules), len(data.Policies), len(data.Contacts))
			fmt.Fprintf(out, "Database: %s\n", orNone(cfg.Database.Driver))
			fmt.Fprintf(out, "NATS:     %s\n", orNone(cfg.NATS.URL))
			fmt.Fprintf(out, "Delivery: %s\n", deliverySummary(cfg))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}

func deliverySummary(cfg *config.Config) string {
	if cfg.Notifications.DryRun {
		return "dry run (log only)"
	}
	var parts []string
	if cfg.Notifications.NtfyURL != "" {
		parts = append(parts, "ntfy "+cfg.Notifications.NtfyURL)
	}
	if cfg.Notifications.SNSRegion != "" {
		parts = append(parts, "sns "+cfg.Notifications.SNSRegion)
	}
	if len(parts) == 0 {
		return "log only"
	}
	return strings.Join(parts, ", ")
}

func newInitCommand() *cobra.Command {
	var dir string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create directory %q: %w", dir, err)
			}
			files := []struct {
				name    string
				content string
			}{
				{configFileName, config.SampleConfig()},
				{catalogFileName, config.SampleCatalog()},
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				target := filepath.Join(dir, f.name)
				if !overwrite {
					if _, err := os.Stat(target); err == nil {
						return fmt.Errorf("%s already exists (use --overwrite to replace it)", target)
					} else if !os.IsNotExist(err) {
						return fmt.Errorf("check %s: %w", target, err)
					}
				}
				if err := os.WriteFile(target, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", target, err)
				}
				fmt.Fprintf(out, "Wrote %s\n", target)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Destination directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing files")
	return cmd
}

func newTransitionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Print the study lifecycle transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := statemachine.Table()
			asTable, err := ctx.tableOutput(cmd)
			if err != nil {
				return err
			}
			if !asTable {
				return writeJSON(cmd, entries)
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{string(e.From), string(e.Event), string(e.To)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"From", "Event", "To"}, rows, nil))

			var terminal []string
			for _, s := range statemachine.States() {
				if statemachine.IsTerminal(s) {
					terminal = append(terminal, string(s))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Terminal states: %s\n", strings.Join(terminal, ", "))
			return nil
		},
	}
}

func newRouteCommand(ctx *commandContext) *cobra.Command {
	var (
		studyID     string
		modality    string
		description string
		priority    string
		workload    map[string]int
		unavailable []string
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dry-run the routing rules for a study",
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := models.ParseRoutingPriority(priority)
			if err != nil {
				return err
			}
			data, _, err := ctx.loadCatalog()
			if err != nil {
				return err
			}

			engine := routing.NewEngine(nil)
			for _, r := range data.Reviewers {
				if err := engine.AddReviewer(r); err != nil {
					return err
				}
			}
			if err := engine.ReplaceRules(data.Rules); err != nil {
				return err
			}
			for id, n := range workload {
				engine.UpdateWorkload(id, n)
			}
			for _, id := range unavailable {
				if err := engine.SetAvailability(id, false); err != nil {
					return err
				}
			}

			study := &models.Study{
				ID:          studyID,
				Modality:    modality,
				Description: description,
				Status:      models.StudyScheduled,
			}
			result, err := engine.RouteStudy(study, prio)
			if err != nil {
				return err
			}

			asTable, err := ctx.tableOutput(cmd)
			if err != nil {
				return err
			}
			if !asTable {
				return writeJSON(cmd, result)
			}
			rows := [][]string{
				{"Study", result.StudyID},
				{"Priority", string(result.Priority)},
				{"Reviewer", dash(result.ReviewerID)},
				{"Queue", dash(result.QueueName)},
				{"Rule", dash(result.RuleID)},
				{"Reason", result.Reason},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&studyID, "study-id", "dry-run", "Study identifier")
	cmd.Flags().StringVarP(&modality, "modality", "m", "", "Study modality (CT, MR, MG, ...)")
	cmd.Flags().StringVar(&description, "description", "", "Study description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "routine", "Routing priority: emergency, urgent, routine or low")
	cmd.Flags().StringToIntVar(&workload, "workload", nil, "Starting workload per reviewer (id=count)")
	cmd.Flags().StringSliceVar(&unavailable, "unavailable", nil, "Reviewers to mark unavailable")
	_ = cmd.MarkFlagRequired("modality")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type catalogView struct {
	Source    string                        `json:"source"`
	Reviewers []*models.Reviewer            `json:"reviewers"`
	Rules     []*models.RoutingRule         `json:"rules"`
	Policies  []*models.CriticalValuePolicy `json:"policies"`
	Contacts  []models.Contact              `json:"contacts"`
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List reviewers, routing rules and critical value policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, source, err := ctx.loadCatalog()
			if err != nil {
				return err
			}
			asTable, err := ctx.tableOutput(cmd)
			if err != nil {
				return err
			}
			if !asTable {
				return writeJSON(cmd, catalogView{
					Source:    source,
					Reviewers: data.Reviewers,
					Rules:     data.Rules,
					Policies:  data.Policies,
					Contacts:  data.Contacts,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog: %s\n\n", source)
			fmt.Fprintln(out, renderTable(
				[]string{"Reviewer", "Name", "Specialties", "Max", "Available"},
				reviewerRows(data.Reviewers),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Rule", "Priority", "Conditions", "Action", "Active"},
				ruleRows(data.Rules),
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Policy", "Value types", "Notifications", "Escalations", "Active"},
				policyRows(data.Policies),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func reviewerRows(reviewers []*models.Reviewer) [][]string {
	sorted := append([]*models.Reviewer(nil), reviewers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, []string{
			r.ID,
			r.Name,
			strings.Join(r.Specialties, ", "),
			strconv.Itoa(r.MaxWorkload),
			strconv.FormatBool(r.Available),
		})
	}
	return rows
}

func ruleRows(rules []*models.RoutingRule) [][]string {
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		conds := make([]string, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, describeCondition(c))
		}
		action := string(r.Action.Kind)
		if r.Action.Target != "" {
			action += " " + r.Action.Target
		}
		rows = append(rows, []string{r.ID, strconv.Itoa(r.Priority), strings.Join(conds, " & "), action, strconv.FormatBool(r.Active)})
	}
	return rows
}

func describeCondition(c models.RuleCondition) string {
	switch {
	case c.Value != "":
		return fmt.Sprintf("%s=%s", c.Kind, c.Value)
	case len(c.Values) > 0:
		return fmt.Sprintf("%s=[%s]", c.Kind, strings.Join(c.Values, ","))
	default:
		return string(c.Kind)
	}
}

func policyRows(policies []*models.CriticalValuePolicy) [][]string {
	rows := make([][]string, 0, len(policies))
	for _, p := range policies {
		types := make([]string, 0, len(p.ValueTypes))
		for _, vt := range p.ValueTypes {
			types = append(types, string(vt))
		}
		rows = append(rows, []string{
			p.ID,
			strings.Join(types, ", "),
			strconv.Itoa(len(p.NotificationRules)),
			strconv.Itoa(len(p.EscalationRules)),
			strconv.FormatBool(p.Active),
		})
	}
	return rows
}
