package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func rulesCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage reconciliation rules",
	}
	cmd.AddCommand(rulesAddCmd(rt))
	return cmd
}

func rulesAddCmd(rt *runtime) *cobra.Command {
	rule := model.ReconciliationRule{IsActive: true}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a matching rule",
		Long: `Create a matching rule. Rules are tried in priority order, highest
first, and the first rule producing a match wins.

Examples:
  # Exact amount within two days
  balance rules add --name exact --priority 100 --match-amount --match-date --date-tolerance 2

  # Invoice references, approved automatically above 0.95
  balance rules add --name invoices --match-reference --reference-pattern 'INV-\d+' \
    --auto-approve --threshold 0.95`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.service(cmd.Context())
			if err != nil {
				return err
			}
			created, err := unwrap(svc.CreateReconciliationRule(cmd.Context(), rt.principal(), rule))
			if err != nil {
				return err
			}
			return rt.print(cmd.OutOrStdout(), created, func() string {
				return cli.FormatSuccess("Created rule " + created.Name + " (" + created.ID + ")")
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&rule.Name, "name", "", "rule name")
	f.StringVar(&rule.Description, "description", "", "rule description")
	f.IntVar(&rule.Priority, "priority", 0, "priority, higher runs first")
	f.BoolVar(&rule.Criteria.MatchAmount, "match-amount", false, "compare amounts")
	f.Float64Var(&rule.AmountTolerance, "amount-tolerance", 0, "allowed amount difference")
	f.BoolVar(&rule.Criteria.MatchDate, "match-date", false, "compare dates")
	f.IntVar(&rule.DateTolerance, "date-tolerance", 0, "allowed date difference in days")
	f.BoolVar(&rule.Criteria.MatchDescription, "match-description", false, "compare descriptions")
	f.Float64Var(&rule.DescriptionSimilarity, "similarity", 0.8, "minimum description similarity")
	f.BoolVar(&rule.Criteria.MatchReference, "match-reference", false, "compare references")
	f.StringSliceVar(&rule.Criteria.ReferencePatterns, "reference-pattern", nil, "reference regular expression (repeatable)")
	f.Float64Var(&rule.MinConfidence, "min-confidence", 0, "minimum confidence for this rule")
	f.BoolVar(&rule.AutoApprove, "auto-approve", false, "approve confident matches automatically")
	f.Float64Var(&rule.ConfidenceThreshold, "threshold", 0.95, "auto-approve confidence threshold")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
