package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage steering rules",
		Long: `Steering rules are versioned regular expressions that nudge the subfamily
decision. Only the newest version's active rules are used when classifying;
its version is recorded on every classification.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesSeedCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List steering rules of every version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			all, err := store.ListSteeringRules(ctx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				cmd.Println(cli.FormatInfo("No steering rules, run 'ledgerline rules seed' to install the defaults"))
				return nil
			}

			rows := make([][]string, 0, len(all))
			for _, r := range all {
				active := ""
				if r.IsActive {
					active = "yes"
				}
				rows = append(rows, []string{
					r.Version, r.SubfamilyCode, strconv.FormatFloat(r.Weight, 'f', 2, 64), active, r.Pattern,
				})
			}
			cmd.Println(cli.RenderTable([]string{"Version", "Subfamily", "Weight", "Active", "Pattern"}, rows))
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var rule model.SteeringRule

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add or update one steering rule",
		Example: `  ledgerline rules add --version 2024.2 --pattern '\bfletes?\b' --subfamily 602 --weight 0.6`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// Reject bad patterns before they reach the table.
			if _, err := rules.NewDetector([]model.SteeringRule{rule}); err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rule.IsActive = true
			if err := store.SaveSteeringRules(ctx, []model.SteeringRule{rule}); err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Saved rule for subfamily %s in version %s", rule.SubfamilyCode, rule.Version)))
			return nil
		},
	}

	cmd.Flags().StringVar(&rule.Version, "version", rules.DefaultVersion, "rule table version")
	cmd.Flags().StringVar(&rule.Pattern, "pattern", "", "regular expression matched against normalized document text")
	cmd.Flags().StringVar(&rule.SubfamilyCode, "subfamily", "", "subfamily code the rule points to")
	cmd.Flags().Float64Var(&rule.Weight, "weight", 0.5, "rule weight in (0, 1]")
	cmd.Flags().StringVar(&rule.Description, "description", "", "why the rule exists")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("subfamily")

	return cmd
}

func rulesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the built-in steering rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			set := rules.DefaultRuleSet()
			if err := store.SaveSteeringRules(ctx, set); err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Installed %d steering rules (version %s)", len(set), rules.DefaultVersion)))
			return nil
		},
	}
}
