package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/rules"
)

func newRulesCmd(a *app) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the review rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := rules.All()
			if lang != "" {
				l, err := resolveLanguage(lang, "")
				if err != nil {
					return err
				}
				list = rules.For(l)
			}

			disabled := make(map[string]bool, len(a.cfg.Analysis.DisabledRules))
			for _, id := range a.cfg.Analysis.DisabledRules {
				disabled[id] = true
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("RULE", "SEVERITY", "SCOPE", "LANGUAGES", "ENABLED", "DESCRIPTION")
			for _, r := range list {
				var langs []string
				for _, l := range rules.Default().LanguagesOf(r.ID) {
					langs = append(langs, string(l))
				}
				enabled := "yes"
				if disabled[r.ID] {
					enabled = "no"
				}
				t.Row(r.ID, r.Severity.String(), r.Scope.String(), strings.Join(langs, ","), enabled, r.Description)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "only rules for this language")
	return cmd
}
