package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/store"
)

func newReviewsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Manage saved reviews",
	}
	cmd.AddCommand(
		newReviewsListCmd(a),
		newReviewsShowCmd(a),
		newReviewsDeleteCmd(a),
		newReviewsExportCmd(a),
	)
	return cmd
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(fn func(st store.Store) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newReviewsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved reviews, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				reviews, err := st.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(reviews) == 0 {
					fmt.Fprintln(out, "No saved reviews.")
					return nil
				}

				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("ID", "CREATED", "LANGUAGE", "SCORE", "SUMMARY")
				for _, r := range reviews {
					t.Row(
						r.ID,
						r.Timestamp.Local().Format("2006-01-02 15:04"),
						string(r.Language),
						strconv.Itoa(r.Result.Score),
						r.Result.Summary,
					)
				}
				fmt.Fprintln(out, t.Render())
				return nil
			})
		},
	}
}

func newReviewsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				r, err := st.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeDocument(cmd.OutOrStdout(), export.FromReview(r), "text", "")
			})
		},
	}
}

func newReviewsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete saved reviews",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				for _, id := range args {
					if err := st.Delete(cmd.Context(), id); err != nil {
						return fmt.Errorf("deleting %s: %w", id, err)
					}
					a.logger.Info("review deleted", "id", id)
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func newReviewsExportCmd(a *app) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a saved review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := export.Get(format); err != nil {
				return err
			}
			return a.withStore(func(st store.Store) error {
				r, err := st.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeDocument(cmd.OutOrStdout(), export.FromReview(r), format, output)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "export format: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
