package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/config"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List your threads",
	Long:  `Print every thread of the signed-in user with the last message, most recent first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlatform(cmd.Context(), func(ctx context.Context, cfg *config.Config, platform *backend.Platform) error {
			if _, err := platform.Auth.CurrentSession(ctx); err != nil {
				if errors.Is(err, backend.ErrNoSession) {
					return errors.New("not signed in; run supachat to sign in")
				}
				return err
			}

			items, err := chat.NewThreadList(platform.Store, nil, nil).List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Threads")+" "+countStyle.Render(fmt.Sprintf("(%d)", len(items))))
			if len(items) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWITH\tWHEN\tLAST MESSAGE")
			for _, item := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					item.ID,
					nameStyle.Render(item.Name),
					dateStyle.Render(item.TimeLabel),
					truncate.StringWithTail(item.Preview, 60, "..."),
				)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(threadsCmd)
}
