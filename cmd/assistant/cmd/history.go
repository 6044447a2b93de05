package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-assistant/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the stored chats",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.History.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No chats yet.")
			return nil
		}
		for _, item := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", item.ChatID, item.UpdatedAt.Format("2006-01-02 15:04"), item.Preview)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print one chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		chat, err := a.History.GetChat(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("chat %s not found", args[0])
		}
		if err != nil {
			return err
		}
		printChat(cmd, chat)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.History.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)
}

func printChat(cmd *cobra.Command, chat *history.Chat) {
	out := cmd.OutOrStdout()
	for _, m := range chat.Messages {
		who := "assistant"
		if m.FromUser {
			who = "you"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04:05"), who, strings.TrimSpace(m.Text))
		if m.TokensPerSecond != nil {
			line += fmt.Sprintf("  (%.1f tok/s)", *m.TokensPerSecond)
		}
		fmt.Fprintln(out, line)
	}
}
