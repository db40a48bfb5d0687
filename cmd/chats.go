package cmd

import (
	"github.com/code-sleuth/ike-rag/internal/manager/models"

	"github.com/spf13/cobra"
)

var chatsSession string

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Inspect recorded chat interactions",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat interactions, optionally for one session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var chats []models.ChatInteraction
		if chatsSession != "" {
			chats, err = a.chats.ListBySession(cmd.Context(), chatsSession)
		} else {
			chats, err = a.chats.List(cmd.Context())
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to list chats")
			return err
		}
		return printJSON(cmd.OutOrStdout(), chats)
	},
}

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd)
	chatsListCmd.Flags().StringVarP(&chatsSession, "session", "s", "", "Session id")
}
