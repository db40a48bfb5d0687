package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Answer a prompt from the ingested documents",
	Long: `Answer a prompt from the ingested documents and print the answer with its citations.
Pass --session to continue a conversation; a new session id is generated otherwise.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		engine, err := a.retrievalEngine()
		if err != nil {
			return err
		}
		result, err := engine.Ask(cmd.Context(), strings.Join(args, " "), askSession)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to answer prompt")
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session id to record the interaction under")
}
