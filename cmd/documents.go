package cmd

import (
	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Inspect ingested documents",
	Long:  `Inspect ingested documents - list them and get their chunks.`,
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.docs.List(cmd.Context())
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to list documents")
			return err
		}
		return printJSON(cmd.OutOrStdout(), docs)
	},
}

var documentsChunksCmd = &cobra.Command{
	Use:   "chunks [id]",
	Short: "List a document's chunks in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.docs.GetRawDoc(cmd.Context(), args[0])
		if err != nil {
			a.logger.Error().Err(err).Str("doc_id", args[0]).Msg("Failed to get document")
			return err
		}
		chunks, err := a.docs.ChunksByDoc(cmd.Context(), doc.DocID)
		if err != nil {
			a.logger.Error().Err(err).Str("doc_id", doc.DocID).Msg("Failed to list chunks")
			return err
		}
		return printJSON(cmd.OutOrStdout(), chunks)
	},
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsChunksCmd)
}
