package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

var transcriptCheck bool

var transcriptCmd = &cobra.Command{
	Use:   "transcript <conversation-id>",
	Short: "Print a stored transcript",
	Long: `Print the conversation header and its transcript records as JSON.

With --check, also verify that offsets are contiguous from zero, that a
system record only appears at offset 0, and that user and assistant records
alternate. The command fails when the check does not pass.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		return printTranscript(cmd, st, args[0], transcriptCheck)
	},
}

func init() {
	transcriptCmd.Flags().BoolVar(&transcriptCheck, "check", false, "verify transcript invariants")
	rootCmd.AddCommand(transcriptCmd)
}

func printTranscript(cmd *cobra.Command, st ports.Store, id string, check bool) error {
	ctx := cmd.Context()
	conv, err := st.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	recs, err := st.Read(ctx, id)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []entities.TranscriptRecord{}
	}

	if err := writeJSON(cmd.OutOrStdout(), entities.ConversationDetail{Conversation: *conv, Messages: recs}); err != nil {
		return err
	}
	if !check {
		return nil
	}
	if err := entities.CheckTranscript(recs); err != nil {
		return fmt.Errorf("transcript %s: %w", id, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "transcript %s: %d records ok\n", id, len(recs))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
