package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avoskres/satseg/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect checkpoint files",
}

var checkpointInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the logical fields of a checkpoint",
	RunE:  runCheckpointInspect,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd)

	checkpointInspectCmd.Flags().String("path", "", "Checkpoint file to read (required)")
	checkpointInspectCmd.MarkFlagRequired("path")
}

func runCheckpointInspect(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")

	rec, err := checkpoint.NewStore().Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "epoch_completed: %d\n", rec.EpochCompleted)
	fmt.Fprintf(out, "arch:            %s\n", rec.Arch)
	fmt.Fprintf(out, "best_val_loss:   %.6f\n", rec.BestValLoss)
	fmt.Fprintf(out, "model_state:     %d bytes\n", len(rec.ModelState))
	return nil
}
