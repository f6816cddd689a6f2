package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/avoskres/satseg/internal/dataset"
	"github.com/avoskres/satseg/internal/models"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Preview the train/validation partition",
	Long:  "Parse a dataset index manifest, run the stratified partitioner, and print per-stratum membership counts",
	RunE:  runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	// Read through the command's own flags, not viper: the shared keys
	// (index, val_fraction, seed) are already bound to the train
	// command's flag set.
	splitCmd.Flags().String("index", "", "Dataset index manifest (JSON/YAML) (required)")
	splitCmd.Flags().Float64("val-fraction", 0.2, "Fraction of the corpus held out for validation")
	splitCmd.Flags().Int64P("seed", "s", 42, "Seed for the train/validation split")
	splitCmd.MarkFlagRequired("index")
}

func runSplit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("index")
	fraction, _ := cmd.Flags().GetFloat64("val-fraction")
	seed, _ := cmd.Flags().GetInt64("seed")

	index, err := loadIndex(path)
	if err != nil {
		return err
	}

	split, err := dataset.Partition(index, fraction, seed)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Train images: %d\nVal   images: %d\n\n", len(split.Train), len(split.Val))

	trainCounts := countByStratum(split.Train)
	valCounts := countByStratum(split.Val)

	keys := make([]string, 0, len(trainCounts))
	for k := range trainCounts {
		keys = append(keys, k)
	}
	for k := range valCounts {
		if _, ok := trainCounts[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fmt.Fprintln(out, "Per-stratum membership:")
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: train=%d val=%d\n", k, trainCounts[k], valCounts[k])
	}
	return nil
}

func countByStratum(items []models.Item) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		counts[item.Stratum]++
	}
	return counts
}
