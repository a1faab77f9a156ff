package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/dataset"
	"github.com/nutriscan/nutriscan/internal/model"
)

func newSplitCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Move raw class folders into train and validation directories",
		Long: `Split moves every image from RAW/<class> into TRAIN/<class>, then moves a
random val-split fraction of each class on to VAL/<class>. Files are moved,
not copied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			//nolint:gosec // file shuffling only
			rng := rand.New(rand.NewSource(cfg.Train.Seed))
			report, err := dataset.Split(cfg.Data.RawDir, cfg.Data.TrainDir, cfg.Data.ValDir, cfg.Data.ValSplit, rng)
			if err != nil {
				return err
			}
			for _, label := range model.Labels() {
				a.logger.Info("class split",
					zap.String("class", label.String()),
					zap.Int("train", report.Train[label]),
					zap.Int("val", report.Val[label]),
				)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\ttrain=%d\tval=%d\n", label, report.Train[label], report.Val[label])
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("raw-dir", "data/test", "source directory with one subdirectory per class")
	f.String("train-dir", "data/train", "training output directory")
	f.String("val-dir", "data/validation", "validation output directory")
	f.Float64("val-split", dataset.DefaultValSplit, "fraction of each class moved to validation")
	f.Int64("seed", 42, "shuffle seed")
	a.bind(cmd, f.Lookup("raw-dir"), "data.raw_dir")
	a.bind(cmd, f.Lookup("train-dir"), "data.train_dir")
	a.bind(cmd, f.Lookup("val-dir"), "data.val_dir")
	a.bind(cmd, f.Lookup("val-split"), "data.val_split")
	a.bind(cmd, f.Lookup("seed"), "train.seed")
	return cmd
}
