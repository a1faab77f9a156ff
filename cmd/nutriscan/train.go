package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/dataset"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/train"
)

func newTrainCommand(a *app) *cobra.Command {
	var historyPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a new model on the train and validation directories",
		Long: `Train builds a fresh classifier and fits it to the images under the
training directory, validating after every epoch. The best model by
validation loss is written to the model path as training progresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg

			trainSet, err := dataset.Load(cfg.Data.TrainDir)
			if err != nil {
				return err
			}
			valSet, err := dataset.Load(cfg.Data.ValDir)
			if err != nil {
				return err
			}
			counts := trainSet.Counts()
			a.logger.Info("datasets loaded",
				zap.Int("train", trainSet.Len()),
				zap.Int("val", valSet.Len()),
				zap.Int("train_malnutrition", counts[model.Malnutrition]),
				zap.Int("train_nutrition", counts[model.Nutrition]),
			)

			pre, err := imageio.New(cfg.Model.Resolution, cfg.Interpolation())
			if err != nil {
				return err
			}
			trainSrc, err := dataset.NewLoader(trainSet, pre, cfg.Train.BatchSize, dataset.WithWorkers(cfg.Train.Workers))
			if err != nil {
				return err
			}
			valSrc, err := dataset.NewLoader(valSet, pre, cfg.Train.BatchSize, dataset.WithWorkers(cfg.Train.Workers))
			if err != nil {
				return err
			}

			m, err := model.Build(cfg.Model.Resolution, model.WithSeed(cfg.Train.Seed))
			if err != nil {
				return err
			}

			hist, err := train.New(cfg.Trainer(), train.WithLogger(a.logger)).Fit(cmd.Context(), m, trainSrc, valSrc)
			if hist != nil && historyPath != "" {
				if werr := writeHistory(historyPath, hist); werr != nil {
					a.logger.Warn("failed to write history", zap.String("path", historyPath), zap.Error(werr))
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "best epoch %d, val_loss %.4f, model saved to %s\n",
				hist.BestEpoch, hist.BestValLoss, cfg.Model.Path)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int("epochs", train.DefaultEpochs, "maximum number of epochs")
	f.Int("batch-size", dataset.DefaultBatchSize, "images per batch")
	f.Float32("lr", train.DefaultLearningRate, "initial learning rate")
	f.Int64("seed", 42, "seed for weight init, shuffling and dropout")
	f.String("train-dir", "data/train", "training images, one subdirectory per class")
	f.String("val-dir", "data/validation", "validation images, one subdirectory per class")
	f.StringVar(&historyPath, "history", "", "write the per-epoch history as JSON to this file")
	a.bind(cmd, f.Lookup("epochs"), "train.epochs")
	a.bind(cmd, f.Lookup("batch-size"), "train.batch_size")
	a.bind(cmd, f.Lookup("lr"), "train.learning_rate")
	a.bind(cmd, f.Lookup("seed"), "train.seed")
	a.bind(cmd, f.Lookup("train-dir"), "data.train_dir")
	a.bind(cmd, f.Lookup("val-dir"), "data.val_dir")
	return cmd
}

func writeHistory(path string, hist *train.History) error {
	data, err := json.MarshalIndent(hist, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
