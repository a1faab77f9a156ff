package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nutriscan/nutriscan/internal/predict"
)

type predictionOutput struct {
	File       string  `json:"file"`
	Prediction string  `json:"prediction"`
	Confidence float32 `json:"confidence"`
}

func newPredictCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "predict IMAGE...",
		Short: "Classify one or more images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, pre, err := a.loadModel()
			if err != nil {
				return err
			}
			p, err := predict.New(m, pre)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for _, path := range args {
				res, err := p.PredictFile(path)
				if err != nil {
					return err
				}
				if asJSON {
					if err := enc.Encode(predictionOutput{File: path, Prediction: res.Label.String(), Confidence: res.Confidence}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%.4f\n", path, res.Label, res.Confidence)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per image")
	return cmd
}
