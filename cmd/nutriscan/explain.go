package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/saliency"
)

func newExplainCommand(a *app) *cobra.Command {
	var (
		outPath string
		heatOut string
	)

	cmd := &cobra.Command{
		Use:   "explain IMAGE",
		Short: "Write a Grad-CAM overlay showing which regions drove the prediction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, pre, err := a.loadModel()
			if err != nil {
				return err
			}
			var opts []saliency.Option
			if layer := a.cfg.Model.SaliencyLayer; layer != "" {
				opts = append(opts, saliency.WithLayer(layer))
			}
			e, err := saliency.New(m, pre, opts...)
			if err != nil {
				return err
			}

			src := args[0]
			res, err := e.ExplainFile(src)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = strings.TrimSuffix(src, filepath.Ext(src)) + "_gradcam.png"
			}
			if err := saliency.SavePNG(outPath, res.Overlay); err != nil {
				return err
			}
			if heatOut != "" {
				if err := saliency.SavePNG(heatOut, res.Heatmap); err != nil {
					return err
				}
			}
			a.logger.Info("explanation written",
				zap.String("image", src),
				zap.String("layer", res.Layer),
				zap.String("overlay", outPath),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%.4f\t%s\n", src, res.Label, res.Confidence, outPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&outPath, "out", "o", "", "overlay output path (default IMAGE_gradcam.png)")
	f.StringVar(&heatOut, "heatmap", "", "also write the bare heatmap to this path")
	f.String("layer", "", "layer to explain (default: last convolution)")
	a.bind(cmd, f.Lookup("layer"), "model.saliency_layer")
	return cmd
}
