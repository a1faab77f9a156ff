package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/predict"
	"github.com/nutriscan/nutriscan/internal/saliency"
	"github.com/nutriscan/nutriscan/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /predict/ and /explain/ over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			gin.SetMode(cfg.Server.Mode)

			m, pre, err := a.loadModel()
			if err != nil {
				return err
			}
			p, err := predict.New(m, pre)
			if err != nil {
				return err
			}
			var opts []saliency.Option
			if layer := cfg.Model.SaliencyLayer; layer != "" {
				opts = append(opts, saliency.WithLayer(layer))
			}
			e, err := saliency.New(m, pre, opts...)
			if err != nil {
				return err
			}

			a.logger.Info("starting nutriscan server",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)
			s := server.New(p, e,
				server.WithLogger(a.logger),
				server.WithUploadDir(cfg.Upload.Dir),
				server.WithMaxUploadSize(cfg.Upload.MaxSize),
				server.WithVersion(Version),
			)
			return s.Run(cmd.Context(), cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8000", "listen address")
	f.String("upload-dir", server.DefaultUploadDir, "directory for in-flight uploads")
	a.bind(cmd, f.Lookup("addr"), "server.addr")
	a.bind(cmd, f.Lookup("upload-dir"), "upload.dir")
	return cmd
}
