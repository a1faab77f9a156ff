package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/config"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/logging"
	"github.com/nutriscan/nutriscan/internal/model"
)

// app is the state shared by all subcommands once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	binds   []flagBinding
}

// flagBinding ties a command flag to a config key. Several subcommands
// share keys (train and split both set train.seed), so only the bindings of
// the command being run are applied.
type flagBinding struct {
	cmd  *cobra.Command
	flag *pflag.Flag
	key  string
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "nutriscan",
		Short:         "Classify child photographs as MALNUTRITION or NUTRITION",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Sync(a.logger)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "YAML config file (default ./nutriscan.yaml if present)")
	flags.String("model", model.DefaultPath, "model artifact path")
	flags.Int("resolution", model.DefaultResolution, "input resolution for new models")
	flags.String("mode", "debug", "run mode: debug, release or test")
	a.bind(root, flags.Lookup("model"), "model.path")
	a.bind(root, flags.Lookup("resolution"), "model.resolution")
	a.bind(root, flags.Lookup("mode"), "server.mode")

	root.AddCommand(
		newTrainCommand(a),
		newPredictCommand(a),
		newExplainCommand(a),
		newSplitCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	for _, b := range a.binds {
		if b.cmd != cmd && b.cmd != cmd.Root() {
			continue
		}
		if err := a.v.BindPFlag(b.key, b.flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", b.flag.Name, err)
		}
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// bind lets a flag of cmd override a config key when it is set explicitly.
func (a *app) bind(cmd *cobra.Command, f *pflag.Flag, key string) {
	a.binds = append(a.binds, flagBinding{cmd: cmd, flag: f, key: key})
}

// loadModel reads the configured artifact and a matching preprocessor.
func (a *app) loadModel() (*model.Classifier, *imageio.Preprocessor, error) {
	m, err := model.Load(a.cfg.Model.Path)
	if err != nil {
		return nil, nil, err
	}
	if m.Resolution() != a.cfg.Model.Resolution {
		a.logger.Debug("using artifact resolution",
			zap.Int("artifact", m.Resolution()),
			zap.Int("configured", a.cfg.Model.Resolution))
	}
	pre, err := imageio.New(m.Resolution(), a.cfg.Interpolation())
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("model loaded",
		zap.String("path", a.cfg.Model.Path),
		zap.Int("resolution", m.Resolution()),
	)
	return m, pre, nil
}
