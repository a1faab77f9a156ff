// Package config loads nutriscan settings from a YAML file, NUTRISCAN_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nutriscan/nutriscan/internal/dataset"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/optim"
	"github.com/nutriscan/nutriscan/internal/train"
)

// EnvPrefix prefixes every environment override, e.g. NUTRISCAN_SERVER_ADDR.
const EnvPrefix = "NUTRISCAN"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "nutriscan"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Model  ModelConfig  `mapstructure:"model"`
	Train  TrainConfig  `mapstructure:"train"`
	Data   DataConfig   `mapstructure:"data"`
	Upload UploadConfig `mapstructure:"upload"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelConfig struct {
	Path          string `mapstructure:"path"`
	Resolution    int    `mapstructure:"resolution"`
	Interpolation string `mapstructure:"interpolation"`
	SaliencyLayer string `mapstructure:"saliency_layer"`
}

type TrainConfig struct {
	Epochs            int     `mapstructure:"epochs"`
	BatchSize         int     `mapstructure:"batch_size"`
	LearningRate      float32 `mapstructure:"learning_rate"`
	Optimizer         string  `mapstructure:"optimizer"`
	Seed              int64   `mapstructure:"seed"`
	Workers           int     `mapstructure:"workers"`
	EarlyStopPatience int     `mapstructure:"early_stop_patience"`
	RestoreBest       bool    `mapstructure:"restore_best"`
	LRFactor          float32 `mapstructure:"lr_factor"`
	LRPatience        int     `mapstructure:"lr_patience"`
	LRMinDelta        float64 `mapstructure:"lr_min_delta"`
	MinLR             float32 `mapstructure:"min_lr"`
}

type DataConfig struct {
	RawDir   string  `mapstructure:"raw_dir"`
	TrainDir string  `mapstructure:"train_dir"`
	ValDir   string  `mapstructure:"val_dir"`
	ValSplit float64 `mapstructure:"val_split"`
}

type UploadConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxSize int64  `mapstructure:"max_size"`
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.path", model.DefaultPath)
	v.SetDefault("model.resolution", model.DefaultResolution)
	v.SetDefault("model.interpolation", string(imageio.Nearest))
	v.SetDefault("model.saliency_layer", "")

	d := train.DefaultConfig()
	v.SetDefault("train.epochs", d.Epochs)
	v.SetDefault("train.batch_size", dataset.DefaultBatchSize)
	v.SetDefault("train.learning_rate", d.LearningRate)
	v.SetDefault("train.optimizer", string(d.Optimizer))
	v.SetDefault("train.seed", d.Seed)
	v.SetDefault("train.workers", 0)
	v.SetDefault("train.early_stop_patience", d.EarlyStopPatience)
	v.SetDefault("train.restore_best", d.RestoreBest)
	v.SetDefault("train.lr_factor", d.LRFactor)
	v.SetDefault("train.lr_patience", d.LRPatience)
	v.SetDefault("train.lr_min_delta", d.LRMinDelta)
	v.SetDefault("train.min_lr", d.MinLR)

	v.SetDefault("data.raw_dir", "data/test")
	v.SetDefault("data.train_dir", "data/train")
	v.SetDefault("data.val_dir", "data/validation")
	v.SetDefault("data.val_split", dataset.DefaultValSplit)

	v.SetDefault("upload.dir", "temp")
	v.SetDefault("upload.max_size", 10<<20)
}

// Load reads the configuration. With an empty path, nutriscan.yaml in the
// working directory is used if present and defaults otherwise.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load(New(), "")
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}
	if c.Model.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("model.resolution must be positive, got %d", c.Model.Resolution))
	}
	if _, err := imageio.ParseInterpolation(c.Model.Interpolation); err != nil {
		errs = append(errs, fmt.Errorf("model.interpolation: %w", err))
	}
	if c.Train.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("train.batch_size must be positive, got %d", c.Train.BatchSize))
	}
	if c.Train.Epochs < 0 {
		errs = append(errs, fmt.Errorf("train.epochs must not be negative, got %d", c.Train.Epochs))
	}
	if c.Train.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("train.learning_rate must be positive, got %g", c.Train.LearningRate))
	}
	if c.Data.ValSplit < 0 || c.Data.ValSplit >= 1 {
		errs = append(errs, fmt.Errorf("data.val_split must be in [0, 1), got %g", c.Data.ValSplit))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize))
	}
	return errors.Join(errs...)
}

// Interpolation returns the parsed resize filter.
func (c *Config) Interpolation() imageio.Interpolation {
	interp, err := imageio.ParseInterpolation(c.Model.Interpolation)
	if err != nil {
		return imageio.Nearest
	}
	return interp
}

// Trainer converts the train section into trainer settings. The checkpoint
// is written to the model path.
func (c *Config) Trainer() train.Config {
	return train.Config{
		Epochs:            c.Train.Epochs,
		LearningRate:      c.Train.LearningRate,
		Optimizer:         optim.Name(c.Train.Optimizer),
		Seed:              c.Train.Seed,
		CheckpointPath:    c.Model.Path,
		EarlyStopPatience: c.Train.EarlyStopPatience,
		RestoreBest:       c.Train.RestoreBest,
		LRFactor:          c.Train.LRFactor,
		LRPatience:        c.Train.LRPatience,
		LRMinDelta:        c.Train.LRMinDelta,
		MinLR:             c.Train.MinLR,
	}
}
