// Package train fits a Classifier to labeled image batches.
//
// Each epoch shuffles the training source, runs forward and backward passes
// batch by batch, steps the optimizer, then evaluates the validation
// source. Three callbacks watch the validation loss after every epoch, in
// order: Checkpoint, EarlyStopping and ReduceLROnPlateau.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/autodiff"
	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/nn"
	"github.com/nutriscan/nutriscan/internal/optim"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Source yields mini-batches of images [B, 3, R, R] and targets [B, 1].
type Source interface {
	Len() int
	NumBatches() int
	Batch(ctx context.Context, i int) (x, y *tensor.Tensor, err error)
	Shuffle(rng *rand.Rand)
}

// Defaults.
const (
	DefaultEpochs            = 15
	DefaultLearningRate      = 1e-3
	DefaultEarlyStopPatience = 5
	DefaultLRFactor          = 0.5
	DefaultLRPatience        = 3
	DefaultLRMinDelta        = 1e-4
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs       int
	LearningRate float32
	Optimizer    optim.Name
	Seed         int64

	// CheckpointPath receives the model whenever validation loss improves.
	// Empty disables checkpointing.
	CheckpointPath string

	EarlyStopPatience int
	RestoreBest       bool

	LRFactor   float32
	LRPatience int
	LRMinDelta float64
	MinLR      float32
}

// DefaultConfig returns the reference training setup.
func DefaultConfig() Config {
	return Config{
		Epochs:            DefaultEpochs,
		LearningRate:      DefaultLearningRate,
		Optimizer:         optim.NameAdam,
		Seed:              42,
		EarlyStopPatience: DefaultEarlyStopPatience,
		RestoreBest:       true,
		LRFactor:          DefaultLRFactor,
		LRPatience:        DefaultLRPatience,
		LRMinDelta:        DefaultLRMinDelta,
	}
}

// Trainer runs the training loop.
type Trainer struct {
	cfg    Config
	logger *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger for epoch summaries and callback events.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// New creates a Trainer.
func New(cfg Config, opts ...Option) *Trainer {
	t := &Trainer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// callbacks builds the epoch-end policies in their fixed order.
func (t *Trainer) callbacks() []Callback {
	var cbs []Callback
	if t.cfg.CheckpointPath != "" {
		cbs = append(cbs, NewCheckpoint(t.cfg.CheckpointPath, t.logger))
	}
	if t.cfg.EarlyStopPatience > 0 {
		cbs = append(cbs, NewEarlyStopping(t.cfg.EarlyStopPatience, t.cfg.RestoreBest, t.logger))
	}
	if t.cfg.LRPatience > 0 && t.cfg.LRFactor > 0 && t.cfg.LRFactor < 1 {
		cbs = append(cbs, NewReduceLROnPlateau(t.cfg.LRFactor, t.cfg.LRPatience, t.cfg.LRMinDelta, t.cfg.MinLR, t.logger))
	}
	return cbs
}

// Fit trains m on trainSrc and evaluates on valSrc after every epoch.
//
// On a numeric failure the returned history holds the completed epochs and
// the model keeps the weights of the failed step.
func (t *Trainer) Fit(ctx context.Context, m *model.Classifier, trainSrc, valSrc Source) (*History, error) {
	if trainSrc.Len() == 0 {
		return nil, fault.IO("train.Fit", "", errors.New("training set is empty"))
	}
	if valSrc.Len() == 0 {
		return nil, fault.IO("train.Fit", "", errors.New("validation set is empty"))
	}

	hist := newHistory(uuid.NewString())
	if t.cfg.Epochs <= 0 {
		return hist, nil
	}

	opt, err := optim.New(t.cfg.Optimizer, m.Parameters(), t.cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // shuffling and dropout only
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	cbs := t.callbacks()
	log := t.logger.With(zap.String("run_id", hist.RunID))

	log.Info("training started",
		zap.Int("epochs", t.cfg.Epochs),
		zap.Int("train_samples", trainSrc.Len()),
		zap.Int("val_samples", valSrc.Len()),
		zap.Int("resolution", m.Resolution()),
		zap.String("optimizer", string(t.cfg.Optimizer)),
	)

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		lr := opt.GetLR()

		loss, acc, err := t.trainEpoch(ctx, m, opt, trainSrc, rng, epoch)
		if err != nil {
			return hist, err
		}
		valLoss, valAcc, err := Evaluate(ctx, m, valSrc)
		if err != nil {
			return hist, err
		}

		state := &State{
			RunID:     hist.RunID,
			Model:     m,
			Optimizer: opt,
			OptimName: t.cfg.Optimizer,
			Stats: EpochStats{
				Epoch:        epoch,
				Loss:         loss,
				Accuracy:     acc,
				ValLoss:      valLoss,
				ValAccuracy:  valAcc,
				LearningRate: lr,
			},
		}
		for _, cb := range cbs {
			if err := cb.OnEpochEnd(state); err != nil {
				return hist, err
			}
		}
		state.Stats.Duration = time.Since(start)
		hist.add(state.Stats)

		log.Info("epoch",
			zap.Int("epoch", epoch),
			zap.Float64("loss", loss),
			zap.Float64("accuracy", acc),
			zap.Float64("val_loss", valLoss),
			zap.Float64("val_accuracy", valAcc),
			zap.Float32("lr", lr),
			zap.Duration("elapsed", state.Stats.Duration),
		)

		if state.Stop {
			hist.StoppedEarly = true
			hist.Restored = state.Restored
			break
		}
	}

	log.Info("training finished",
		zap.Int("epochs_run", len(hist.Epochs)),
		zap.Int("best_epoch", hist.BestEpoch),
		zap.Float64("best_val_loss", hist.BestValLoss),
		zap.Bool("stopped_early", hist.StoppedEarly),
	)
	return hist, nil
}

// trainEpoch runs one pass over src and returns the sample-weighted mean
// loss and accuracy.
func (t *Trainer) trainEpoch(ctx context.Context, m *model.Classifier, opt optim.Optimizer, src Source, rng *rand.Rand, epoch int) (float64, float64, error) {
	src.Shuffle(rng)
	bce := nn.NewBCELoss(m.Backend())

	var lossSum, accSum float64
	seen := 0
	for b := 0; b < src.NumBatches(); b++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		x, y, err := src.Batch(ctx, b)
		if err != nil {
			return 0, 0, err
		}
		if err := m.CheckInput(x); err != nil {
			return 0, 0, err
		}

		tctx := nn.NewTrainingContext(rng)
		pred := m.Forward(tctx, x)
		loss := bce.Forward(tctx, pred, y)
		if !loss.AllFinite() {
			return 0, 0, fault.Numeric("train.Fit",
				fmt.Errorf("epoch %d batch %d: non-finite loss %v", epoch, b, loss.Data()[0]))
		}

		grads, err := autodiff.Backward(tctx.Tape, loss, m.Backend())
		if err != nil {
			return 0, 0, err
		}
		for _, p := range m.Parameters() {
			if g, ok := grads[p.Tensor()]; ok && !g.AllFinite() {
				return 0, 0, fault.Numeric("train.Fit",
					fmt.Errorf("epoch %d batch %d: non-finite gradient for %s", epoch, b, p.Name()))
			}
		}
		opt.Step(grads)

		n := y.NumElements()
		lossSum += float64(loss.Data()[0]) * float64(n)
		accSum += nn.Accuracy(pred, y) * float64(n)
		seen += n
	}
	return lossSum / float64(seen), accSum / float64(seen), nil
}

// Evaluate computes the mean loss and accuracy of m over src in inference
// mode.
func Evaluate(ctx context.Context, m *model.Classifier, src Source) (loss, accuracy float64, err error) {
	bce := nn.NewBCELoss(m.Backend())
	var lossSum, accSum float64
	seen := 0
	for b := 0; b < src.NumBatches(); b++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		x, y, err := src.Batch(ctx, b)
		if err != nil {
			return 0, 0, err
		}
		if err := m.CheckInput(x); err != nil {
			return 0, 0, err
		}
		ictx := nn.NewInferenceContext()
		pred := m.Forward(ictx, x)
		l := bce.Forward(ictx, pred, y).Data()[0]

		n := y.NumElements()
		lossSum += float64(l) * float64(n)
		accSum += nn.Accuracy(pred, y) * float64(n)
		seen += n
	}
	if seen == 0 {
		return 0, 0, fault.IO("train.Evaluate", "", errors.New("no samples"))
	}
	loss = lossSum / float64(seen)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, 0, fault.Numeric("train.Evaluate", fmt.Errorf("non-finite validation loss %v", loss))
	}
	return loss, accSum / float64(seen), nil
}
