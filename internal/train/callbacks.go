package train

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/optim"
	"github.com/nutriscan/nutriscan/internal/serialization"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// State is what callbacks see at the end of an epoch. Callbacks may set
// Stop, change the optimizer learning rate and annotate Stats.
type State struct {
	RunID     string
	Model     *model.Classifier
	Optimizer optim.Optimizer
	OptimName optim.Name
	Stats     EpochStats

	Stop     bool
	Restored bool
}

// Callback is an epoch-end training policy.
type Callback interface {
	OnEpochEnd(s *State) error
}

// Checkpoint saves the model whenever validation loss reaches a new
// minimum. Saves are atomic, so the file at Path is always a complete
// model.
type Checkpoint struct {
	Path   string
	best   float64
	seen   bool
	logger *zap.Logger
}

// NewCheckpoint creates a Checkpoint writing to path.
func NewCheckpoint(path string, logger *zap.Logger) *Checkpoint {
	return &Checkpoint{Path: path, logger: logger}
}

// OnEpochEnd implements Callback.
func (c *Checkpoint) OnEpochEnd(s *State) error {
	if c.seen && s.Stats.ValLoss >= c.best {
		return nil
	}
	meta := &serialization.CheckpointMeta{
		RunID:        s.RunID,
		Epoch:        s.Stats.Epoch,
		ValLoss:      s.Stats.ValLoss,
		ValAccuracy:  s.Stats.ValAccuracy,
		LearningRate: float64(s.Optimizer.GetLR()),
		Optimizer:    string(s.OptimName),
	}
	if err := s.Model.Save(c.Path, meta); err != nil {
		return fmt.Errorf("checkpoint epoch %d: %w", s.Stats.Epoch, err)
	}
	c.logger.Info("checkpoint saved",
		zap.String("path", c.Path),
		zap.Int("epoch", s.Stats.Epoch),
		zap.Float64("val_loss", s.Stats.ValLoss),
	)
	c.best, c.seen = s.Stats.ValLoss, true
	s.Stats.Checkpointed = true
	return nil
}

// EarlyStopping stops training after Patience epochs without a strict
// improvement in validation loss. With RestoreBest it copies the weights of
// the best epoch back into the model on stop.
type EarlyStopping struct {
	Patience    int
	RestoreBest bool

	best      float64
	seen      bool
	wait      int
	bestEpoch int
	weights   map[string]*tensor.Tensor
	logger    *zap.Logger
}

// NewEarlyStopping creates an EarlyStopping policy.
func NewEarlyStopping(patience int, restoreBest bool, logger *zap.Logger) *EarlyStopping {
	return &EarlyStopping{Patience: patience, RestoreBest: restoreBest, logger: logger}
}

// OnEpochEnd implements Callback.
func (e *EarlyStopping) OnEpochEnd(s *State) error {
	if !e.seen || s.Stats.ValLoss < e.best {
		e.best, e.seen = s.Stats.ValLoss, true
		e.bestEpoch = s.Stats.Epoch
		e.wait = 0
		if e.RestoreBest {
			e.weights = s.Model.Snapshot()
		}
		return nil
	}

	e.wait++
	if e.wait < e.Patience {
		return nil
	}
	s.Stop = true
	if e.RestoreBest && e.weights != nil {
		if err := s.Model.Restore(e.weights); err != nil {
			return fmt.Errorf("restore best weights: %w", err)
		}
		s.Restored = true
	}
	e.logger.Info("early stopping",
		zap.Int("epoch", s.Stats.Epoch),
		zap.Int("best_epoch", e.bestEpoch),
		zap.Float64("best_val_loss", e.best),
		zap.Bool("restored", s.Restored),
	)
	return nil
}

// BestEpoch returns the epoch with the lowest validation loss so far.
func (e *EarlyStopping) BestEpoch() int { return e.bestEpoch }

// ReduceLROnPlateau multiplies the learning rate by Factor after Patience
// epochs in which validation loss failed to beat the best value by more
// than MinDelta. The wait counter restarts after every reduction.
type ReduceLROnPlateau struct {
	Factor   float32
	Patience int
	MinDelta float64
	MinLR    float32

	best   float64
	seen   bool
	wait   int
	logger *zap.Logger
}

// NewReduceLROnPlateau creates a plateau policy.
func NewReduceLROnPlateau(factor float32, patience int, minDelta float64, minLR float32, logger *zap.Logger) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{Factor: factor, Patience: patience, MinDelta: minDelta, MinLR: minLR, logger: logger}
}

// OnEpochEnd implements Callback.
func (r *ReduceLROnPlateau) OnEpochEnd(s *State) error {
	if !r.seen || s.Stats.ValLoss < r.best-r.MinDelta {
		r.best, r.seen = s.Stats.ValLoss, true
		r.wait = 0
		return nil
	}

	r.wait++
	if r.wait < r.Patience {
		return nil
	}
	r.wait = 0

	old := s.Optimizer.GetLR()
	if old <= r.MinLR {
		return nil
	}
	lr := max(old*r.Factor, r.MinLR)
	s.Optimizer.SetLR(lr)
	s.Stats.LRReduced = true
	r.logger.Info("learning rate reduced",
		zap.Int("epoch", s.Stats.Epoch),
		zap.Float32("from", old),
		zap.Float32("to", lr),
	)
	return nil
}
