package train

import "time"

// EpochStats records one epoch. LearningRate is the rate the epoch ran
// with, before any reduction decided at its end.
type EpochStats struct {
	Epoch        int           `json:"epoch"`
	Loss         float64       `json:"loss"`
	Accuracy     float64       `json:"accuracy"`
	ValLoss      float64       `json:"val_loss"`
	ValAccuracy  float64       `json:"val_accuracy"`
	LearningRate float32       `json:"lr"`
	Checkpointed bool          `json:"checkpointed"`
	LRReduced    bool          `json:"lr_reduced"`
	Duration     time.Duration `json:"duration"`
}

// History is the outcome of a Fit call. BestEpoch is 0 until an epoch
// completes.
type History struct {
	RunID        string       `json:"run_id"`
	Epochs       []EpochStats `json:"epochs"`
	BestEpoch    int          `json:"best_epoch"`
	BestValLoss  float64      `json:"best_val_loss"`
	StoppedEarly bool         `json:"stopped_early"`
	Restored     bool         `json:"restored"`
}

func newHistory(runID string) *History {
	return &History{RunID: runID}
}

func (h *History) add(s EpochStats) {
	h.Epochs = append(h.Epochs, s)
	if h.BestEpoch == 0 || s.ValLoss < h.BestValLoss {
		h.BestValLoss = s.ValLoss
		h.BestEpoch = s.Epoch
	}
}

// LRReductions returns the epochs whose end reduced the learning rate.
func (h *History) LRReductions() []int {
	var out []int
	for _, s := range h.Epochs {
		if s.LRReduced {
			out = append(out, s.Epoch)
		}
	}
	return out
}
