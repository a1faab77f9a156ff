// Package predict turns images into a class label and a score.
package predict

import (
	"fmt"
	"image"
	"io"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Result is a single prediction.
//
// Confidence is the raw sigmoid output, the model's score for NUTRITION.
// For a MALNUTRITION result it is therefore below 0.5.
type Result struct {
	Label      model.Label
	Confidence float32
}

// Predictor pairs a model with the preprocessing it was trained with. It
// holds no per-call state and is safe for concurrent use.
type Predictor struct {
	model *model.Classifier
	pre   *imageio.Preprocessor
}

// New creates a Predictor. The preprocessor must produce the model's input
// resolution.
func New(m *model.Classifier, pre *imageio.Preprocessor) (*Predictor, error) {
	if pre.Resolution() != m.Resolution() {
		return nil, fault.Shape("predict.New", fmt.Errorf("preprocessor resolution %d does not match model resolution %d",
			pre.Resolution(), m.Resolution()))
	}
	return &Predictor{model: m, pre: pre}, nil
}

// Model returns the underlying classifier.
func (p *Predictor) Model() *model.Classifier { return p.model }

// Preprocessor returns the image preprocessor.
func (p *Predictor) Preprocessor() *imageio.Preprocessor { return p.pre }

// PredictFile classifies the image at path.
func (p *Predictor) PredictFile(path string) (Result, error) {
	x, _, err := p.pre.Load(path)
	if err != nil {
		return Result{}, err
	}
	return p.PredictTensor(x)
}

// PredictReader classifies an encoded image read from r.
func (p *Predictor) PredictReader(r io.Reader) (Result, error) {
	x, _, err := p.pre.Decode(r)
	if err != nil {
		return Result{}, err
	}
	return p.PredictTensor(x)
}

// PredictImage classifies a decoded image.
func (p *Predictor) PredictImage(img image.Image) (Result, error) {
	x, _ := p.pre.FromImage(img)
	return p.PredictTensor(x)
}

// PredictTensor classifies a preprocessed [1, 3, R, R] tensor.
func (p *Predictor) PredictTensor(x *tensor.Tensor) (Result, error) {
	score, err := p.model.Probability(x)
	if err != nil {
		return Result{}, err
	}
	return Result{Label: model.LabelFor(score), Confidence: score}, nil
}
