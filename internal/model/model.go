// Package model defines the malnutrition classifier network.
//
// The architecture is fixed: three Conv2D(3x3, ReLU) + BatchNorm + MaxPool
// stages with 32, 64 and 128 filters, then Flatten, Dropout(0.5),
// Dense(128, ReLU) and Dense(1, sigmoid). The only free parameter is the
// square input resolution, which determines the flatten size.
package model

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/nn"
	"github.com/nutriscan/nutriscan/internal/serialization"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Defaults.
const (
	DefaultResolution = 224
	DefaultPath       = "models/malnutrition_model" + serialization.FileExtension
	DropoutRate       = 0.5
	Channels          = 3
)

// Artifact identity.
const (
	ModelType    = "Classifier"
	Architecture = "cnn3-bn-dense128"
)

// Metadata keys written to the artifact header.
const (
	metaResolution   = "resolution"
	metaArchitecture = "architecture"
	metaLabels       = "labels"
	metaLayout       = "input_layout"
)

var convFilters = [...]int{32, 64, 128}

// ErrNoConvLayer is returned by LastConv for a network without convolutions.
var ErrNoConvLayer = errors.New("model has no convolutional layer")

// Classifier is the binary image classifier.
//
// Weights change only through training. Inference methods allocate their
// own forward state, so a trained Classifier can serve concurrent callers.
type Classifier struct {
	resolution int
	net        *nn.Sequential
	backend    *cpu.CPUBackend
	layers     []nn.LayerInfo
}

type options struct {
	seed    int64
	backend *cpu.CPUBackend
}

// Option configures Build and Load.
type Option func(*options)

// WithSeed fixes the weight initialization seed.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithBackend sets the compute backend.
func WithBackend(b *cpu.CPUBackend) Option {
	return func(o *options) { o.backend = b }
}

// Build creates a freshly initialized classifier for res×res RGB input.
//
// Returns a shape error if res is too small for three conv and pool stages.
func Build(res int, opts ...Option) (*Classifier, error) {
	o := options{seed: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = cpu.New()
	}

	flat, err := flattenSize(res)
	if err != nil {
		return nil, fault.Shape("model.Build", err)
	}

	//nolint:gosec // weight init is not security-sensitive
	rng := rand.New(rand.NewSource(o.seed))
	b := o.backend

	var modules []nn.Module
	in := Channels
	for i, filters := range convFilters {
		modules = append(modules,
			nn.NewConv2D(kerasName("conv2d", i), in, filters, 3, 1, 0, nn.ActivationReLU, b, rng),
			nn.NewBatchNorm2D(kerasName("batch_normalization", i), filters, b),
			nn.NewMaxPool2D(kerasName("max_pooling2d", i), 2, 2, b),
		)
		in = filters
	}
	modules = append(modules,
		nn.NewFlatten("flatten"),
		nn.NewDropout("dropout", DropoutRate, b),
		nn.NewDense("dense", flat, 128, nn.ActivationReLU, b, rng),
		nn.NewDense("dense_1", 128, 1, nn.ActivationSigmoid, b, rng),
	)

	net := nn.NewSequential(modules...)
	layers, err := net.Layers(tensor.Shape{Channels, res, res})
	if err != nil {
		return nil, fault.Shape("model.Build", err)
	}

	return &Classifier{resolution: res, net: net, backend: b, layers: layers}, nil
}

// kerasName numbers repeated layers the way Keras does: conv2d, conv2d_1, ...
func kerasName(base string, i int) string {
	if i == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, i)
}

// flattenSize returns the number of features entering the dense head.
func flattenSize(res int) (int, error) {
	side := res
	for range convFilters {
		side -= 2 // valid 3x3 conv
		if side < 2 {
			return 0, fmt.Errorf("resolution %d is too small: feature map collapses to %dx%d before pooling", res, side, side)
		}
		side /= 2
	}
	return side * side * convFilters[len(convFilters)-1], nil
}

// Resolution returns the square input side length.
func (c *Classifier) Resolution() int { return c.resolution }

// InputShape returns the single-image input shape [1, 3, res, res].
func (c *Classifier) InputShape() tensor.Shape {
	return tensor.Shape{1, Channels, c.resolution, c.resolution}
}

// Network returns the underlying layer stack.
func (c *Classifier) Network() *nn.Sequential { return c.net }

// Backend returns the compute backend.
func (c *Classifier) Backend() *cpu.CPUBackend { return c.backend }

// Parameters returns all trainable parameters.
func (c *Classifier) Parameters() []*nn.Parameter { return c.net.Parameters() }

// Layers returns the ordered layer descriptors.
func (c *Classifier) Layers() []nn.LayerInfo {
	return append([]nn.LayerInfo(nil), c.layers...)
}

// LastConv returns the deepest convolutional layer.
func (c *Classifier) LastConv() (nn.LayerInfo, error) {
	for i := len(c.layers) - 1; i >= 0; i-- {
		if c.layers[i].Kind == nn.KindConv2D {
			return c.layers[i], nil
		}
	}
	return nn.LayerInfo{}, fault.Shape("model.LastConv", ErrNoConvLayer)
}

// Layer looks up a layer by name.
func (c *Classifier) Layer(name string) (nn.LayerInfo, error) {
	for _, l := range c.layers {
		if l.Name == name {
			return l, nil
		}
	}
	return nn.LayerInfo{}, fault.Shape("model.Layer", fmt.Errorf("no layer named %q", name))
}

// CheckInput verifies that x is a [N, 3, res, res] batch.
func (c *Classifier) CheckInput(x *tensor.Tensor) error {
	s := x.Shape()
	if len(s) != 4 || s[0] < 1 || s[1] != Channels || s[2] != c.resolution || s[3] != c.resolution {
		return fault.Shape("model.CheckInput",
			fmt.Errorf("input shape %v does not match model input [N %d %d %d]", s, Channels, c.resolution, c.resolution))
	}
	return nil
}

// Forward runs the network on a validated batch and returns [N, 1]
// probabilities.
func (c *Classifier) Forward(ctx *nn.Context, x *tensor.Tensor) *tensor.Tensor {
	return c.net.Forward(ctx, x)
}

// Predict returns the NUTRITION score of every image in the batch.
func (c *Classifier) Predict(x *tensor.Tensor) ([]float32, error) {
	if err := c.CheckInput(x); err != nil {
		return nil, err
	}
	out := c.net.Forward(nn.NewInferenceContext(), x)
	if !out.AllFinite() {
		return nil, fault.Numeric("model.Predict", errors.New("non-finite model output"))
	}
	return append([]float32(nil), out.Data()...), nil
}

// Probability returns the NUTRITION score in [0, 1] for a single image.
func (c *Classifier) Probability(x *tensor.Tensor) (float32, error) {
	if !x.Shape().Equal(c.InputShape()) {
		return 0, fault.Shape("model.Probability",
			fmt.Errorf("input shape %v does not match model input %v", x.Shape(), c.InputShape()))
	}
	p, err := c.Predict(x)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// StateDict returns every weight and running statistic keyed by name. The
// tensors are the live model tensors.
func (c *Classifier) StateDict() map[string]*tensor.Tensor {
	return c.net.StateDict()
}

// LoadStateDict replaces the model weights.
func (c *Classifier) LoadStateDict(state map[string]*tensor.Tensor) error {
	if err := c.net.LoadStateDict(state); err != nil {
		return fault.Shape("model.LoadStateDict", err)
	}
	return nil
}

// Snapshot returns a deep copy of the model state.
func (c *Classifier) Snapshot() map[string]*tensor.Tensor {
	live := c.net.StateDict()
	snap := make(map[string]*tensor.Tensor, len(live))
	for name, t := range live {
		snap[name] = t.Clone()
	}
	return snap
}

// Restore copies a snapshot back into the model.
func (c *Classifier) Restore(snap map[string]*tensor.Tensor) error {
	return c.LoadStateDict(snap)
}

// Save writes the model to path atomically. ckpt is optional training
// state recorded in the header.
func (c *Classifier) Save(path string, ckpt *serialization.CheckpointMeta) error {
	header := serialization.Header{
		ModelType: ModelType,
		Metadata: map[string]string{
			metaResolution:   strconv.Itoa(c.resolution),
			metaArchitecture: Architecture,
			metaLabels:       strings.Join(labelNames[:], ","),
			metaLayout:       "NCHW",
		},
		Checkpoint: ckpt,
	}
	if err := serialization.WriteFile(path, c.net.StateDict(), header); err != nil {
		return fault.Resource("model.Save", path, err)
	}
	return nil
}

// Load reads a model saved by Save.
func Load(path string, opts ...Option) (*Classifier, error) {
	f, err := serialization.ReadFile(path, serialization.ReaderOptions{})
	if err != nil {
		return nil, fault.IO("model.Load", path, err)
	}
	if f.Header.ModelType != ModelType {
		return nil, fault.IO("model.Load", path, fmt.Errorf("model type %q, want %q", f.Header.ModelType, ModelType))
	}
	if arch := f.Header.Metadata[metaArchitecture]; arch != Architecture {
		return nil, fault.IO("model.Load", path, fmt.Errorf("architecture %q, want %q", arch, Architecture))
	}
	res, err := strconv.Atoi(f.Header.Metadata[metaResolution])
	if err != nil {
		return nil, fault.IO("model.Load", path, fmt.Errorf("bad resolution metadata: %w", err))
	}

	c, err := Build(res, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.LoadStateDict(f.Tensors); err != nil {
		return nil, fault.WithPath(fault.KindShape, "model.Load", path, err)
	}
	return c, nil
}

// Info summarizes a model for display.
type Info struct {
	Resolution int            `json:"resolution"`
	Labels     []string       `json:"labels"`
	Params     int            `json:"params"`
	Layers     []nn.LayerInfo `json:"layers"`
}

// Describe returns a summary of the architecture.
func (c *Classifier) Describe() Info {
	total := 0
	for _, l := range c.layers {
		total += l.Params
	}
	return Info{
		Resolution: c.resolution,
		Labels:     labelNames[:],
		Params:     total,
		Layers:     c.Layers(),
	}
}
