package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/model"
)

func writeImage(t *testing.T, path string, v uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.NRGBA{R: v, G: v / 2, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--mode", "test"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

// TestWorkflow runs split, train, predict and explain against one temporary
// data tree.
func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	trainDir := filepath.Join(dir, "train")
	valDir := filepath.Join(dir, "val")
	modelPath := filepath.Join(dir, "model.nsm")

	for i := 0; i < 5; i++ {
		writeImage(t, filepath.Join(raw, model.Malnutrition.String(), fmt.Sprintf("m%d.png", i)), 0)
		writeImage(t, filepath.Join(raw, model.Nutrition.String(), fmt.Sprintf("n%d.png", i)), 255)
	}

	out, err := run(t, "split", "--raw-dir", raw, "--train-dir", trainDir, "--val-dir", valDir, "--val-split", "0.4")
	require.NoError(t, err)
	assert.Contains(t, out, "MALNUTRITION\ttrain=3\tval=2")
	assert.Contains(t, out, "NUTRITION\ttrain=3\tval=2")

	out, err = run(t, "train",
		"--model", modelPath, "--resolution", "22",
		"--train-dir", trainDir, "--val-dir", valDir,
		"--epochs", "2", "--batch-size", "2",
		"--history", filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "model saved to "+modelPath)
	assert.FileExists(t, modelPath)

	data, err := os.ReadFile(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	var hist struct {
		Epochs []json.RawMessage `json:"epochs"`
	}
	require.NoError(t, json.Unmarshal(data, &hist))
	assert.Len(t, hist.Epochs, 2)

	img := filepath.Join(valDir, model.Nutrition.String(), "sample.png")
	writeImage(t, img, 200)

	out, err = run(t, "predict", "--model", modelPath, "--json", img)
	require.NoError(t, err)
	var pred predictionOutput
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &pred))
	assert.Equal(t, img, pred.File)
	assert.Equal(t, model.LabelFor(pred.Confidence).String(), pred.Prediction)

	overlay := filepath.Join(dir, "overlay.png")
	_, err = run(t, "explain", "--model", modelPath, "--out", overlay, img)
	require.NoError(t, err)

	f, err := os.Open(overlay)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 22, cfg.Width)
	assert.Equal(t, 22, cfg.Height)
}

func TestPredict_MissingModel(t *testing.T) {
	_, err := run(t, "predict", "--model", filepath.Join(t.TempDir(), "none.nsm"), "x.png")
	assert.Error(t, err)
}
