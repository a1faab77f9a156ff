package dataset

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// writePNG writes a solid 8x8 image whose red channel encodes v.
func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: v, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// makeTree creates nMal and nNut images under root. Malnutrition images are
// black, nutrition images have full red.
func makeTree(t *testing.T, root string, nMal, nNut int) {
	t.Helper()
	for i := 0; i < nMal; i++ {
		writePNG(t, filepath.Join(root, "MALNUTRITION", name(i)), 0)
	}
	for i := 0; i < nNut; i++ {
		writePNG(t, filepath.Join(root, "NUTRITION", name(i)), 255)
	}
}

func name(i int) string {
	return string(rune('a'+i)) + ".png"
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 3, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "NUTRITION", "notes.txt"), []byte("x"), 0o644))

	ds, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, map[model.Label]int{model.Malnutrition: 3, model.Nutrition: 2}, ds.Counts())
	assert.Equal(t, model.Malnutrition, ds.Samples[0].Label)
	assert.Equal(t, filepath.Join(root, "MALNUTRITION", "a.png"), ds.Samples[0].Path)
	assert.Equal(t, model.Nutrition, ds.Samples[4].Label)
}

func TestLoad_MissingClassDir(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 2, 0)

	_, err := Load(root)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindIO))
}

func TestLoad_Empty(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "MALNUTRITION"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "NUTRITION"), 0o755))

	_, err := Load(root)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindIO))
}

func TestLoader_Batches(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 3, 2)
	ds, err := Load(root)
	require.NoError(t, err)
	pre, err := imageio.New(4, imageio.Nearest)
	require.NoError(t, err)

	l, err := NewLoader(ds, pre, 2, WithWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumBatches())

	var labels []float32
	for i := 0; i < l.NumBatches(); i++ {
		x, y, err := l.Batch(context.Background(), i)
		require.NoError(t, err)
		n := y.Shape()[0]
		assert.Equal(t, tensor.Shape{n, 3, 4, 4}, x.Shape())
		// Red channel of each image matches its label.
		for k := 0; k < n; k++ {
			assert.InDelta(t, y.Data()[k], x.Data()[k*48], 1e-6)
		}
		labels = append(labels, y.Data()...)
	}
	assert.Equal(t, []float32{0, 0, 0, 1, 1}, labels)

	_, _, err = l.Batch(context.Background(), 3)
	assert.Error(t, err)
}

func TestLoader_ShuffleKeepsPairs(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 4, 4)
	ds, err := Load(root)
	require.NoError(t, err)
	pre, err := imageio.New(4, imageio.Nearest)
	require.NoError(t, err)
	l, err := NewLoader(ds, pre, 8)
	require.NoError(t, err)

	l.Shuffle(rand.New(rand.NewSource(3)))
	x, y, err := l.Batch(context.Background(), 0)
	require.NoError(t, err)

	sum := float32(0)
	for k := 0; k < 8; k++ {
		assert.InDelta(t, y.Data()[k], x.Data()[k*48], 1e-6)
		sum += y.Data()[k]
	}
	assert.Equal(t, float32(4), sum)
}

func TestLoader_CorruptImage(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 1, 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "NUTRITION", "z.png"), []byte("not a png"), 0o644))
	ds, err := Load(root)
	require.NoError(t, err)
	pre, err := imageio.New(4, imageio.Nearest)
	require.NoError(t, err)
	l, err := NewLoader(ds, pre, 4)
	require.NoError(t, err)

	_, _, err = l.Batch(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindShape))
}

func TestLoader_Canceled(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, 2, 2)
	ds, err := Load(root)
	require.NoError(t, err)
	pre, err := imageio.New(4, imageio.Nearest)
	require.NoError(t, err)
	l, err := NewLoader(ds, pre, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = l.Batch(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemory(t *testing.T) {
	images := tensor.Zeros(tensor.Shape{3, 1, 2, 2})
	for i := range images.Data() {
		images.Data()[i] = float32(i / 4)
	}
	m, err := NewInMemory(images, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumBatches())
	assert.Equal(t, 3, m.Len())

	x, y, err := m.Batch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, x.Shape())
	assert.Equal(t, []float32{2, 2, 2, 2}, x.Data())
	assert.Equal(t, []float32{0}, y.Data())

	_, err = NewInMemory(images, []float32{0}, 2)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "raw")
	trainDir := filepath.Join(base, "train")
	valDir := filepath.Join(base, "validation")
	makeTree(t, src, 10, 5)

	report, err := Split(src, trainDir, valDir, 0.2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 8, report.Train[model.Malnutrition])
	assert.Equal(t, 2, report.Val[model.Malnutrition])
	assert.Equal(t, 4, report.Train[model.Nutrition])
	assert.Equal(t, 1, report.Val[model.Nutrition])

	left, err := listImages(filepath.Join(src, "MALNUTRITION"))
	require.NoError(t, err)
	assert.Empty(t, left)

	tr, err := Load(trainDir)
	require.NoError(t, err)
	va, err := Load(valDir)
	require.NoError(t, err)
	assert.Equal(t, 12, tr.Len())
	assert.Equal(t, 3, va.Len())

	seen := map[string]bool{}
	for _, s := range append(tr.Samples, va.Samples...) {
		key := s.Label.String() + "/" + filepath.Base(s.Path)
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
}

func TestSplit_BadFraction(t *testing.T) {
	_, err := Split("a", "b", "c", 1, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}
