package dataset

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/model"
)

// DefaultValSplit is the fraction of each class moved to validation.
const DefaultValSplit = 0.2

// SplitReport counts the files each class ended up with.
type SplitReport struct {
	Train map[model.Label]int
	Val   map[model.Label]int
}

// Split organizes a raw class-per-directory collection into training and
// validation roots.
//
// For every class, all files in src/<class> are moved into trainDir/<class>.
// Then a valSplit fraction of trainDir/<class> (rounded down, chosen by rng)
// is moved on into valDir/<class>. Files already present in trainDir take
// part in the draw, so running Split again on the same trainDir re-samples
// the whole class.
func Split(src, trainDir, valDir string, valSplit float64, rng *rand.Rand) (*SplitReport, error) {
	if valSplit < 0 || valSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in [0, 1), got %g", valSplit)
	}
	report := &SplitReport{
		Train: make(map[model.Label]int, 2),
		Val:   make(map[model.Label]int, 2),
	}
	for _, label := range model.Labels() {
		cls := label.String()
		srcDir := filepath.Join(src, cls)
		trainCls := filepath.Join(trainDir, cls)
		valCls := filepath.Join(valDir, cls)

		for _, dir := range []string{trainCls, valCls} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fault.Resource("dataset.Split", dir, err)
			}
		}

		incoming, err := listImages(srcDir)
		if err != nil {
			return nil, fault.IO("dataset.Split", srcDir, err)
		}
		for _, name := range incoming {
			if err := moveFile(filepath.Join(srcDir, name), filepath.Join(trainCls, name)); err != nil {
				return nil, fault.Resource("dataset.Split", srcDir, err)
			}
		}

		pool, err := listImages(trainCls)
		if err != nil {
			return nil, fault.IO("dataset.Split", trainCls, err)
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		valCount := int(float64(len(pool)) * valSplit)
		for _, name := range pool[:valCount] {
			if err := moveFile(filepath.Join(trainCls, name), filepath.Join(valCls, name)); err != nil {
				return nil, fault.Resource("dataset.Split", trainCls, err)
			}
		}
		report.Train[label] = len(pool) - valCount
		report.Val[label] = valCount
	}
	return report, nil
}

// moveFile renames src to dst, falling back to copy and delete when the
// two paths are on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if cerr := copyFile(src, dst); cerr != nil {
		return fmt.Errorf("move %s: %w", src, errors.Join(err, cerr))
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
