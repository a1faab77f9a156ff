// Package dataset reads labeled image directories and feeds them to the
// trainer.
//
// A dataset root holds one subdirectory per class, named after the class:
//
//	root/
//	  MALNUTRITION/ *.jpg ...
//	  NUTRITION/    *.jpg ...
//
// Labels follow the alphabetical class order, so MALNUTRITION is 0 and
// NUTRITION is 1.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
)

// Sample is one labeled image file.
type Sample struct {
	Path  string
	Label model.Label
}

// Dataset is the list of samples under one root.
type Dataset struct {
	Root    string
	Samples []Sample
}

// Load scans root for the class subdirectories. Every class directory must
// exist and the dataset as a whole must not be empty.
func Load(root string) (*Dataset, error) {
	ds := &Dataset{Root: root}
	for _, label := range model.Labels() {
		dir := filepath.Join(root, label.String())
		files, err := listImages(dir)
		if err != nil {
			return nil, fault.IO("dataset.Load", dir, err)
		}
		for _, f := range files {
			ds.Samples = append(ds.Samples, Sample{Path: filepath.Join(dir, f), Label: label})
		}
	}
	if len(ds.Samples) == 0 {
		return nil, fault.IO("dataset.Load", root, fmt.Errorf("no images found"))
	}
	return ds, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// Counts returns the number of samples per class.
func (d *Dataset) Counts() map[model.Label]int {
	counts := make(map[model.Label]int, 2)
	for _, s := range d.Samples {
		counts[s.Label]++
	}
	return counts
}

// listImages returns the image file names in dir, sorted.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageio.IsImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
