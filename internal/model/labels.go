package model

import "fmt"

// Label is a predicted class. Values are the class indices the network is
// trained against: directory names in alphabetical order.
type Label int

// Classes.
const (
	Malnutrition Label = 0
	Nutrition    Label = 1
)

// Threshold separates the two classes on the sigmoid output.
const Threshold = 0.5

var labelNames = [...]string{"MALNUTRITION", "NUTRITION"}

// Labels returns every class in index order.
func Labels() []Label {
	return []Label{Malnutrition, Nutrition}
}

// String returns the class directory name.
func (l Label) String() string {
	if l < 0 || int(l) >= len(labelNames) {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// ParseLabel maps a class directory name back to its label.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return 0, fmt.Errorf("unknown class %q", s)
}

// LabelFor applies the decision rule: scores below Threshold are
// MALNUTRITION, everything else NUTRITION.
func LabelFor(p float32) Label {
	if p < Threshold {
		return Malnutrition
	}
	return Nutrition
}
