// Package metrics scores predicted polarity labels against gold labels.
package metrics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Confusion counts predictions per (truth, predicted) pair. Rows are true
// classes, columns predicted classes.
type Confusion struct {
	m *mat.Dense
}

// NewConfusion returns an empty table over classes polarities.
func NewConfusion(classes int) *Confusion {
	if classes < 1 {
		panic("metrics: need at least one class")
	}
	return &Confusion{m: mat.NewDense(classes, classes, nil)}
}

// Compute builds the table for aligned prediction and truth slices.
func Compute(pred, truth []int, classes int) (*Confusion, error) {
	if len(pred) != len(truth) {
		return nil, errors.Errorf("%d predictions for %d labels", len(pred), len(truth))
	}
	c := NewConfusion(classes)
	for i := range pred {
		if err := c.Add(pred[i], truth[i]); err != nil {
			return nil, errors.Wrapf(err, "example %d", i)
		}
	}
	return c, nil
}

func (c *Confusion) Classes() int {
	r, _ := c.m.Dims()
	return r
}

// Add records one example.
func (c *Confusion) Add(pred, truth int) error {
	n := c.Classes()
	if pred < 0 || pred >= n || truth < 0 || truth >= n {
		return errors.Errorf("label pair (%d, %d) outside %d classes", pred, truth, n)
	}
	c.m.Set(truth, pred, c.m.At(truth, pred)+1)
	return nil
}

// Total is the number of recorded examples.
func (c *Confusion) Total() int { return int(mat.Sum(c.m)) }

// Accuracy is the trace over the total, 0 for an empty table.
func (c *Confusion) Accuracy() float64 {
	total := mat.Sum(c.m)
	if total == 0 {
		return 0
	}
	return mat.Trace(c.m) / total
}

// F1 of one class. An undefined score (no predictions and no examples of the
// class) is 0.
func (c *Confusion) F1(class int) float64 {
	tp := c.m.At(class, class)
	predicted := mat.Sum(c.m.ColView(class))
	actual := mat.Sum(c.m.RowView(class))
	if predicted+actual == 0 {
		return 0
	}
	return 2 * tp / (predicted + actual)
}

// MacroF1 averages F1 over every class.
func (c *Confusion) MacroF1() float64 {
	n := c.Classes()
	var sum float64
	for k := 0; k < n; k++ {
		sum += c.F1(k)
	}
	return sum / float64(n)
}

// Matrix returns a copy of the counts.
func (c *Confusion) Matrix() *mat.Dense {
	return mat.DenseCopyOf(c.m)
}
