// Package loss implements cross-entropy with label smoothing regularization.
package loss

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrLabelOutOfRange is returned for a label outside [0, classes).
var ErrLabelOutOfRange = errors.New("label out of range")

// Reduction selects how per-row losses are aggregated.
type Reduction int

const (
	// Mean averages over the batch. It is the zero value.
	Mean Reduction = iota
	// Sum adds the per-row losses.
	Sum
)

// LabelSmoothing is cross-entropy against softened one-hot targets: every
// class receives Epsilon/classes (scaled by Weight when set) and the true
// class additionally receives 1-Epsilon.
type LabelSmoothing struct {
	Epsilon float64
	// Weight is an optional per-class multiplier applied to the uniform mass.
	Weight []float32
}

// New returns a LabelSmoothing loss. weight may be nil.
func New(epsilon float64, weight []float32) *LabelSmoothing {
	return &LabelSmoothing{Epsilon: epsilon, Weight: weight}
}

// Smooth builds the (batch, classes) target distribution for labels.
func (ls *LabelSmoothing) Smooth(labels []int, classes int) (*tensor.Dense, error) {
	if classes < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %d", classes)
	}
	if ls.Epsilon < 0 || ls.Epsilon >= 1 {
		return nil, errors.Errorf("smoothing epsilon %v outside [0,1)", ls.Epsilon)
	}
	if ls.Weight != nil && len(ls.Weight) != classes {
		return nil, errors.Errorf("class weight has %d entries, want %d", len(ls.Weight), classes)
	}
	if len(labels) == 0 {
		return nil, errors.New("empty label batch")
	}

	base := float32(ls.Epsilon / float64(classes))
	hit := float32(1 - ls.Epsilon)
	data := make([]float32, len(labels)*classes)
	for i, label := range labels {
		if label < 0 || label >= classes {
			return nil, errors.Wrapf(ErrLabelOutOfRange, "row %d has label %d with %d classes", i, label, classes)
		}
		row := data[i*classes : (i+1)*classes]
		for j := range row {
			row[j] = base
			if ls.Weight != nil {
				row[j] *= ls.Weight[j]
			}
		}
		row[label] += hit
	}
	return tensor.New(tensor.WithShape(len(labels), classes), tensor.WithBacking(data)), nil
}

// Loss appends the smoothed cross-entropy of pred, a (batch, classes) node of
// raw scores, to pred's graph and returns the scalar loss node.
func (ls *LabelSmoothing) Loss(pred *gorgonia.Node, labels []int, r Reduction) (*gorgonia.Node, error) {
	if pred.Dims() != 2 {
		return nil, errors.Errorf("predictions must be (batch, classes), got shape %v", pred.Shape())
	}
	// smoothed targets are float32
	if dt := pred.Dtype(); dt != tensor.Float32 {
		return nil, errors.Errorf("predictions must be float32, got %v", dt)
	}
	b, c := pred.Shape()[0], pred.Shape()[1]
	if len(labels) != b {
		return nil, errors.Errorf("%d labels for a batch of %d", len(labels), b)
	}
	smoothed, err := ls.Smooth(labels, c)
	if err != nil {
		return nil, err
	}
	g := pred.Graph()
	// input nodes are deduplicated by name, type and shape
	name := fmt.Sprintf("smoothed_labels_%d", len(g.AllNodes()))
	target := gorgonia.NodeFromAny(g, smoothed, gorgonia.WithName(name))

	logp, err := LogSoftmax(pred)
	if err != nil {
		return nil, err
	}
	prod, err := gorgonia.HadamardProd(target, logp)
	if err != nil {
		return nil, errors.Wrap(err, "weight log-probabilities")
	}
	rows, err := gorgonia.Sum(prod, 1)
	if err != nil {
		return nil, errors.Wrap(err, "sum over classes")
	}
	if rows, err = gorgonia.Neg(rows); err != nil {
		return nil, err
	}

	switch r {
	case Sum:
		return gorgonia.Sum(rows)
	default:
		return gorgonia.Mean(rows)
	}
}

// Eval computes the loss of concrete logits without keeping a graph around.
func (ls *LabelSmoothing) Eval(logits tensor.Tensor, labels []int, r Reduction) (float32, error) {
	g := gorgonia.NewGraph()
	pred := gorgonia.NodeFromAny(g, logits, gorgonia.WithName("logits"))
	cost, err := ls.Loss(pred, labels, r)
	if err != nil {
		return 0, err
	}
	var costVal gorgonia.Value
	gorgonia.Read(cost, &costVal)

	machine := gorgonia.NewTapeMachine(g)
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		return 0, errors.Wrap(err, "run loss graph")
	}
	v, ok := costVal.Data().(float32)
	if !ok {
		return 0, errors.Errorf("loss has dtype %T, want float32", costVal.Data())
	}
	return v, nil
}

// LogSoftmax returns log-probabilities along the last axis of a
// (batch, classes) node. Each row is shifted by its own maximum before the
// log-sum-exp, so extreme scores neither overflow nor underflow to -Inf.
func LogSoftmax(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 2 {
		return nil, errors.Errorf("log-softmax expects a (batch, classes) node, got %v", x.Shape())
	}
	rowMax, err := gorgonia.Max(x, 1)
	if err != nil {
		return nil, errors.Wrap(err, "row max")
	}
	shifted, err := gorgonia.BroadcastSub(x, rowMax, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "shift by row max")
	}
	exp, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(exp, 1)
	if err != nil {
		return nil, err
	}
	lse, err := gorgonia.Log(sum)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastSub(shifted, lse, nil, []byte{1})
}
