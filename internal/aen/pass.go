package aen

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/movabo/newstsc/internal/layers"
	"github.com/movabo/newstsc/internal/loss"
)

// Pass is the expression graph of one forward call.
type Pass struct {
	Graph *gorgonia.ExprGraph
	// Logits is (B, polarities_dim), no activation applied.
	Logits *gorgonia.Node

	// Branch outputs, (B, context positions, hidden_dim).
	Self, Cross, Fusion *gorgonia.Node
	// Branch means, (B, hidden_dim).
	SelfPooled, CrossPooled, FusionPooled *gorgonia.Node

	ContextLen, TargetLen []int

	binding *layers.Binding
}

// Learnables are the parameter nodes of the pass, for gorgonia.Grad and a
// solver.
func (p *Pass) Learnables() gorgonia.Nodes { return p.binding.Learnables() }

// Loss appends the label-smoothing loss of the logits to the graph.
func (p *Pass) Loss(ls *loss.LabelSmoothing, labels []int, r loss.Reduction) (*gorgonia.Node, error) {
	return ls.Loss(p.Logits, labels, r)
}

// Run executes the graph once on a tape machine.
func (p *Pass) Run(opts ...gorgonia.VMOpt) error {
	machine := gorgonia.NewTapeMachine(p.Graph, opts...)
	defer machine.Close()
	return errors.Wrap(machine.RunAll(), "run pass")
}

// LogitsValue returns the logits after Run.
func (p *Pass) LogitsValue() (*tensor.Dense, error) {
	return denseValue(p.Logits)
}

func denseValue(n *gorgonia.Node) (*tensor.Dense, error) {
	v := n.Value()
	if v == nil {
		return nil, errors.Errorf("%s has no value, run the pass first", n.Name())
	}
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("%s holds a %T", n.Name(), v)
	}
	return d, nil
}

// Prediction is the inference result of a batch.
type Prediction struct {
	Labels []int
	// Probs[i] is the softmax of row i of Logits.
	Probs  [][]float64
	Logits *tensor.Dense
}

// Predict runs an inference pass (dropout off) and returns argmax labels with
// class probabilities.
func (m *Model) Predict(context, target [][]int) (*Prediction, error) {
	pass, err := m.Forward(context, target)
	if err != nil {
		return nil, err
	}
	if err := pass.Run(); err != nil {
		return nil, err
	}
	logits, err := pass.LogitsValue()
	if err != nil {
		return nil, err
	}
	return predictionFromLogits(logits)
}

func predictionFromLogits(logits *tensor.Dense) (*Prediction, error) {
	s := logits.Shape()
	if s.Dims() != 2 {
		return nil, errors.Errorf("logits must be (batch, classes), got %v", s)
	}
	data, ok := tensor.Materialize(logits).Data().([]float32)
	if !ok {
		return nil, errors.Errorf("logits have dtype %v", logits.Dtype())
	}
	rows, classes := s[0], s[1]
	pred := &Prediction{
		Labels: make([]int, rows),
		Probs:  make([][]float64, rows),
		Logits: logits,
	}
	for i := 0; i < rows; i++ {
		row := make([]float64, classes)
		for j := range row {
			row[j] = float64(data[i*classes+j])
		}
		lse := floats.LogSumExp(row)
		for j := range row {
			row[j] = math.Exp(row[j] - lse)
		}
		pred.Probs[i] = row
		pred.Labels[i] = floats.MaxIdx(row)
	}
	return pred, nil
}
