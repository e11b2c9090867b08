package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is an affine projection x·W + b over the last axis.
type Linear struct {
	In, Out int

	weight string
	bias   string
}

// NewLinear registers name_W (in, out) and name_b (1, out) in p.
func NewLinear(p *Params, name string, in, out int) *Linear {
	l := &Linear{In: in, Out: out, weight: name + "_W", bias: name + "_b"}
	p.Glorot(l.weight, in, out)
	p.Zeros(l.bias, 1, out)
	return l
}

// Forward projects a (N, in) or (B, S, in) node.
func (l *Linear) Forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	w, err := b.Node(l.weight)
	if err != nil {
		return nil, err
	}
	bias, err := b.Node(l.bias)
	if err != nil {
		return nil, err
	}

	switch x.Dims() {
	case 2:
		if x.Shape()[1] != l.In {
			return nil, errors.Errorf("linear %s expects width %d, got shape %v", l.weight, l.In, x.Shape())
		}
		out, err := gorgonia.Mul(x, w)
		if err != nil {
			return nil, err
		}
		// Bias (1, out) broadcast over rows.
		return gorgonia.BroadcastAdd(out, bias, nil, []byte{0})
	case 3:
		s := x.Shape()
		flat, err := gorgonia.Reshape(x, tensor.Shape{s[0] * s[1], s[2]})
		if err != nil {
			return nil, err
		}
		out, err := l.Forward(b, flat)
		if err != nil {
			return nil, err
		}
		return gorgonia.Reshape(out, tensor.Shape{s[0], s[1], l.Out})
	default:
		return nil, errors.Errorf("linear expects a rank 2 or 3 node, got shape %v", x.Shape())
	}
}

// project multiplies the last axis of a (B, S, d) node by a (d, k) node.
func project(x, w *gorgonia.Node) (*gorgonia.Node, error) {
	s := x.Shape()
	flat, err := gorgonia.Reshape(x, tensor.Shape{s[0] * s[1], s[2]})
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.Mul(flat, w)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(out, tensor.Shape{s[0], s[1], w.Shape()[1]})
}
