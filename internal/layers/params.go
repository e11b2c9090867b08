// Package layers holds the building blocks of the attentional encoder:
// parameter storage, projections, multi-head attention, the position-wise
// feed-forward block, sequence compaction and length-aware pooling.
//
// Parameters live outside any expression graph. Every forward pass builds a
// fresh graph and binds the parameter tensors into it, because sequence
// compaction fixes the positional axis per batch.
package layers

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Dtype is the element type of every tensor in the model.
var Dtype = tensor.Float32

// Params owns the learnable tensors of a model, keyed by name.
type Params struct {
	rng    *rand.Rand
	names  []string
	values map[string]*tensor.Dense
}

// NewParams returns an empty store. A non-zero seed makes initialisation
// reproducible; zero falls back to gorgonia's time-seeded Glorot sampler.
func NewParams(seed int64) *Params {
	p := &Params{values: make(map[string]*tensor.Dense)}
	if seed != 0 {
		p.rng = rand.New(rand.NewSource(seed))
	}
	return p
}

// Glorot registers a Glorot-uniform initialised parameter.
func (p *Params) Glorot(name string, shape ...int) *tensor.Dense {
	var data []float32
	if p.rng == nil {
		data = gorgonia.GlorotEtAlU32(1.0, shape...)
	} else {
		data = p.glorotUniform(shape...)
	}
	return p.add(name, tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)))
}

// Zeros registers a zero-initialised parameter (biases).
func (p *Params) Zeros(name string, shape ...int) *tensor.Dense {
	return p.add(name, tensor.New(tensor.WithShape(shape...), tensor.Of(Dtype)))
}

func (p *Params) add(name string, t *tensor.Dense) *tensor.Dense {
	if _, dup := p.values[name]; dup {
		panic(fmt.Sprintf("parameter %q registered twice", name))
	}
	p.names = append(p.names, name)
	p.values[name] = t
	return t
}

// glorotUniform samples U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func (p *Params) glorotUniform(shape ...int) []float32 {
	fanIn, fanOut := 1, shape[0]
	if len(shape) > 1 {
		fanIn, fanOut = shape[0], shape[1]
		for _, s := range shape[2:] {
			fanIn *= s
			fanOut *= s
		}
	}
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float32, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = float32((p.rng.Float64()*2 - 1) * limit)
	}
	return data
}

// Get returns the tensor registered under name.
func (p *Params) Get(name string) (*tensor.Dense, bool) {
	t, ok := p.values[name]
	return t, ok
}

// Set overwrites a parameter with a value of the same shape, copying it.
func (p *Params) Set(name string, v tensor.Tensor) error {
	t, ok := p.values[name]
	if !ok {
		return errors.Errorf("unknown parameter %q", name)
	}
	if !t.Shape().Eq(v.Shape()) {
		return errors.Errorf("parameter %q has shape %v, got %v", name, t.Shape(), v.Shape())
	}
	src, ok := tensor.Materialize(v).Data().([]float32)
	if !ok {
		return errors.Errorf("parameter %q expects float32 data, got %v", name, v.Dtype())
	}
	copy(t.Data().([]float32), src)
	return nil
}

// Names lists parameters in registration order.
func (p *Params) Names() []string {
	return append([]string(nil), p.names...)
}

// Count is the total number of scalar parameters.
func (p *Params) Count() int {
	var n int
	for _, t := range p.values {
		n += t.Shape().TotalSize()
	}
	return n
}

// Bind attaches the store to g. training switches dropout on for every
// layer that runs against the returned binding.
func (p *Params) Bind(g *gorgonia.ExprGraph, training bool) *Binding {
	return &Binding{
		Training: training,
		g:        g,
		params:   p,
		nodes:    make(map[string]*gorgonia.Node),
	}
}

// Binding is the view of a Params store from one expression graph.
type Binding struct {
	Training bool

	g      *gorgonia.ExprGraph
	params *Params
	nodes  map[string]*gorgonia.Node
}

// Graph is the graph parameters are bound into.
func (b *Binding) Graph() *gorgonia.ExprGraph { return b.g }

// Node returns the graph node of a parameter, creating it on first use.
// The node's value is the stored tensor itself, so a solver stepping on the
// node updates the store.
func (b *Binding) Node(name string) (*gorgonia.Node, error) {
	if n, ok := b.nodes[name]; ok {
		return n, nil
	}
	t, ok := b.params.values[name]
	if !ok {
		return nil, errors.Errorf("unknown parameter %q", name)
	}
	n := gorgonia.NodeFromAny(b.g, t, gorgonia.WithName(name))
	b.nodes[name] = n
	return n, nil
}

// Learnables returns the bound parameter nodes in registration order.
func (b *Binding) Learnables() gorgonia.Nodes {
	out := make(gorgonia.Nodes, 0, len(b.nodes))
	for _, name := range b.params.names {
		if n, ok := b.nodes[name]; ok {
			out = append(out, n)
		}
	}
	return out
}

// BoundNames lists the names of bound parameters, sorted.
func (b *Binding) BoundNames() []string {
	names := make([]string, 0, len(b.nodes))
	for name := range b.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Input wraps a non-learnable value (masks, lengths, encoder output) into g
// under a name that cannot collide with any earlier input node.
func Input(g *gorgonia.ExprGraph, prefix string, v tensor.Tensor) *gorgonia.Node {
	name := fmt.Sprintf("%s_%d", prefix, len(g.AllNodes()))
	return gorgonia.NodeFromAny(g, v, gorgonia.WithName(name))
}
