// Package backend turns token-index batches into hidden representations:
// a frozen lookup table for static word vectors, and transformer encoders
// whose context side may bypass the encoder stack.
package backend

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/movabo/newstsc/internal/layers"
)

// Encoder produces the compacted (B, max(lengths), Dim) representation of an
// index batch inside the binding's graph.
type Encoder interface {
	Encode(b *layers.Binding, name string, batch [][]int, lengths []int) (*gorgonia.Node, error)
	Dim() int
}

// Transformer is a pretrained encoder addressed by vocabulary ids. Both
// methods read the first lengths[i] ids of row i and return a
// (B, max(lengths), Dim) tensor, zero past each row's length.
type Transformer interface {
	// Embed runs the embedding layer only.
	Embed(batch [][]int, lengths []int) (*tensor.Dense, error)
	// Encode runs the full encoder stack.
	Encode(batch [][]int, lengths []int) (*tensor.Dense, error)
	Dim() int
}

// StaticEncoder looks every sequence up in a frozen table.
type StaticEncoder struct {
	Table *Table
}

func (s StaticEncoder) Dim() int { return s.Table.Dim() }

func (s StaticEncoder) Encode(b *layers.Binding, name string, batch [][]int, lengths []int) (*gorgonia.Node, error) {
	x, err := s.Table.Lookup(batch, lengths)
	if err != nil {
		return nil, errors.Wrapf(err, "%s lookup", name)
	}
	return layers.Input(b.Graph(), name, x), nil
}

// EmbeddingEncoder passes sequences through the transformer's embedding
// layer only, followed by dropout. The encoder stack is bypassed.
type EmbeddingEncoder struct {
	Transformer Transformer
	Dropout     float64
}

func (e EmbeddingEncoder) Dim() int { return e.Transformer.Dim() }

func (e EmbeddingEncoder) Encode(b *layers.Binding, name string, batch [][]int, lengths []int) (*gorgonia.Node, error) {
	x, err := e.Transformer.Embed(batch, lengths)
	if err != nil {
		return nil, errors.Wrapf(err, "%s embedding", name)
	}
	if err := checkShape(x, lengths, e.Dim()); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return layers.Dropout(b, layers.Input(b.Graph(), name, x), e.Dropout)
}

// TransformerEncoder runs sequences through the full transformer, followed
// by dropout.
type TransformerEncoder struct {
	Transformer Transformer
	Dropout     float64
}

func (e TransformerEncoder) Dim() int { return e.Transformer.Dim() }

func (e TransformerEncoder) Encode(b *layers.Binding, name string, batch [][]int, lengths []int) (*gorgonia.Node, error) {
	x, err := e.Transformer.Encode(batch, lengths)
	if err != nil {
		return nil, errors.Wrapf(err, "%s encoding", name)
	}
	if err := checkShape(x, lengths, e.Dim()); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return layers.Dropout(b, layers.Input(b.Graph(), name, x), e.Dropout)
}

// checkShape verifies a backend result against the compacted batch.
func checkShape(x *tensor.Dense, lengths []int, dim int) error {
	want := tensor.Shape{len(lengths), layers.MaxLength(lengths), dim}
	if !x.Shape().Eq(want) {
		return errors.Errorf("backend returned shape %v, want %v", x.Shape(), want)
	}
	return nil
}
