package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MaskedMean averages a (B, L, D) node over the first lengths[b] positions of
// each row and returns (B, D). Positions past a row's length are masked out
// before summing.
func MaskedMean(h *gorgonia.Node, lengths []int) (*gorgonia.Node, error) {
	if h.Dims() != 3 {
		return nil, errors.Errorf("masked mean expects (batch, positions, features), got %v", h.Shape())
	}
	s := h.Shape()
	if err := checkLengths(lengths, s[0], s[1]); err != nil {
		return nil, err
	}
	g := h.Graph()

	mask := Input(g, "mask", Mask(lengths, s[1]))
	masked, err := gorgonia.BroadcastHadamardProd(h, mask, nil, []byte{2})
	if err != nil {
		return nil, errors.Wrap(err, "apply mask")
	}
	sum, err := gorgonia.Sum(masked, 1)
	if err != nil {
		return nil, err
	}

	lens := make([]float32, len(lengths))
	for i, l := range lengths {
		lens[i] = float32(l)
	}
	denom := Input(g, "lengths", tensor.New(tensor.WithShape(len(lens)), tensor.WithBacking(lens)))
	return gorgonia.BroadcastHadamardDiv(sum, denom, nil, []byte{1})
}
