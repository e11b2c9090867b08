package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Pad is the padding token index.
const Pad = 0

var (
	// ErrEmptySequence is returned for a row without a single token.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrInteriorPadding is returned when a token follows padding in a row.
	ErrInteriorPadding = errors.New("token after padding")
)

// Lengths counts the non-padding tokens of every row of a rectangular batch.
// Tokens must form a non-empty prefix of each row.
func Lengths(batch [][]int) ([]int, error) {
	if len(batch) == 0 {
		return nil, errors.New("empty batch")
	}
	width := len(batch[0])
	lengths := make([]int, len(batch))
	for i, row := range batch {
		if len(row) != width {
			return nil, errors.Errorf("row %d has %d positions, row 0 has %d", i, len(row), width)
		}
		n := 0
		for j, idx := range row {
			if idx == Pad {
				continue
			}
			if j != n {
				return nil, errors.Wrapf(ErrInteriorPadding, "row %d position %d", i, j)
			}
			n++
		}
		if n == 0 {
			return nil, errors.Wrapf(ErrEmptySequence, "row %d", i)
		}
		lengths[i] = n
	}
	return lengths, nil
}

// MaxLength is the largest entry of lengths.
func MaxLength(lengths []int) int {
	var m int
	for _, l := range lengths {
		if l > m {
			m = l
		}
	}
	return m
}

func checkLengths(lengths []int, rows, width int) error {
	if len(lengths) != rows {
		return errors.Errorf("%d lengths for %d rows", len(lengths), rows)
	}
	for i, l := range lengths {
		if l <= 0 {
			return errors.Wrapf(ErrEmptySequence, "row %d", i)
		}
		if l > width {
			return errors.Errorf("row %d length %d exceeds %d positions", i, l, width)
		}
	}
	return nil
}

// CompactIndices re-pads an index batch to the longest length in lengths.
// Row order and each row's first lengths[i] tokens are kept.
func CompactIndices(batch [][]int, lengths []int) ([][]int, error) {
	if len(batch) == 0 {
		return nil, errors.New("empty batch")
	}
	if err := checkLengths(lengths, len(batch), len(batch[0])); err != nil {
		return nil, err
	}
	width := MaxLength(lengths)
	out := make([][]int, len(batch))
	for i, row := range batch {
		out[i] = make([]int, width)
		copy(out[i], row[:lengths[i]])
	}
	return out, nil
}

// Mask is a (B, width) float32 tensor holding 1 at positions below each row's
// length and 0 elsewhere.
func Mask(lengths []int, width int) *tensor.Dense {
	data := make([]float32, len(lengths)*width)
	for b, l := range lengths {
		if l > width {
			l = width
		}
		for j := 0; j < l; j++ {
			data[b*width+j] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(lengths), width), tensor.WithBacking(data))
}
