package layers

import "gorgonia.org/gorgonia"

// Dropout zeroes activations with probability prob, but only on a training
// binding. Inference passes x through unchanged.
func Dropout(b *Binding, x *gorgonia.Node, prob float64) (*gorgonia.Node, error) {
	if !b.Training || prob <= 0 {
		return x, nil
	}
	return gorgonia.Dropout(x, prob)
}
