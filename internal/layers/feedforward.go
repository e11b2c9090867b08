package layers

import "gorgonia.org/gorgonia"

// FeedForward is the position-wise block Linear → ReLU → Linear → dropout.
// The inner width equals the model width.
type FeedForward struct {
	Width   int
	Dropout float64

	w1, w2 *Linear
}

func NewFeedForward(p *Params, name string, width int, dropout float64) *FeedForward {
	return &FeedForward{
		Width:   width,
		Dropout: dropout,
		w1:      NewLinear(p, name+"_w1", width, width),
		w2:      NewLinear(p, name+"_w2", width, width),
	}
}

// Forward transforms every position of a (B, S, width) node independently.
func (f *FeedForward) Forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := f.w1.Forward(b, x)
	if err != nil {
		return nil, err
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, err
	}
	if h, err = f.w2.Forward(b, h); err != nil {
		return nil, err
	}
	return Dropout(b, h, f.Dropout)
}
