package layers

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ScoreFunction selects how a query position is compared with a key position.
type ScoreFunction string

const (
	DotProduct       ScoreFunction = "dot_product"
	ScaledDotProduct ScoreFunction = "scaled_dot_product"
	// MLP scores tanh(k·w_k + q·w_q).
	MLP      ScoreFunction = "mlp"
	BiLinear ScoreFunction = "bi_linear"
)

// ParseScoreFunction accepts the names above, case-insensitively.
func ParseScoreFunction(s string) (ScoreFunction, error) {
	switch f := ScoreFunction(strings.ToLower(s)); f {
	case DotProduct, ScaledDotProduct, MLP, BiLinear:
		return f, nil
	}
	return "", errors.Errorf("unknown score function %q", s)
}

// AttentionConfig sizes an Attention operator.
type AttentionConfig struct {
	In    int
	Heads int
	// Hidden is the per-head width. Zero means In/Heads.
	Hidden int
	// Out is the output width. Zero means In.
	Out     int
	Score   ScoreFunction
	Dropout float64
}

// Attention is multi-head attention whose values are the projected keys.
// The output has one row per query position.
type Attention struct {
	AttentionConfig

	name   string
	wk, wq *Linear
	proj   *Linear
	// mlp: name_wk, name_wq (hidden, 1); bi_linear: name_W (hidden, hidden)
	scoreWeights []string
}

// NewAttention registers the projections and score weights of one operator.
func NewAttention(p *Params, name string, cfg AttentionConfig) (*Attention, error) {
	if cfg.Heads == 0 {
		cfg.Heads = 1
	}
	if cfg.Hidden == 0 {
		cfg.Hidden = cfg.In / cfg.Heads
	}
	if cfg.Out == 0 {
		cfg.Out = cfg.In
	}
	if cfg.Score == "" {
		cfg.Score = DotProduct
	}
	if cfg.In <= 0 || cfg.Heads < 0 || cfg.Hidden <= 0 || cfg.Out <= 0 {
		return nil, errors.Errorf("attention %s: invalid sizes %+v", name, cfg)
	}
	if _, err := ParseScoreFunction(string(cfg.Score)); err != nil {
		return nil, errors.Wrapf(err, "attention %s", name)
	}

	width := cfg.Heads * cfg.Hidden
	a := &Attention{
		AttentionConfig: cfg,
		name:            name,
		wk:              NewLinear(p, name+"_wk", cfg.In, width),
		wq:              NewLinear(p, name+"_wq", cfg.In, width),
		proj:            NewLinear(p, name+"_proj", width, cfg.Out),
	}
	switch cfg.Score {
	case MLP:
		a.scoreWeights = []string{name + "_score_k", name + "_score_q"}
		p.Glorot(a.scoreWeights[0], cfg.Hidden, 1)
		p.Glorot(a.scoreWeights[1], cfg.Hidden, 1)
	case BiLinear:
		a.scoreWeights = []string{name + "_score_W"}
		p.Glorot(a.scoreWeights[0], cfg.Hidden, cfg.Hidden)
	}
	return a, nil
}

// Forward attends from every query position to all key positions.
// query is (B, Lq, In), key is (B, Lk, In). It returns the output
// (B, Lq, Out) and the attention weights (B·Heads, Lq, Lk), grouped by
// batch row and then by head.
func (a *Attention) Forward(b *Binding, query, key *gorgonia.Node) (out, weights *gorgonia.Node, err error) {
	if query.Dims() != 3 || key.Dims() != 3 {
		return nil, nil, errors.Errorf("attention %s expects rank 3 inputs, got %v and %v", a.name, query.Shape(), key.Shape())
	}
	qs, ks := query.Shape(), key.Shape()
	if qs[0] != ks[0] {
		return nil, nil, errors.Errorf("attention %s: batch %d for query, %d for key", a.name, qs[0], ks[0])
	}
	if qs[2] != a.In || ks[2] != a.In {
		return nil, nil, errors.Errorf("attention %s expects width %d, got %v and %v", a.name, a.In, qs, ks)
	}
	batch, lq, lk := qs[0], qs[1], ks[1]

	kx, err := a.wk.Forward(b, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "key projection")
	}
	qx, err := a.wq.Forward(b, query)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query projection")
	}
	if kx, err = a.splitHeads(kx, batch, lk); err != nil {
		return nil, nil, err
	}
	if qx, err = a.splitHeads(qx, batch, lq); err != nil {
		return nil, nil, err
	}

	scores, err := a.score(b, qx, kx)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "attention %s score", a.name)
	}

	// Softmax over keys: flatten -> SoftMax -> reshape. The axis is explicit
	// since gorgonia treats a (rows, 1) column as one vector.
	n := batch * a.Heads
	flat, err := gorgonia.Reshape(scores, tensor.Shape{n * lq, lk})
	if err != nil {
		return nil, nil, err
	}
	probsFlat, err := gorgonia.SoftMax(flat, 1)
	if err != nil {
		return nil, nil, err
	}
	probs, err := gorgonia.Reshape(probsFlat, tensor.Shape{n, lq, lk})
	if err != nil {
		return nil, nil, err
	}

	ctx, err := gorgonia.BatchedMatMul(probs, kx)
	if err != nil {
		return nil, nil, err
	}
	if ctx, err = a.mergeHeads(ctx, batch, lq); err != nil {
		return nil, nil, err
	}
	if out, err = a.proj.Forward(b, ctx); err != nil {
		return nil, nil, errors.Wrap(err, "output projection")
	}
	if out, err = Dropout(b, out, a.Dropout); err != nil {
		return nil, nil, err
	}
	return out, probs, nil
}

func (a *Attention) score(b *Binding, qx, kx *gorgonia.Node) (*gorgonia.Node, error) {
	switch a.Score {
	case DotProduct, ScaledDotProduct:
		kt, err := gorgonia.Transpose(kx, 0, 2, 1)
		if err != nil {
			return nil, err
		}
		s, err := gorgonia.BatchedMatMul(qx, kt)
		if err != nil || a.Score == DotProduct {
			return s, err
		}
		scale := gorgonia.NewConstant(float32(1 / math.Sqrt(float64(a.Hidden))))
		return gorgonia.HadamardProd(s, scale)

	case MLP:
		wk, err := b.Node(a.scoreWeights[0])
		if err != nil {
			return nil, err
		}
		wq, err := b.Node(a.scoreWeights[1])
		if err != nil {
			return nil, err
		}
		kw, err := project(kx, wk) // (n, Lk, 1)
		if err != nil {
			return nil, err
		}
		qw, err := project(qx, wq) // (n, Lq, 1)
		if err != nil {
			return nil, err
		}
		ks := kw.Shape()
		if kw, err = gorgonia.Reshape(kw, tensor.Shape{ks[0], 1, ks[1]}); err != nil {
			return nil, err
		}
		sum, err := gorgonia.BroadcastAdd(qw, kw, []byte{2}, []byte{1})
		if err != nil {
			return nil, err
		}
		return gorgonia.Tanh(sum)

	case BiLinear:
		w, err := b.Node(a.scoreWeights[0])
		if err != nil {
			return nil, err
		}
		qw, err := project(qx, w)
		if err != nil {
			return nil, err
		}
		kt, err := gorgonia.Transpose(kx, 0, 2, 1)
		if err != nil {
			return nil, err
		}
		return gorgonia.BatchedMatMul(qw, kt)
	}
	return nil, errors.Errorf("unknown score function %q", a.Score)
}

// splitHeads turns (B, L, H·d) into (B·H, L, d).
func (a *Attention) splitHeads(x *gorgonia.Node, batch, length int) (*gorgonia.Node, error) {
	if a.Heads == 1 {
		return x, nil
	}
	x, err := gorgonia.Reshape(x, tensor.Shape{batch, length, a.Heads, a.Hidden})
	if err != nil {
		return nil, err
	}
	if x, err = gorgonia.Transpose(x, 0, 2, 1, 3); err != nil {
		return nil, err
	}
	return gorgonia.Reshape(x, tensor.Shape{batch * a.Heads, length, a.Hidden})
}

// mergeHeads is the inverse of splitHeads.
func (a *Attention) mergeHeads(x *gorgonia.Node, batch, length int) (*gorgonia.Node, error) {
	if a.Heads == 1 {
		return x, nil
	}
	x, err := gorgonia.Reshape(x, tensor.Shape{batch, a.Heads, length, a.Hidden})
	if err != nil {
		return nil, err
	}
	if x, err = gorgonia.Transpose(x, 0, 2, 1, 3); err != nil {
		return nil, err
	}
	return gorgonia.Reshape(x, tensor.Shape{batch, length, a.Heads * a.Hidden})
}
