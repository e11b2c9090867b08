// Package aen implements the Attentional Encoder Network for
// target-dependent sentiment classification.
//
// A forward pass encodes the context and target sequences, attends from the
// context to itself and to the target, fuses both branches with a third
// attention, pools every branch by the context length and projects the
// concatenation to polarity logits.
package aen

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"

	"github.com/movabo/newstsc/internal/backend"
	"github.com/movabo/newstsc/internal/config"
	"github.com/movabo/newstsc/internal/layers"
)

// Model holds the parameters and encoders of one AEN variant.
type Model struct {
	Options config.Options
	Device  config.Device

	params  *layers.Params
	context backend.Encoder
	target  backend.Encoder

	attnK  *layers.Attention
	attnQ  *layers.Attention
	ffnC   *layers.FeedForward
	ffnT   *layers.FeedForward
	attnS1 *layers.Attention
	dense  *layers.Linear
}

// Deps are the embedding sources New picks from.
type Deps struct {
	Table       *backend.Table
	Transformer backend.Transformer
}

// New builds the variant named by opts.ModelName.
func New(opts config.Options, deps Deps) (*Model, error) {
	switch opts.ModelName {
	case config.ModelGloVe:
		if deps.Table == nil {
			return nil, errors.Errorf("%s needs an embedding table", opts.ModelName)
		}
		return NewGloVe(deps.Table, opts)
	case config.ModelDistilBERT, config.ModelBERT:
		if deps.Transformer == nil {
			return nil, errors.Errorf("%s needs a transformer", opts.ModelName)
		}
		if opts.ModelName == config.ModelDistilBERT {
			return NewDistilBERT(deps.Transformer, opts)
		}
		return NewBERT(deps.Transformer, opts)
	}
	return nil, errors.Wrapf(config.ErrInvalid, "unknown model_name %q", opts.ModelName)
}

// NewGloVe looks both sequences up in the same frozen table.
func NewGloVe(table *backend.Table, opts config.Options) (*Model, error) {
	opts.ModelName = config.ModelGloVe
	enc := backend.StaticEncoder{Table: table}
	return newModel(opts, enc, enc)
}

// NewDistilBERT feeds the context through the transformer's embedding layer
// only and the target through the full encoder, each followed by dropout.
func NewDistilBERT(tr backend.Transformer, opts config.Options) (*Model, error) {
	opts.ModelName = config.ModelDistilBERT
	return newModel(opts,
		backend.EmbeddingEncoder{Transformer: tr, Dropout: opts.Dropout},
		backend.TransformerEncoder{Transformer: tr, Dropout: opts.Dropout},
	)
}

// NewBERT feeds both sequences through the full encoder, each followed by
// dropout.
func NewBERT(tr backend.Transformer, opts config.Options) (*Model, error) {
	opts.ModelName = config.ModelBERT
	enc := backend.TransformerEncoder{Transformer: tr, Dropout: opts.Dropout}
	return newModel(opts, enc, enc)
}

func newModel(opts config.Options, context, target backend.Encoder) (*Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	in := opts.InputDim()
	if context.Dim() != in || target.Dim() != in {
		return nil, errors.Errorf("backend width %d/%d does not match input dim %d", context.Dim(), target.Dim(), in)
	}
	score, err := layers.ParseScoreFunction(opts.ScoreFunction)
	if err != nil {
		return nil, err
	}

	p := layers.NewParams(opts.Seed)
	m := &Model{
		Options: opts,
		Device:  opts.Device,
		params:  p,
		context: context,
		target:  target,
	}
	branch := layers.AttentionConfig{In: in, Heads: opts.Heads, Out: opts.HiddenDim, Score: score, Dropout: opts.Dropout}
	if m.attnK, err = layers.NewAttention(p, "attn_k", branch); err != nil {
		return nil, err
	}
	if m.attnQ, err = layers.NewAttention(p, "attn_q", branch); err != nil {
		return nil, err
	}
	m.ffnC = layers.NewFeedForward(p, "ffn_c", opts.HiddenDim, opts.Dropout)
	m.ffnT = layers.NewFeedForward(p, "ffn_t", opts.HiddenDim, opts.Dropout)
	fusion := layers.AttentionConfig{In: opts.HiddenDim, Heads: opts.Heads, Score: score, Dropout: opts.Dropout}
	if m.attnS1, err = layers.NewAttention(p, "attn_s1", fusion); err != nil {
		return nil, err
	}
	m.dense = layers.NewLinear(p, "dense", 3*opts.HiddenDim, opts.PolaritiesDim)
	return m, nil
}

// Params exposes the parameter store.
func (m *Model) Params() *layers.Params { return m.params }

type forwardConfig struct {
	training bool
}

// ForwardOption adjusts how a pass is built.
type ForwardOption func(*forwardConfig)

// WithTraining turns dropout on for the pass.
func WithTraining(on bool) ForwardOption {
	return func(c *forwardConfig) { c.training = on }
}

// Forward builds the pass for one batch. context and target are
// rectangular index batches with the same number of rows, padded with 0.
func (m *Model) Forward(context, target [][]int, opts ...ForwardOption) (*Pass, error) {
	var fc forwardConfig
	for _, o := range opts {
		o(&fc)
	}
	contextLen, err := layers.Lengths(context)
	if err != nil {
		return nil, errors.Wrap(err, "context")
	}
	targetLen, err := layers.Lengths(target)
	if err != nil {
		return nil, errors.Wrap(err, "target")
	}
	if len(contextLen) != len(targetLen) {
		return nil, errors.Errorf("%d context rows, %d target rows", len(contextLen), len(targetLen))
	}

	g := gorgonia.NewGraph()
	b := m.params.Bind(g, fc.training)
	pass := &Pass{
		Graph:      g,
		ContextLen: contextLen,
		TargetLen:  targetLen,
		binding:    b,
	}

	ctx, err := m.context.Encode(b, "context", context, contextLen)
	if err != nil {
		return nil, err
	}
	tgt, err := m.target.Encode(b, "target", target, targetLen)
	if err != nil {
		return nil, err
	}

	hc, _, err := m.attnK.Forward(b, ctx, ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self branch")
	}
	if pass.Self, err = m.ffnC.Forward(b, hc); err != nil {
		return nil, errors.Wrap(err, "self branch")
	}
	// query = context: rows of ht follow context positions
	ht, _, err := m.attnQ.Forward(b, ctx, tgt)
	if err != nil {
		return nil, errors.Wrap(err, "cross branch")
	}
	if pass.Cross, err = m.ffnT.Forward(b, ht); err != nil {
		return nil, errors.Wrap(err, "cross branch")
	}
	if pass.Fusion, _, err = m.attnS1.Forward(b, pass.Self, pass.Cross); err != nil {
		return nil, errors.Wrap(err, "fusion")
	}

	// all three branches have one row per context position
	if pass.SelfPooled, err = layers.MaskedMean(pass.Self, contextLen); err != nil {
		return nil, err
	}
	if pass.FusionPooled, err = layers.MaskedMean(pass.Fusion, contextLen); err != nil {
		return nil, err
	}
	if pass.CrossPooled, err = layers.MaskedMean(pass.Cross, contextLen); err != nil {
		return nil, err
	}

	x, err := gorgonia.Concat(1, pass.SelfPooled, pass.FusionPooled, pass.CrossPooled)
	if err != nil {
		return nil, errors.Wrap(err, "concat branches")
	}
	if pass.Logits, err = m.dense.Forward(b, x); err != nil {
		return nil, errors.Wrap(err, "dense")
	}
	return pass, nil
}
