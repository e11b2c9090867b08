package backend

import (
	"github.com/nlpodyssey/cybertron/pkg/models/bert"
	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
	bertencoding "github.com/nlpodyssey/cybertron/pkg/tasks/textencoding/bert"
	"github.com/nlpodyssey/cybertron/pkg/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/tensor"

	"github.com/movabo/newstsc/internal/layers"
)

// Cybertron serves per-token hidden states of a BERT model loaded with
// cybertron. Vocabulary ids index the model's wordpiece vocabulary.
type Cybertron struct {
	model *bert.Model
	log   zerolog.Logger
}

// LoadCybertron loads (and on first use downloads and converts) a Hugging
// Face BERT model into modelsDir.
func LoadCybertron(modelsDir, modelName string, log zerolog.Logger) (*Cybertron, error) {
	log.Info().Str("model", modelName).Str("dir", modelsDir).Msg("loading transformer")

	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: modelName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", modelName)
	}
	te, ok := m.(*bertencoding.TextEncoding)
	if !ok {
		return nil, errors.Errorf("%s is a %T, want a BERT text encoder", modelName, m)
	}
	c := NewCybertron(te.Model.Bert, log)
	log.Info().Int("dim", c.Dim()).Int("vocab", len(c.Vocabulary().Items())).Msg("transformer ready")
	return c, nil
}

// NewCybertron wraps an already loaded model.
func NewCybertron(m *bert.Model, log zerolog.Logger) *Cybertron {
	return &Cybertron{model: m, log: log}
}

func (c *Cybertron) Dim() int { return c.model.Config.HiddenSize }

// Vocabulary is the wordpiece vocabulary ids refer to.
func (c *Cybertron) Vocabulary() *vocabulary.Vocabulary { return c.model.Embeddings.Vocab }

func (c *Cybertron) Embed(batch [][]int, lengths []int) (*tensor.Dense, error) {
	return c.run(batch, lengths, c.model.Embeddings.EncodeTokens)
}

func (c *Cybertron) Encode(batch [][]int, lengths []int) (*tensor.Dense, error) {
	return c.run(batch, lengths, c.model.EncodeTokens)
}

func (c *Cybertron) run(batch [][]int, lengths []int, fn func([]string) []mat.Tensor) (*tensor.Dense, error) {
	ids, err := layers.CompactIndices(batch, lengths)
	if err != nil {
		return nil, err
	}
	width, dim := layers.MaxLength(lengths), c.Dim()
	if limit := c.model.Config.MaxPositionEmbeddings; limit > 0 && width > limit {
		return nil, errors.Errorf("sequence of %d tokens exceeds %d positions", width, limit)
	}

	data := make([]float32, len(ids)*width*dim)
	for b, row := range ids {
		tokens, err := terms(c.Vocabulary(), row[:lengths[b]])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", b)
		}
		states := fn(tokens)
		if len(states) != len(tokens) {
			return nil, errors.Errorf("row %d: %d states for %d tokens", b, len(states), len(tokens))
		}
		for pos, s := range states {
			v := s.Value().Data().F32()
			if len(v) != dim {
				return nil, errors.Errorf("row %d position %d: state width %d, want %d", b, pos, len(v), dim)
			}
			copy(data[(b*width+pos)*dim:], v)
		}
	}
	c.log.Debug().Int("batch", len(ids)).Int("positions", width).Msg("transformer states")
	return tensor.New(tensor.WithShape(len(ids), width, dim), tensor.WithBacking(data)), nil
}

// terms maps ids to vocabulary terms.
func terms(voc *vocabulary.Vocabulary, ids []int) ([]string, error) {
	items := voc.Items()
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(items) {
			return nil, errors.Errorf("id %d outside vocabulary of %d terms", id, len(items))
		}
		out[i] = items[id]
	}
	return out, nil
}
