package backend

import (
	"bufio"
	"crypto/md5"
	"encoding/binary"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/nlpodyssey/cybertron/pkg/vocabulary"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/movabo/newstsc/internal/layers"
)

// Table is a frozen (rows, dim) embedding matrix. Row 0 is the padding
// vector.
type Table struct {
	matrix *tensor.Dense
}

// NewTable wraps a (rows, dim) float32 matrix.
func NewTable(m *tensor.Dense) (*Table, error) {
	if m.Dims() != 2 || m.Dtype() != tensor.Float32 {
		return nil, errors.Errorf("embedding table must be a float32 matrix, got %v %v", m.Dtype(), m.Shape())
	}
	return &Table{matrix: m}, nil
}

func (t *Table) Rows() int { return t.matrix.Shape()[0] }
func (t *Table) Dim() int  { return t.matrix.Shape()[1] }

// Row returns the vector of index i. The slice aliases the table.
func (t *Table) Row(i int) []float32 {
	d := t.Dim()
	return t.matrix.Data().([]float32)[i*d : (i+1)*d]
}

// Lookup gathers the first lengths[b] vectors of every row into a
// (B, max(lengths), dim) tensor, zero past each row's length.
func (t *Table) Lookup(batch [][]int, lengths []int) (*tensor.Dense, error) {
	ids, err := layers.CompactIndices(batch, lengths)
	if err != nil {
		return nil, err
	}
	width, dim := layers.MaxLength(lengths), t.Dim()
	data := make([]float32, len(ids)*width*dim)
	for b, row := range ids {
		for pos, id := range row[:lengths[b]] {
			if id < 0 || id >= t.Rows() {
				return nil, errors.Errorf("row %d position %d: index %d outside table of %d rows", b, pos, id, t.Rows())
			}
			copy(data[(b*width+pos)*dim:], t.Row(id))
		}
	}
	return tensor.New(tensor.WithShape(len(ids), width, dim), tensor.WithBacking(data)), nil
}

// LoadVocabulary reads one term per line. The line number is the term's
// index, so the first line must be the padding token.
func LoadVocabulary(r io.Reader) (*vocabulary.Vocabulary, error) {
	voc := vocabulary.New(nil)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		voc.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read vocabulary")
	}
	if len(voc.Items()) == 0 {
		return nil, errors.New("empty vocabulary")
	}
	return voc, nil
}

// LoadGloVe builds a table for voc from GloVe text vectors ("word v1 … vdim"
// per line). Words missing from the file keep a zero vector, and so does
// the padding row. One spare zero row follows the vocabulary for
// out-of-vocabulary indices.
func LoadGloVe(r io.Reader, voc *vocabulary.Vocabulary, dim int) (*Table, int, error) {
	if dim <= 0 {
		return nil, 0, errors.Errorf("invalid embedding dim %d", dim)
	}
	rows := len(voc.Items()) + 1
	data := make([]float32, rows*dim)

	var found int
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) <= dim {
			continue
		}
		// words may contain spaces; the last dim fields are the vector
		word := strings.Join(fields[:len(fields)-dim], " ")
		id, ok := voc.ID(word)
		if !ok || id == layers.Pad {
			continue
		}
		row := data[id*dim : (id+1)*dim]
		for j, f := range fields[len(fields)-dim:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "glove line %d", line)
			}
			row[j] = float32(v)
		}
		found++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "read glove vectors")
	}
	t, err := NewTable(tensor.New(tensor.WithShape(rows, dim), tensor.WithBacking(data)))
	return t, found, err
}

// NewHashedTable fills a table for voc with deterministic vectors in
// [-1, 1), seeding each row from the md5 of its term. The padding row stays
// zero. It stands in for pretrained vectors in demos and tests.
func NewHashedTable(voc *vocabulary.Vocabulary, dim int) *Table {
	terms := voc.Items()
	data := make([]float32, len(terms)*dim)
	for id, term := range terms {
		if id == layers.Pad {
			continue
		}
		hash := md5.Sum([]byte(term))
		r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(hash[:8]))))
		for d := 0; d < dim; d++ {
			data[id*dim+d] = r.Float32()*2 - 1
		}
	}
	t, _ := NewTable(tensor.New(tensor.WithShape(len(terms), dim), tensor.WithBacking(data)))
	return t
}
