package layers

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func ramp(shape ...int) *tensor.Dense {
	n := tensor.Shape(shape).TotalSize()
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.37))
	}
	return dense(shape, data...)
}

func TestAttentionShapes(t *testing.T) {
	for _, score := range []ScoreFunction{DotProduct, ScaledDotProduct, MLP, BiLinear} {
		t.Run(string(score), func(t *testing.T) {
			p := NewParams(3)
			attn, err := NewAttention(p, "attn", AttentionConfig{In: 12, Heads: 4, Out: 6, Score: score})
			if err != nil {
				t.Fatal(err)
			}
			if attn.Hidden != 3 {
				t.Fatalf("per-head width = %d, want 12/4", attn.Hidden)
			}

			g := gorgonia.NewGraph()
			q := Input(g, "q", ramp(2, 5, 12))
			k := Input(g, "k", ramp(2, 3, 12))
			out, weights, err := attn.Forward(p.Bind(g, false), q, k)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			// output rows follow the query
			if !out.Shape().Eq(tensor.Shape{2, 5, 6}) {
				t.Errorf("output shape = %v, want (2, 5, 6)", out.Shape())
			}
			if !weights.Shape().Eq(tensor.Shape{8, 5, 3}) {
				t.Errorf("weights shape = %v, want (8, 5, 3)", weights.Shape())
			}

			vals := run(t, g, out, weights)
			for _, v := range vals[0] {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("non-finite output %v", v)
				}
			}
			w := vals[1]
			for row := 0; row < 8*5; row++ {
				var sum float32
				for _, v := range w[row*3 : row*3+3] {
					sum += v
				}
				if math.Abs(float64(sum)-1) > 1e-5 {
					t.Fatalf("attention row %d sums to %v", row, sum)
				}
			}
		})
	}
}

func TestAttentionSingleKeyBroadcastsToEveryQuery(t *testing.T) {
	p := NewParams(5)
	attn, err := NewAttention(p, "attn", AttentionConfig{In: 4, Heads: 2, Score: MLP})
	if err != nil {
		t.Fatal(err)
	}
	g := gorgonia.NewGraph()
	q := Input(g, "q", ramp(2, 3, 4))
	k := Input(g, "k", ramp(2, 1, 4))
	out, weights, err := attn.Forward(p.Bind(g, false), q, k)
	if err != nil {
		t.Fatal(err)
	}
	if !weights.Shape().Eq(tensor.Shape{4, 3, 1}) {
		t.Fatalf("weights shape = %v, want (4, 3, 1)", weights.Shape())
	}
	got := run(t, g, out, weights)
	// one key position: it takes the whole weight of every query row
	for i, w := range got[1] {
		if math.Abs(float64(w)-1) > 1e-5 {
			t.Errorf("weight %d = %v, want 1", i, w)
		}
	}
	// and every query position of a row receives the same value
	for b := 0; b < 2; b++ {
		row := got[0][b*12 : (b+1)*12]
		for pos := 1; pos < 3; pos++ {
			if diff := cmp.Diff(row[:4], row[pos*4:(pos+1)*4], approx); diff != "" {
				t.Errorf("row %d position %d differs from position 0:\n%s", b, pos, diff)
			}
		}
	}
}

func TestAttentionDefaultsFloorPerHeadWidth(t *testing.T) {
	p := NewParams(1)
	attn, err := NewAttention(p, "attn", AttentionConfig{In: 300, Heads: 8, Out: 300, Score: MLP})
	if err != nil {
		t.Fatal(err)
	}
	if attn.Hidden != 37 {
		t.Errorf("per-head width = %d, want 37", attn.Hidden)
	}
	w, ok := p.Get("attn_wk_W")
	if !ok {
		t.Fatal("key projection not registered")
	}
	if !w.Shape().Eq(tensor.Shape{300, 296}) {
		t.Errorf("key projection shape = %v, want (300, 296)", w.Shape())
	}
}

func TestAttentionRejectsBadInput(t *testing.T) {
	p := NewParams(1)
	if _, err := NewAttention(p, "bad", AttentionConfig{In: 8, Heads: 2, Score: "cosine"}); err == nil {
		t.Error("expected an unknown score function error")
	}
	attn, err := NewAttention(p, "attn", AttentionConfig{In: 8, Heads: 2})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		q, k []int
	}{
		{[]int{1, 2, 6}, []int{1, 2, 8}},
		{[]int{2, 2, 8}, []int{1, 2, 8}},
		{[]int{2, 8}, []int{2, 8}},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			g := gorgonia.NewGraph()
			q := Input(g, "q", ramp(tt.q...))
			k := Input(g, "k", ramp(tt.k...))
			if _, _, err := attn.Forward(p.Bind(g, false), q, k); err == nil {
				t.Errorf("expected an error for query %v key %v", tt.q, tt.k)
			}
		})
	}
}

func TestParseScoreFunction(t *testing.T) {
	f, err := ParseScoreFunction("Scaled_Dot_Product")
	if err != nil || f != ScaledDotProduct {
		t.Errorf("ParseScoreFunction = %q, %v", f, err)
	}
	if _, err := ParseScoreFunction("additive"); err == nil {
		t.Error("expected an error")
	}
}
