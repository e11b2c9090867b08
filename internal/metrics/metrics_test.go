package metrics

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-12)

func TestCompute(t *testing.T) {
	//            truth: 0  0  0  1  1  2  2  2
	pred := []int{0, 0, 1, 1, 2, 2, 2, 0}
	truth := []int{0, 0, 0, 1, 1, 2, 2, 2}
	c, err := Compute(pred, truth, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{
		2, 1, 0,
		0, 1, 1,
		1, 0, 2,
	}
	if diff := cmp.Diff(want, c.Matrix().RawMatrix().Data); diff != "" {
		t.Errorf("confusion mismatch (-want +got):\n%s", diff)
	}
	if c.Total() != 8 {
		t.Errorf("Total = %d, want 8", c.Total())
	}
	if diff := cmp.Diff(5.0/8, c.Accuracy(), approx); diff != "" {
		t.Errorf("accuracy (-want +got):\n%s", diff)
	}

	// class 0: tp 2, predicted 3, actual 3; class 1: tp 1, 2, 2; class 2: tp 2, 3, 3
	f1 := []float64{2 * 2.0 / 6, 2 * 1.0 / 4, 2 * 2.0 / 6}
	for k, w := range f1 {
		if diff := cmp.Diff(w, c.F1(k), approx); diff != "" {
			t.Errorf("F1(%d) (-want +got):\n%s", k, diff)
		}
	}
	if diff := cmp.Diff((f1[0]+f1[1]+f1[2])/3, c.MacroF1(), approx); diff != "" {
		t.Errorf("macro F1 (-want +got):\n%s", diff)
	}
}

func TestUndefinedF1IsZero(t *testing.T) {
	c, err := Compute([]int{0, 0}, []int{0, 1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.F1(2); got != 0 {
		t.Errorf("F1 of an absent class = %v, want 0", got)
	}
	// F1(0) = 2/3, F1(1) = 0, F1(2) = 0
	if diff := cmp.Diff(2.0/9, c.MacroF1(), approx); diff != "" {
		t.Errorf("macro F1 (-want +got):\n%s", diff)
	}
}

func TestEmptyTable(t *testing.T) {
	c := NewConfusion(3)
	if c.Accuracy() != 0 || c.MacroF1() != 0 {
		t.Errorf("empty table scored accuracy %v, macro F1 %v", c.Accuracy(), c.MacroF1())
	}
}

func TestMatrixIsACopy(t *testing.T) {
	c := NewConfusion(2)
	if err := c.Add(1, 1); err != nil {
		t.Fatal(err)
	}
	m := c.Matrix()
	m.Set(1, 1, 99)
	if c.Total() != 1 {
		t.Errorf("mutating the copy changed the table: total %d", c.Total())
	}
}

func TestComputeRejects(t *testing.T) {
	if _, err := Compute([]int{0}, []int{0, 1}, 2); err == nil {
		t.Error("expected an error for mismatched lengths")
	}
	if _, err := Compute([]int{3}, []int{0}, 2); err == nil {
		t.Error("expected an error for a prediction outside the classes")
	}
	if _, err := Compute([]int{0}, []int{-1}, 2); err == nil {
		t.Error("expected an error for a negative label")
	}
}
