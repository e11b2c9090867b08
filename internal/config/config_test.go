package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default options should validate: %v", err)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aen.yaml")
	body := []byte("model_name: aen_bert\nbert_dim: 64\nhidden_dim: 32\nn_head: 4\npolarities_dim: 3\ndropout: 0.2\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEWSTSC_HIDDEN_DIM", "16")
	t.Setenv("NEWSTSC_LSR_EPSILON", "0.1")

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if opts.ModelName != ModelBERT {
		t.Errorf("model_name = %q, want %q", opts.ModelName, ModelBERT)
	}
	if opts.BertDim != 64 || opts.InputDim() != 64 {
		t.Errorf("bert_dim = %d, input dim = %d, want 64", opts.BertDim, opts.InputDim())
	}
	if opts.HiddenDim != 16 {
		t.Errorf("hidden_dim = %d, want env override 16", opts.HiddenDim)
	}
	if opts.LSREpsilon != 0.1 {
		t.Errorf("lsr_epsilon = %v, want 0.1", opts.LSREpsilon)
	}
	if opts.ScoreFunction != DefaultScoreFunction {
		t.Errorf("score_function = %q, want default %q", opts.ScoreFunction, DefaultScoreFunction)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"unknown model", func(o *Options) { o.ModelName = "aen_gpt" }},
		{"zero heads", func(o *Options) { o.Heads = 0 }},
		{"narrow hidden", func(o *Options) { o.HiddenDim = 4 }},
		{"narrow embed", func(o *Options) { o.EmbedDim = 6 }},
		{"single class", func(o *Options) { o.PolaritiesDim = 1 }},
		{"dropout one", func(o *Options) { o.Dropout = 1 }},
		{"negative epsilon", func(o *Options) { o.LSREpsilon = -0.1 }},
		{"epsilon one", func(o *Options) { o.LSREpsilon = 1 }},
		{"score", func(o *Options) { o.ScoreFunction = "cosine" }},
		{"device", func(o *Options) { o.Device = "tpu:0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.mutate(&o)
			err := o.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if errors.Cause(err) != ErrInvalid {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestGetenvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("NEWSTSC_TEST_INT", "twelve")
	if got := getenvInt("NEWSTSC_TEST_INT", 7); got != 7 {
		t.Errorf("getenvInt = %d, want fallback 7", got)
	}
	t.Setenv("NEWSTSC_TEST_FLOAT", "0.25")
	if got := getenvFloat("NEWSTSC_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getenvFloat = %v, want 0.25", got)
	}
}
