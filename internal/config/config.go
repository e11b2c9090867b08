// Package config holds the option bundle shared by every AEN variant.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid options")

// Defaults of the reference training setup.
const (
	DefaultEmbedDim      = 300
	DefaultBertDim       = 768
	DefaultHiddenDim     = 300
	DefaultDropout       = 0.1
	DefaultPolaritiesDim = 3
	DefaultHeads         = 8
	DefaultScoreFunction = "mlp"
	DefaultLSREpsilon    = 0.2
	DefaultModelName     = "aen_glove"
	DefaultPretrained    = "bert-base-uncased"
	DefaultModelsDir     = "./models"
)

// Model names understood by aen.New.
const (
	ModelGloVe      = "aen_glove"
	ModelDistilBERT = "aen_distilbert"
	ModelBERT       = "aen_bert"
)

// Device identifies the compute target. It is chosen once and kept for the
// model's lifetime.
type Device string

const CPU Device = "cpu"

// Options is the configuration bundle of a model instance.
type Options struct {
	ModelName     string  `yaml:"model_name"`
	EmbedDim      int     `yaml:"embed_dim"`
	BertDim       int     `yaml:"bert_dim"`
	HiddenDim     int     `yaml:"hidden_dim"`
	Dropout       float64 `yaml:"dropout"`
	PolaritiesDim int     `yaml:"polarities_dim"`
	Device        Device  `yaml:"device"`
	Heads         int     `yaml:"n_head"`
	ScoreFunction string  `yaml:"score_function"`
	LSREpsilon    float64 `yaml:"lsr_epsilon"`
	Seed          int64   `yaml:"seed"`

	// backend sources
	PretrainedName string `yaml:"pretrained_bert_name"`
	ModelsDir      string `yaml:"models_dir"`
	EmbeddingFile  string `yaml:"embedding_file"`
	VocabFile      string `yaml:"vocab_file"`
}

// Default returns the options of the reference setup.
func Default() Options {
	return Options{
		ModelName:      DefaultModelName,
		EmbedDim:       DefaultEmbedDim,
		BertDim:        DefaultBertDim,
		HiddenDim:      DefaultHiddenDim,
		Dropout:        DefaultDropout,
		PolaritiesDim:  DefaultPolaritiesDim,
		Device:         CPU,
		Heads:          DefaultHeads,
		ScoreFunction:  DefaultScoreFunction,
		LSREpsilon:     DefaultLSREpsilon,
		PretrainedName: DefaultPretrained,
		ModelsDir:      DefaultModelsDir,
	}
}

// Load reads a YAML file on top of Default, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Options, error) {
	opts := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, errors.Wrapf(err, "decode config %s", path)
		}
	}
	opts.ApplyEnv()
	return opts, opts.Validate()
}

// ApplyEnv overrides fields from NEWSTSC_* environment variables.
func (o *Options) ApplyEnv() {
	o.ModelName = getenvString("NEWSTSC_MODEL_NAME", o.ModelName)
	o.EmbedDim = getenvInt("NEWSTSC_EMBED_DIM", o.EmbedDim)
	o.BertDim = getenvInt("NEWSTSC_BERT_DIM", o.BertDim)
	o.HiddenDim = getenvInt("NEWSTSC_HIDDEN_DIM", o.HiddenDim)
	o.Dropout = getenvFloat("NEWSTSC_DROPOUT", o.Dropout)
	o.PolaritiesDim = getenvInt("NEWSTSC_POLARITIES_DIM", o.PolaritiesDim)
	o.Device = Device(getenvString("NEWSTSC_DEVICE", string(o.Device)))
	o.Heads = getenvInt("NEWSTSC_N_HEAD", o.Heads)
	o.ScoreFunction = getenvString("NEWSTSC_SCORE_FUNCTION", o.ScoreFunction)
	o.LSREpsilon = getenvFloat("NEWSTSC_LSR_EPSILON", o.LSREpsilon)
	o.Seed = int64(getenvInt("NEWSTSC_SEED", int(o.Seed)))
	o.PretrainedName = getenvString("NEWSTSC_PRETRAINED_BERT_NAME", o.PretrainedName)
	o.ModelsDir = getenvString("NEWSTSC_MODELS_DIR", o.ModelsDir)
	o.EmbeddingFile = getenvString("NEWSTSC_EMBEDDING_FILE", o.EmbeddingFile)
	o.VocabFile = getenvString("NEWSTSC_VOCAB_FILE", o.VocabFile)
}

// InputDim is the backend feature width the attention operators expect:
// embed_dim for the static variant, bert_dim otherwise.
func (o Options) InputDim() int {
	if o.ModelName == ModelGloVe {
		return o.EmbedDim
	}
	return o.BertDim
}

// Validate checks every option the model relies on.
func (o Options) Validate() error {
	switch o.ModelName {
	case ModelGloVe, ModelDistilBERT, ModelBERT:
	default:
		return errors.Wrapf(ErrInvalid, "unknown model_name %q", o.ModelName)
	}
	if o.Heads < 1 {
		return errors.Wrapf(ErrInvalid, "n_head must be positive, got %d", o.Heads)
	}
	// per-head width is width/n_head rounded down and must not be zero
	if in := o.InputDim(); in < o.Heads {
		return errors.Wrapf(ErrInvalid, "input dim %d is narrower than %d heads", in, o.Heads)
	}
	if o.HiddenDim < o.Heads {
		return errors.Wrapf(ErrInvalid, "hidden_dim %d is narrower than %d heads", o.HiddenDim, o.Heads)
	}
	if o.PolaritiesDim < 2 {
		return errors.Wrapf(ErrInvalid, "polarities_dim must be at least 2, got %d", o.PolaritiesDim)
	}
	if o.Dropout < 0 || o.Dropout >= 1 {
		return errors.Wrapf(ErrInvalid, "dropout %v outside [0,1)", o.Dropout)
	}
	if o.LSREpsilon < 0 || o.LSREpsilon >= 1 {
		return errors.Wrapf(ErrInvalid, "lsr_epsilon %v outside [0,1)", o.LSREpsilon)
	}
	switch strings.ToLower(o.ScoreFunction) {
	case "dot_product", "scaled_dot_product", "mlp", "bi_linear":
	default:
		return errors.Wrapf(ErrInvalid, "unknown score_function %q", o.ScoreFunction)
	}
	if o.Device != CPU {
		return errors.Wrapf(ErrInvalid, "unsupported device %q", o.Device)
	}
	return nil
}

func getenvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
