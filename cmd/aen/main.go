// Command aen builds an AEN model from a config file and classifies a YAML
// batch of index sequences, reporting probabilities and, for labeled
// batches, the label-smoothing loss and evaluation metrics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/movabo/newstsc/internal/aen"
	"github.com/movabo/newstsc/internal/backend"
	"github.com/movabo/newstsc/internal/config"
	"github.com/movabo/newstsc/internal/loss"
	"github.com/movabo/newstsc/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "YAML options file (defaults when empty)")
	batchPath := flag.String("batch", "", "YAML batch of examples to classify")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if *batchPath == "" {
		log.Fatal().Msg("-batch is required")
	}
	if err := run(*configPath, *batchPath, log); err != nil {
		log.Fatal().Err(err).Msg("aen failed")
	}
}

func run(configPath, batchPath string, log zerolog.Logger) error {
	opts, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("model", opts.ModelName).
		Int("hidden_dim", opts.HiddenDim).
		Int("n_head", opts.Heads).
		Str("score_function", opts.ScoreFunction).
		Msg("options loaded")

	deps, err := buildDeps(opts, log)
	if err != nil {
		return err
	}
	model, err := aen.New(opts, deps)
	if err != nil {
		return err
	}
	log.Info().Int("tensors", model.Params().Count()).Msg("model built")

	bf, err := loadBatch(batchPath)
	if err != nil {
		return err
	}
	context, target := bf.Rows()
	pred, err := model.Predict(context, target)
	if err != nil {
		return errors.Wrap(err, "predict")
	}
	for i, probs := range pred.Probs {
		fmt.Printf("example %d: label %d probs %.4f\n", i, pred.Labels[i], probs)
	}

	labels := bf.Labels()
	if labels == nil {
		log.Info().Msg("batch is unlabeled, skipping loss and metrics")
		return nil
	}
	cost, err := loss.New(opts.LSREpsilon, nil).Eval(pred.Logits, labels, loss.Mean)
	if err != nil {
		return errors.Wrap(err, "loss")
	}
	conf, err := metrics.Compute(pred.Labels, labels, opts.PolaritiesDim)
	if err != nil {
		return err
	}
	fmt.Printf("loss %.4f accuracy %.4f macro-F1 %.4f\n", cost, conf.Accuracy(), conf.MacroF1())
	return nil
}

// buildDeps loads the embedding source the configured variant needs.
func buildDeps(opts config.Options, log zerolog.Logger) (aen.Deps, error) {
	if opts.ModelName != config.ModelGloVe {
		tr, err := backend.LoadCybertron(opts.ModelsDir, opts.PretrainedName, log)
		if err != nil {
			return aen.Deps{}, err
		}
		return aen.Deps{Transformer: tr}, nil
	}

	if opts.VocabFile == "" {
		return aen.Deps{}, errors.Wrap(config.ErrInvalid, "vocab_file is required for "+config.ModelGloVe)
	}
	vf, err := os.Open(opts.VocabFile)
	if err != nil {
		return aen.Deps{}, errors.Wrap(err, "open vocabulary")
	}
	defer vf.Close()
	voc, err := backend.LoadVocabulary(vf)
	if err != nil {
		return aen.Deps{}, err
	}

	if opts.EmbeddingFile == "" {
		log.Warn().Int("terms", len(voc.Items())).Msg("no embedding_file, using hashed vectors")
		return aen.Deps{Table: backend.NewHashedTable(voc, opts.EmbedDim)}, nil
	}
	ef, err := os.Open(opts.EmbeddingFile)
	if err != nil {
		return aen.Deps{}, errors.Wrap(err, "open embeddings")
	}
	defer ef.Close()
	table, found, err := backend.LoadGloVe(ef, voc, opts.EmbedDim)
	if err != nil {
		return aen.Deps{}, err
	}
	log.Info().Int("terms", len(voc.Items())).Int("found", found).Msg("glove table loaded")
	return aen.Deps{Table: table}, nil
}
