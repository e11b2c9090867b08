package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/movabo/newstsc/internal/layers"
)

// Example is one (context, target, label) triple of vocabulary indices.
type Example struct {
	Context []int `yaml:"context"`
	Target  []int `yaml:"target"`
	// Label is optional; -1 or missing means unlabeled.
	Label *int `yaml:"label"`
}

// BatchFile is the YAML document read by -batch.
type BatchFile struct {
	Examples []Example `yaml:"examples"`
}

func loadBatch(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read batch %s", path)
	}
	var bf BatchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, errors.Wrapf(err, "decode batch %s", path)
	}
	if len(bf.Examples) == 0 {
		return nil, errors.Errorf("batch %s has no examples", path)
	}
	return &bf, nil
}

// Rows pads context and target rows to a common width each.
func (bf *BatchFile) Rows() (context, target [][]int) {
	context = make([][]int, len(bf.Examples))
	target = make([][]int, len(bf.Examples))
	for i, ex := range bf.Examples {
		context[i] = ex.Context
		target[i] = ex.Target
	}
	return pad(context), pad(target)
}

// Labels returns the labels, or nil unless every example has one.
func (bf *BatchFile) Labels() []int {
	labels := make([]int, len(bf.Examples))
	for i, ex := range bf.Examples {
		if ex.Label == nil || *ex.Label < 0 {
			return nil
		}
		labels[i] = *ex.Label
	}
	return labels
}

func pad(rows [][]int) [][]int {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = make([]int, width)
		copy(out[i], r)
		for j := len(r); j < width; j++ {
			out[i][j] = layers.Pad
		}
	}
	return out
}
