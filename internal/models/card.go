// Package models provides the training model registry.
//
// Each supported model is described by a Card holding its architecture
// hyperparameters, a recommended parallel layout, and the reference to
// its weight conversion script. Cards live in per-family subpackages
// (llama/, t5/, gpt/, bloom/) and register themselves at init time.
package models

import (
	"fmt"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/config"
)

// ConverterRef points at the weight conversion script shipped with a
// model family.
//
// Conversion scripts take a source checkpoint exported from another
// framework and write a MindSpore checkpoint. Families disagree on the
// source flag: some take a directory of shards, some a single file.
type ConverterRef struct {
	// Script is the conversion script path relative to the training
	// package root, e.g. "mindformers/models/llama/convert_weight.py".
	Script string

	// TorchArg is the source checkpoint flag, e.g. "--torch_ckpt_dir".
	TorchArg string

	// TorchIsDir is true when TorchArg expects a directory of shards
	// rather than a single checkpoint file.
	TorchIsDir bool

	// OutputArg is the output flag, e.g. "--mindspore_ckpt_path".
	OutputArg string
}

// Card is the registry entry for one trainable model.
type Card struct {
	// ID is the registry identifier, e.g. "llama_7b".
	ID string

	// DisplayName is the human-readable name, e.g. "LLaMA 7B".
	DisplayName string

	// Family groups related models, e.g. "llama".
	Family string

	// ConfigType is the architecture config type in generated trainer
	// files, e.g. "LlamaConfig".
	ConfigType string

	// Params is the approximate parameter count label, e.g. "6.7B".
	Params string

	// Architecture hyperparameters.
	SeqLength  int
	NumLayers  int
	NumHeads   int
	HiddenSize int
	VocabSize  int

	// RecommendedDevices is the device count the default parallel
	// layout was tuned for.
	RecommendedDevices int

	// DefaultParallel is the parallel layout used when the launch does
	// not override it, including the embedding sharding choice. Its
	// world size equals RecommendedDevices.
	DefaultParallel config.ParallelConfig

	// Converter references the family's weight conversion script.
	Converter ConverterRef

	// Image is the default container image for docker mode launches.
	Image string

	// Description is a short human-readable summary.
	Description string
}

// Validate checks a card for registration.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("model id cannot be empty")
	}
	if c.Family == "" {
		return fmt.Errorf("model %s must name a family", c.ID)
	}
	if c.NumLayers <= 0 || c.NumHeads <= 0 || c.HiddenSize <= 0 {
		return fmt.Errorf("model %s has incomplete architecture parameters", c.ID)
	}
	if c.SeqLength <= 0 || c.VocabSize <= 0 {
		return fmt.Errorf("model %s has incomplete tokenizer parameters", c.ID)
	}
	if c.RecommendedDevices <= 0 {
		return fmt.Errorf("model %s must recommend a device count", c.ID)
	}
	if got := c.DefaultParallel.WorldSize(); got != c.RecommendedDevices {
		return fmt.Errorf("model %s default parallel layout covers %d devices, expected %d",
			c.ID, got, c.RecommendedDevices)
	}
	return c.DefaultParallel.Validate(c.RecommendedDevices)
}

// TrainerConfig builds a complete trainer configuration for this card,
// scaled to deviceNum devices. When deviceNum matches the recommended
// count the card's default parallel layout is used, otherwise the
// layout falls back to pure data parallelism.
func (c *Card) TrainerConfig(deviceNum int) *config.TrainerConfig {
	tc := config.DefaultTrainerConfig()
	tc.Model.ModelConfig.Type = c.ConfigType
	tc.Model.ModelConfig.NumLayers = c.NumLayers
	tc.Model.ModelConfig.NumHeads = c.NumHeads
	tc.Model.ModelConfig.HiddenSize = c.HiddenSize
	tc.Model.ModelConfig.SeqLength = c.SeqLength
	tc.Model.ModelConfig.VocabSize = c.VocabSize

	if deviceNum == c.RecommendedDevices {
		tc.ParallelConfig = c.DefaultParallel
	} else {
		tc.ParallelConfig = config.DefaultParallelConfig()
		tc.ParallelConfig.DataParallel = deviceNum
		tc.ParallelConfig.VocabEmbDP = c.DefaultParallel.VocabEmbDP
	}
	if tc.ParallelConfig.PipelineStage > 1 || tc.ParallelConfig.ModelParallel > 1 {
		tc.Parallel.ParallelMode = config.ParallelModeSemiAuto
	}
	return tc
}

// Info projects the card into its API form.
func (c *Card) Info() api.ModelInfo {
	return api.ModelInfo{
		Name:        c.ID,
		Family:      c.Family,
		DisplayName: c.DisplayName,
		Params:      c.Params,
		SeqLength:   c.SeqLength,
		NumLayers:   c.NumLayers,
		HiddenSize:  c.HiddenSize,
		DefaultParallel: api.ParallelInfo{
			DataParallel:  c.DefaultParallel.DataParallel,
			ModelParallel: c.DefaultParallel.ModelParallel,
			PipelineStage: c.DefaultParallel.PipelineStage,
			MicroBatchNum: c.DefaultParallel.MicroBatchNum,
		},
		Description: c.Description,
	}
}

// String returns the id and parameter label, e.g. "llama_7b (6.7B)".
func (c *Card) String() string {
	return fmt.Sprintf("%s (%s)", c.ID, c.Params)
}
