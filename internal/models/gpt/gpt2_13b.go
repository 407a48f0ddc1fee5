// Package gpt provides GPT model family cards.
package gpt

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// GPT2_13B is the 13 billion parameter GPT2 model.
var GPT2_13B = &models.Card{
	ID:          "gpt2_13b",
	DisplayName: "GPT2 13B",
	Family:      "gpt",
	ConfigType:  "GPT2Config",
	Params:      "13B",

	SeqLength:  2048,
	NumLayers:  40,
	NumHeads:   40,
	HiddenSize: 5120,
	VocabSize:  50257,

	// Pipeline layout: 4-way model parallel within a stage, 2 stages,
	// 16 micro batches to keep the pipeline full.
	RecommendedDevices: 8,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             1,
		ModelParallel:            4,
		PipelineStage:            2,
		MicroBatchNum:            16,
		VocabEmbDP:               true,
		GradientAggregationGroup: 4,
	},

	Converter: models.ConverterRef{
		Script:    "mindformers/models/gpt2/convert_weight.py",
		TorchArg:  "--torch_ckpt_path",
		OutputArg: "--mindspore_ckpt_path",
	},

	Image:       "swr.cn-central-221.ovaijisuan.com/mindformers/mindformers_dev:mindspore2.2.0",
	Description: "GPT2 13B causal language model for large-scale pretraining",
}

func init() {
	models.Register(GPT2_13B)
}
