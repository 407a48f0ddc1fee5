// Package llama provides LLaMA model family cards.
package llama

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// Llama7B is the 7 billion parameter LLaMA model.
var Llama7B = &models.Card{
	ID:          "llama_7b",
	DisplayName: "LLaMA 7B",
	Family:      "llama",
	ConfigType:  "LlamaConfig",
	Params:      "6.7B",

	SeqLength:  2048,
	NumLayers:  32,
	NumHeads:   32,
	HiddenSize: 4096,
	VocabSize:  32000,

	// Fits on a single 8-device server with pure data parallelism.
	RecommendedDevices: 8,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             8,
		ModelParallel:            1,
		PipelineStage:            1,
		MicroBatchNum:            1,
		VocabEmbDP:               true,
		GradientAggregationGroup: 4,
	},

	Converter: models.ConverterRef{
		Script:     "mindformers/models/llama/convert_weight.py",
		TorchArg:   "--torch_ckpt_dir",
		TorchIsDir: true,
		OutputArg:  "--mindspore_ckpt_path",
	},

	Image:       "swr.cn-central-221.ovaijisuan.com/mindformers/mindformers_dev:mindspore2.2.0",
	Description: "LLaMA 7B causal language model for pretraining and finetuning",
}

func init() {
	models.Register(Llama7B)
}
