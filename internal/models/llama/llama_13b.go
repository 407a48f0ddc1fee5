package llama

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// Llama13B is the 13 billion parameter LLaMA model.
var Llama13B = &models.Card{
	ID:          "llama_13b",
	DisplayName: "LLaMA 13B",
	Family:      "llama",
	ConfigType:  "LlamaConfig",
	Params:      "13B",

	SeqLength:  2048,
	NumLayers:  40,
	NumHeads:   40,
	HiddenSize: 5120,
	VocabSize:  32000,

	// Weights exceed single-device memory, shard across 4-way model
	// parallel with 2-way data parallel on one server.
	RecommendedDevices: 8,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             2,
		ModelParallel:            4,
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
	Description: "LLaMA 13B causal language model for pretraining and finetuning",
}

func init() {
	models.Register(Llama13B)
}
