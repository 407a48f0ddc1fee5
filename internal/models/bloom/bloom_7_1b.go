// Package bloom provides BLOOM model family cards.
package bloom

import (
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/models"
)

// Bloom7B is the 7.1 billion parameter multilingual BLOOM model.
var Bloom7B = &models.Card{
	ID:          "bloom_7.1b",
	DisplayName: "BLOOM 7.1B",
	Family:      "bloom",
	ConfigType:  "BloomConfig",
	Params:      "7.1B",

	SeqLength:  2048,
	NumLayers:  30,
	NumHeads:   32,
	HiddenSize: 4096,
	VocabSize:  250880,

	// The 250k multilingual vocabulary dominates memory, shard the
	// embedding across 8-way model parallel.
	RecommendedDevices: 8,
	DefaultParallel: config.ParallelConfig{
		DataParallel:             1,
		ModelParallel:            8,
		PipelineStage:            1,
		MicroBatchNum:            1,
		VocabEmbDP:               false,
		GradientAggregationGroup: 4,
	},

	Converter: models.ConverterRef{
		Script:    "mindformers/models/bloom/convert_weight.py",
		TorchArg:  "--torch_ckpt_path",
		OutputArg: "--mindspore_ckpt_path",
	},

	Image:       "swr.cn-central-221.ovaijisuan.com/mindformers/mindformers_dev:mindspore2.2.0",
	Description: "BLOOM 7.1B multilingual causal language model",
}

func init() {
	models.Register(Bloom7B)
}
